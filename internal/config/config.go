// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// 向量索引后端
const (
	IndexBackendElasticsearch = "elasticsearch"
	IndexBackendPGVector      = "pgvector"
	IndexBackendMemory        = "memory"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	PGVector      PGVectorConfig      `mapstructure:"pgvector"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Watcher       WatcherConfig       `mapstructure:"watcher"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port      string `mapstructure:"port"`
	Mode      string `mapstructure:"mode"`
	UploadDir string `mapstructure:"upload_dir"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。为空地址时使用进程内锁。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时不启用异步导入。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// PGVectorConfig 存储 pgvector 后端的配置。
type PGVectorConfig struct {
	DSN       string `mapstructure:"dsn"`
	TableName string `mapstructure:"table_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。Endpoint 为空时原始文件仅保留在本地。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	Dimensions        int     `mapstructure:"dimensions"`
	BatchSize         int     `mapstructure:"batch_size"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    int                 `mapstructure:"timeout_seconds"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// PipelineConfig 配置切块与检索参数。
type PipelineConfig struct {
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	TopK         int    `mapstructure:"top_k"`
	MaxTopK      int    `mapstructure:"max_top_k"`
	PreviewLen   int    `mapstructure:"preview_len"`
	FallbackLen  int    `mapstructure:"fallback_len"`
	IndexBackend string `mapstructure:"index_backend"`
}

// WatcherConfig 配置收件目录监听。Dir 为空时不启用。
type WatcherConfig struct {
	Dir string `mapstructure:"dir"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}

// Load 读取 .env（若存在）与 YAML 配置文件，环境变量 DOCQA_* 覆盖文件中的值。
func Load(configPath string) (*Config, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DOCQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.upload_dir", "uploads")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.group_id", "doc-qa-go-consumer")
	v.SetDefault("elasticsearch.index_name", "doc_chunks")
	v.SetDefault("pgvector.table_name", "doc_chunks")
	v.SetDefault("pipeline.chunk_size", 500)
	v.SetDefault("pipeline.chunk_overlap", 50)
	v.SetDefault("pipeline.top_k", 3)
	v.SetDefault("pipeline.max_top_k", 50)
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("llm.timeout_seconds", 30)
	v.SetDefault("llm.generation.temperature", 0.3)
	v.SetDefault("llm.generation.max_tokens", 500)
	// 部署环境里常见的无前缀密钥，与原有的 .env 约定保持一致
	_ = v.BindEnv("llm.api_key", "DOCQA_LLM_API_KEY", "GROQ_API_KEY")
	_ = v.BindEnv("embedding.api_key", "DOCQA_EMBEDDING_API_KEY", "OPENAI_API_KEY")
}

// Validate 为缺省的管道参数填充默认值，并校验索引后端。
func (c *Config) Validate() error {
	p := &c.Pipeline
	if p.ChunkSize <= 0 {
		p.ChunkSize = 500
	}
	if p.ChunkOverlap < 0 {
		p.ChunkOverlap = 50
	}
	if p.MaxTopK <= 0 {
		p.MaxTopK = 50
	}
	if p.TopK <= 0 {
		p.TopK = 3
	}
	if p.TopK > p.MaxTopK {
		return errors.New("pipeline.top_k 不能大于 pipeline.max_top_k")
	}
	if p.PreviewLen <= 0 {
		p.PreviewLen = 150
	}
	if p.FallbackLen <= 0 {
		p.FallbackLen = 300
	}
	switch p.IndexBackend {
	case "":
		p.IndexBackend = IndexBackendElasticsearch
	case IndexBackendElasticsearch, IndexBackendPGVector, IndexBackendMemory:
	default:
		return fmt.Errorf("未知的向量索引后端: %q", p.IndexBackend)
	}
	if p.ChunkOverlap >= p.ChunkSize {
		return errors.New("pipeline.chunk_overlap 必须小于 pipeline.chunk_size")
	}
	return nil
}
