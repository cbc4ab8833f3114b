// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"doc-qa-go/internal/config"
	"doc-qa-go/internal/handler"
	"doc-qa-go/internal/middleware"
	"doc-qa-go/internal/pipeline"
	"doc-qa-go/internal/repository"
	"doc-qa-go/internal/service"
	"doc-qa-go/pkg/database"
	"doc-qa-go/pkg/embedding"
	"doc-qa-go/pkg/es"
	"doc-qa-go/pkg/kafka"
	"doc-qa-go/pkg/llm"
	"doc-qa-go/pkg/lock"
	"doc-qa-go/pkg/log"
	"doc-qa-go/pkg/memindex"
	"doc-qa-go/pkg/pgindex"
	"doc-qa-go/pkg/storage"
	"doc-qa-go/pkg/tika"
	"doc-qa-go/pkg/watcher"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

func main() {
	configPath := "./configs/config.yaml"
	if p := os.Getenv("DOCQA_CONFIG"); p != "" {
		configPath = p
	}

	// 1. 初始化配置
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 3. 初始化元数据库、Redis、向量索引与文件存储
	db, err := database.InitMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		log.Fatal("MySQL 初始化失败", err)
	}

	var rdb *redis.Client
	var locker lock.Locker
	if cfg.Database.Redis.Addr != "" {
		rdb, err = database.InitRedis(rootCtx, cfg.Database.Redis)
		if err != nil {
			log.Fatal("Redis 初始化失败", err)
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, 0)
	} else {
		log.Warnf("未配置 Redis, 使用进程内文档锁")
	}

	index, closeIndex, err := initVectorIndex(rootCtx, cfg)
	if err != nil {
		log.Fatal("向量索引初始化失败", err)
	}
	defer closeIndex()

	var fileStore pipeline.FileStore = storage.NewLocalStore()
	if cfg.MinIO.Endpoint != "" {
		minioStore, err := storage.InitMinIO(rootCtx, cfg.MinIO)
		if err != nil {
			log.Fatal("MinIO 初始化失败", err)
		}
		fileStore = minioStore
	}

	// 4. 初始化外部服务客户端
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	if cfg.LLM.APIKey == "" {
		log.Warnf("未配置 LLM API Key, 所有回答将使用降级逻辑")
	}

	// 5. 初始化文件处理管道 (Processor)
	processor := pipeline.NewProcessor(
		tikaClient,
		embeddingClient,
		index,
		repository.NewDocumentRepository(db),
		fileStore,
		llmClient,
		locker,
		cfg.Pipeline,
	)

	// 6. 初始化 Service (依赖注入)
	var producer *kafka.Producer
	var enqueuer service.TaskEnqueuer
	if cfg.Kafka.Brokers != "" {
		producer = kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		enqueuer = producer
	}
	documentService := service.NewDocumentService(processor, enqueuer, cfg.Server.UploadDir)
	chatService := service.NewChatService(processor, llmClient)

	// 7. 启动后台任务：Kafka 消费者与收件目录监听
	var background sync.WaitGroup
	if producer != nil {
		var attempts kafka.AttemptCounter
		if rdb != nil {
			attempts = kafka.NewRedisAttempts(rdb)
		}
		consumer := kafka.NewConsumer(cfg.Kafka, documentService, attempts)
		background.Add(1)
		go func() {
			defer background.Done()
			if err := consumer.Start(rootCtx); err != nil {
				log.Error("Kafka 消费者异常退出", err)
			}
		}()
	}
	if cfg.Watcher.Dir != "" {
		background.Add(1)
		go func() {
			defer background.Done()
			runWatcher(rootCtx, cfg.Watcher.Dir, documentService)
		}()
	}

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())
	registerRoutes(r, documentService, chatService)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止后台任务，等待进行中的导入结束
	cancelRoot()
	background.Wait()
	log.Info("服务已优雅关闭")
}

func registerRoutes(r *gin.Engine, documentService service.DocumentService, chatService service.ChatService) {
	r.GET("/", handler.Root)
	r.GET("/health", handler.Health)

	apiV1 := r.Group("/api/v1")
	{
		documentHandler := handler.NewDocumentHandler(documentService)
		documents := apiV1.Group("/documents")
		{
			documents.POST("", documentHandler.Upload)
			documents.GET("", documentHandler.ListDocuments)
			documents.GET("/:id", documentHandler.GetDocument)
			documents.DELETE("/:id", documentHandler.DeleteDocument)
		}

		apiV1.POST("/query", handler.NewQueryHandler(chatService).Query)
		// Chat 路由 (WebSocket)
		apiV1.GET("/chat", handler.NewChatHandler(chatService).Handle)
	}
}

// initVectorIndex 按配置选择向量索引后端，返回的 close 函数在退出时调用。
func initVectorIndex(ctx context.Context, cfg config.Config) (pipeline.VectorIndex, func(), error) {
	noop := func() {}
	switch cfg.Pipeline.IndexBackend {
	case config.IndexBackendPGVector:
		idx, err := pgindex.Open(ctx, cfg.PGVector, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, noop, err
		}
		return idx, func() { _ = idx.Close() }, nil
	case config.IndexBackendMemory:
		log.Warnf("使用内存向量索引, 重启后索引内容会丢失")
		return memindex.New(), noop, nil
	default:
		idx, err := es.InitES(ctx, cfg.Elasticsearch, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, noop, err
		}
		return idx, noop, nil
	}
}

// runWatcher 先导入收件目录中已有的文件，再持续监听新文件。
func runWatcher(ctx context.Context, dir string, ingester watcher.Ingester) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warnf("收件目录 '%s' 不可用，跳过监听: %v", dir, err)
		return
	}
	w := watcher.New(dir, pipeline.SupportedExtensions, ingester)
	if _, err := w.ImportExisting(ctx); err != nil {
		log.Warnf("导入收件目录现有文件失败: %v", err)
	}
	if err := w.Run(ctx); err != nil {
		log.Error("收件目录监听异常退出", err)
	}
}
