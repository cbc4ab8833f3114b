// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"doc-qa-go/internal/config"
	"doc-qa-go/pkg/log"
	"doc-qa-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 同一任务最多处理的次数，用尽后提交 offset 放弃该任务。
const maxAttempts = 3

// defaultRetryBackoff 第 n 次失败后等待 n 倍该时长再重试。
const defaultRetryBackoff = 2 * time.Second

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	ProcessIngest(ctx context.Context, task tasks.IngestTask) error
}

// Producer 发送导入任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: &kafka.Writer{
		Addr:     kafka.TCP(brokers(cfg)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}}
}

// Enqueue 发送一个导入任务到 Kafka，以 TaskID 作为消息 key。
func (p *Producer) Enqueue(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.TaskID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// AttemptCounter 记录任务已经处理过的次数，Redis 实现可跨进程重启保留。
type AttemptCounter interface {
	Incr(ctx context.Context, taskID string) (int64, error)
	Reset(ctx context.Context, taskID string)
}

// RedisAttempts 使用 Redis 计数失败次数，计数 24 小时后过期。
type RedisAttempts struct {
	rdb *redis.Client
}

func NewRedisAttempts(rdb *redis.Client) *RedisAttempts {
	return &RedisAttempts{rdb: rdb}
}

func attemptsKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}

func (a *RedisAttempts) Incr(ctx context.Context, taskID string) (int64, error) {
	key := attemptsKey(taskID)
	attempts, err := a.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = a.rdb.Expire(ctx, key, 24*time.Hour).Err()
	return attempts, nil
}

func (a *RedisAttempts) Reset(ctx context.Context, taskID string) {
	_ = a.rdb.Del(ctx, attemptsKey(taskID)).Err()
}

// LocalAttempts 是进程内的失败计数，用于未配置 Redis 的单机部署。
type LocalAttempts struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewLocalAttempts() *LocalAttempts {
	return &LocalAttempts{counts: make(map[string]int64)}
}

func (a *LocalAttempts) Incr(_ context.Context, taskID string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[taskID]++
	return a.counts[taskID], nil
}

func (a *LocalAttempts) Reset(_ context.Context, taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counts, taskID)
}

// Consumer 消费导入任务并交给 TaskProcessor 同步处理。
// 分区内的 offset 只能顺序提交，所以失败的任务在当前消息上就地重试，而不是留给 Kafka 重投。
type Consumer struct {
	cfg       config.KafkaConfig
	processor TaskProcessor
	attempts  AttemptCounter
	backoff   time.Duration
}

// NewConsumer 创建消费者，attempts 为 nil 时使用进程内计数。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	if attempts == nil {
		attempts = NewLocalAttempts()
	}
	return &Consumer{cfg: cfg, processor: processor, attempts: attempts, backoff: defaultRetryBackoff}
}

// Start 启动消费循环，直到 ctx 取消。
func (c *Consumer) Start(ctx context.Context) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(c.cfg),
		Topic:    c.cfg.Topic,
		GroupID:  c.cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.cfg.Topic)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("Kafka 消费者已停止")
				return nil
			}
			log.Error("从 Kafka 读取消息失败", err)
			return err
		}
		log.Infof("收到 Kafka 消息: offset %d", m.Offset)

		if c.Handle(ctx, m.Value) {
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}
}

// Handle 处理一条消息，失败时按退避间隔重试，最多 maxAttempts 次。
// 返回是否应当提交 offset；只有 ctx 在重试等待中结束时返回 false，消息留待下次消费。
func (c *Consumer) Handle(ctx context.Context, value []byte) bool {
	var task tasks.IngestTask
	if err := json.Unmarshal(value, &task); err != nil || task.FilePath == "" {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		return true
	}

	for attempt := 1; ; attempt++ {
		n, err := c.attempts.Incr(ctx, task.TaskID)
		if err != nil {
			log.Warnf("记录导入任务处理次数失败, 使用本地计数: TaskID=%s, Error: %v", task.TaskID, err)
			n = int64(attempt)
		}
		if n > maxAttempts {
			// 上一个进程已经用尽重试次数但未来得及提交
			log.Errorf("导入任务已达到最大处理次数(%d)，跳过: TaskID=%s", maxAttempts, task.TaskID)
			c.attempts.Reset(ctx, task.TaskID)
			return true
		}

		log.Infof("开始处理导入任务: TaskID=%s, FileName=%s, 第 %d 次", task.TaskID, task.FileName, n)
		err = c.processor.ProcessIngest(ctx, task)
		if err == nil {
			log.Infof("导入任务处理成功: TaskID=%s", task.TaskID)
			c.attempts.Reset(ctx, task.TaskID)
			return true
		}
		log.Errorf("处理导入任务失败: TaskID=%s, 第 %d 次, Error: %v", task.TaskID, n, err)
		if n >= maxAttempts {
			log.Errorf("导入任务多次失败(>=%d)，提交 offset 终止重试: TaskID=%s", maxAttempts, task.TaskID)
			c.attempts.Reset(ctx, task.TaskID)
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.backoff * time.Duration(n)):
		}
	}
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
