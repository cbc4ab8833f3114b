package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"doc-qa-go/internal/model"
	"doc-qa-go/internal/pipeline"
	"doc-qa-go/pkg/llm"
	"doc-qa-go/pkg/log"

	"github.com/gorilla/websocket"
)

// Retriever 是问答服务依赖的检索与降级能力。
type Retriever interface {
	Retrieve(ctx context.Context, question string, topK int) ([]model.RetrievalResult, error)
	AnswerQuery(ctx context.Context, question string, topK int) (*model.QueryResponse, error)
	Sources(results []model.RetrievalResult) []model.Source
	Fallback(contextText string) string
}

// AnswerStreamer 以流式方式生成回答。
type AnswerStreamer interface {
	StreamAnswer(ctx context.Context, question, contextText string, writer llm.MessageWriter) (string, error)
}

// ChatService 定义了问答操作的接口。
type ChatService interface {
	Query(ctx context.Context, question string, topK int) (*model.QueryResponse, error)
	StreamResponse(ctx context.Context, question string, topK int, ws llm.MessageWriter, shouldStop func() bool) error
}

type chatService struct {
	retriever Retriever
	streamer  AnswerStreamer
}

// NewChatService 创建一个新的 ChatService 实例。streamer 为 nil 时流式接口直接返回降级回答。
func NewChatService(retriever Retriever, streamer AnswerStreamer) ChatService {
	return &chatService{retriever: retriever, streamer: streamer}
}

// Query 执行一次完整的非流式问答。
func (s *chatService) Query(ctx context.Context, question string, topK int) (*model.QueryResponse, error) {
	return s.retriever.AnswerQuery(ctx, question, topK)
}

// StreamResponse 检索上下文并把回答以 {"chunk": "..."} 分块推送，
// 随后依次发送来源列表与完成通知。
func (s *chatService) StreamResponse(ctx context.Context, question string, topK int, ws llm.MessageWriter, shouldStop func() bool) error {
	results, err := s.retriever.Retrieve(ctx, question, topK)
	if err != nil {
		return err
	}

	interceptor := &wsWriterInterceptor{conn: ws, writer: &strings.Builder{}, shouldStop: shouldStop}
	degraded := false
	switch {
	case len(results) == 0:
		if err := interceptor.WriteMessage(websocket.TextMessage, []byte(pipeline.NoResultAnswer)); err != nil {
			return err
		}
	default:
		contextText := pipeline.BuildContext(results)
		streamed := false
		if s.streamer != nil {
			_, err = s.streamer.StreamAnswer(ctx, question, contextText, interceptor)
			streamed = err == nil
			if err != nil {
				log.Warnw("[ChatService] 流式回答生成失败, 使用降级回答", "error", err)
			}
		}
		// 已经推送过部分内容时不再追加降级回答
		if !streamed && interceptor.writer.Len() == 0 {
			degraded = true
			if err := interceptor.WriteMessage(websocket.TextMessage, []byte(s.retriever.Fallback(contextText))); err != nil {
				return err
			}
		}
	}

	sendSources(ws, s.retriever.Sources(results), degraded)
	sendCompletion(ws)
	return nil
}

// wsWriterInterceptor 是对 websocket.Conn 的封装，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn       llm.MessageWriter
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

func sendSources(ws llm.MessageWriter, sources []model.Source, degraded bool) {
	notif := map[string]interface{}{
		"type":     "sources",
		"sources":  sources,
		"degraded": degraded,
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws llm.MessageWriter) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}

// SendError 推送错误消息，随后同样发送完成通知。
func SendError(ws llm.MessageWriter, message string) {
	b, _ := json.Marshal(map[string]string{"error": message})
	_ = ws.WriteMessage(websocket.TextMessage, b)
	sendCompletion(ws)
}
