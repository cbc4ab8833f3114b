package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"doc-qa-go/internal/service"
	"doc-qa-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// maxPendingQuestions 单个连接上排队等待回答的问题上限，超出的问题直接拒绝。
const maxPendingQuestions = 8

// chatMessage 是客户端发来的消息：{"question": "...", "top_k": 3} 或 {"type": "stop"}。
type chatMessage struct {
	Type     string `json:"type"`
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

// ChatHandler 负责处理 WebSocket 聊天连接。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// lockedConn 串行化对同一连接的写入，gorilla/websocket 不支持并发写。
type lockedConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (l *lockedConn) WriteMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteMessage(messageType, data)
}

// Handle 处理一个传入的 WebSocket 连接。
// 读取在单独的 goroutine 中进行，因此回答流式输出期间也能收到停止指令。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立, remote: %s", c.ClientIP())

	ws := &lockedConn{conn: conn}
	var stop atomic.Bool
	questions := make(chan chatMessage, maxPendingQuestions)

	go func() {
		defer close(questions)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
				return
			}
			var msg chatMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				// 兼容纯文本问题
				msg = chatMessage{Question: string(message)}
			}
			if msg.Type == "stop" {
				log.Info("收到停止指令，正在中断流式响应...")
				stop.Store(true)
				b, _ := json.Marshal(map[string]interface{}{
					"type":      "stop",
					"message":   "响应已停止",
					"timestamp": time.Now().UnixMilli(),
				})
				_ = ws.WriteMessage(websocket.TextMessage, b)
				continue
			}
			// 读循环不能阻塞，否则排队已满时收不到停止指令
			select {
			case questions <- msg:
			default:
				log.Warnf("WebSocket 待处理问题已满(%d)，拒绝问题: %s", maxPendingQuestions, msg.Question)
				service.SendError(ws, "too many pending questions, please wait for the current answer")
			}
		}
	}()

	ctx := c.Request.Context()
	for msg := range questions {
		stop.Store(false)
		log.Infof("收到 WebSocket 问题: %s", msg.Question)
		if err := h.chatService.StreamResponse(ctx, msg.Question, msg.TopK, ws, stop.Load); err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			service.SendError(ws, err.Error())
		}
	}
}
