package handler

import (
	"net/http"

	"doc-qa-go/internal/service"
	"doc-qa-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// QueryRequest 是问答接口的请求体。top_k 缺省或非正数时使用配置的默认值。
type QueryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

// QueryHandler 结构体定义了问答相关的处理器。
type QueryHandler struct {
	chatService service.ChatService
}

// NewQueryHandler 创建一个新的 QueryHandler 实例。
func NewQueryHandler(chatService service.ChatService) *QueryHandler {
	return &QueryHandler{chatService: chatService}
}

// Query 检索相关分块并返回回答与来源。
func (h *QueryHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}
	log.Infof("[QueryHandler] 收到问答请求, question: %s, topK: %d", req.Question, req.TopK)

	resp, err := h.chatService.Query(c.Request.Context(), req.Question, req.TopK)
	if err != nil {
		log.Errorf("[QueryHandler] 问答失败, error: %v", err)
		respondError(c, err)
		return
	}
	log.Infof("[QueryHandler] 问答完成, 来源数: %d, degraded: %t", len(resp.Sources), resp.Degraded)
	respondOK(c, http.StatusOK, "success", resp)
}
