package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Root 返回服务信息。
func Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Document Q&A RAG System",
		"version": "1.0",
		"health":  "/health",
	})
}

// Health 用于存活检查。
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
