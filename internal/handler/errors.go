package handler

import (
	"errors"
	"net/http"

	"doc-qa-go/internal/pipeline"
	"doc-qa-go/internal/service"

	"github.com/gin-gonic/gin"
)

// statusFor 把管道错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnsupportedFormat),
		errors.Is(err, pipeline.ErrEmptyDocument),
		errors.Is(err, pipeline.ErrEmptyQuestion),
		errors.Is(err, service.ErrAsyncDisabled):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrDocumentBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	code := statusFor(err)
	c.JSON(code, gin.H{"code": code, "message": err.Error(), "data": nil})
}

func respondOK(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, gin.H{"code": code, "message": message, "data": data})
}
