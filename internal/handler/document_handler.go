// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strconv"

	"doc-qa-go/internal/service"
	"doc-qa-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// Upload 处理 multipart 上传（字段名 file）。?async=true 时投递 Kafka 任务并返回 202。
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "未能获取上传的文件", "data": nil})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无法读取上传的文件", "data": nil})
		return
	}
	defer file.Close()

	log.Infof("[DocumentHandler] 收到上传请求, FileName: %s, Size: %d", fileHeader.Filename, fileHeader.Size)

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		taskID, err := h.docService.UploadAsync(c.Request.Context(), fileHeader.Filename, file)
		if err != nil {
			log.Warnf("[DocumentHandler] 投递导入任务失败, FileName: %s, Error: %v", fileHeader.Filename, err)
			respondError(c, err)
			return
		}
		respondOK(c, http.StatusAccepted, "文档已进入处理队列", gin.H{"task_id": taskID, "filename": fileHeader.Filename})
		return
	}

	result, err := h.docService.Upload(c.Request.Context(), fileHeader.Filename, file)
	if err != nil {
		log.Warnf("[DocumentHandler] 上传处理失败, FileName: %s, Error: %v", fileHeader.Filename, err)
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Document uploaded successfully", gin.H{
		"document_id": result.DocumentID,
		"filename":    result.FileName,
		"chunks":      len(result.ChunkIDs),
		"upload_time": result.UploadTime,
	})
}

// ListDocuments 按上传时间倒序列出全部文档。
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	docs, err := h.docService.ListDocuments(c.Request.Context())
	if err != nil {
		log.Error("ListDocuments: failed", err)
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "获取文档列表成功", gin.H{"count": len(docs), "documents": docs})
}

// GetDocument 返回单个文档的元数据。
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	doc, err := h.docService.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "success", doc)
}

// DeleteDocument 处理删除文档的请求。
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	id := c.Param("id")
	if err := h.docService.DeleteDocument(c.Request.Context(), id); err != nil {
		log.Warnf("DeleteDocument: failed for id %s, err: %v", id, err)
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Document deleted", gin.H{"id": id})
}
