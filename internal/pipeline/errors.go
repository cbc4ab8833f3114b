package pipeline

import "errors"

// 管道对外暴露的错误类型，调用方通过 errors.Is 区分。
// 外部协作方返回的错误会以 "%w: ...: %w" 的形式包装，同时保留原始原因。
var (
	// ErrUnsupportedFormat 文件扩展名既不是 .pdf 也不是 .txt，处理前即被拒绝。
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrEmptyDocument 文本提取成功但没有可用内容。
	ErrEmptyDocument = errors.New("empty document")
	ErrExtraction    = errors.New("text extraction failed")
	ErrEmbedding     = errors.New("embedding failed")
	ErrIndex         = errors.New("vector index operation failed")
	ErrStorage       = errors.New("file storage failed")
	ErrMetadata      = errors.New("metadata store operation failed")

	ErrDocumentNotFound = errors.New("document not found")
	ErrEmptyQuestion    = errors.New("question is empty")
	// ErrDocumentBusy 同一文档已有进行中的变更。
	ErrDocumentBusy = errors.New("document is being modified")
)
