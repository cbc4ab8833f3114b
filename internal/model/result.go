package model

// RetrievalResult 是一次查询中按相关度排好序的分块，保留完整文本与原始精度的分数。
type RetrievalResult struct {
	ChunkID    string
	DocumentID string
	FileName   string
	ChunkIndex int
	Text       string
	Score      float64
}

// Source 是返回给调用方的来源条目：文本为截断预览，分数保留三位小数。
type Source struct {
	Rank       int     `json:"rank"`
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id,omitempty"`
	FileName   string  `json:"filename,omitempty"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// QueryResponse 是问答接口的最终响应。
type QueryResponse struct {
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Degraded bool     `json:"degraded,omitempty"`
}

// UploadResult 是文档处理成功后的返回值，ChunkIDs 与分块产生顺序一致。
type UploadResult struct {
	DocumentID string    `json:"document_id"`
	FileName   string    `json:"filename"`
	ChunkIDs   []string  `json:"chunk_ids"`
	UploadTime LocalTime `json:"upload_time"`
}
