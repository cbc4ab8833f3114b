package model

// Chunk 是文档中一段有界的连续文本，独立向量化并写入向量索引。
type Chunk struct {
	ID         string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	FileName   string `json:"filename"`
	Index      int    `json:"chunk_index"`
	Text       string `json:"text_content"`
}

// SearchHit 是向量索引返回的一条近邻结果。
// Distance 为余弦距离，取值范围 [0, 2]，越小越相关。
type SearchHit struct {
	Chunk    Chunk
	Distance float64
}
