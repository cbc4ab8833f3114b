package model

// EsChunk 定义了存储在 Elasticsearch 中的分块文档结构。
type EsChunk struct {
	ChunkID     string    `json:"chunk_id"`
	DocumentID  string    `json:"document_id"`
	FileName    string    `json:"filename"`
	ChunkIndex  int       `json:"chunk_index"`
	TextContent string    `json:"text_content"`
	Vector      []float32 `json:"vector"` // 文本内容的向量表示
}

// NewEsChunk 把分块与其向量组装为索引文档。
func NewEsChunk(c Chunk, vector []float32) EsChunk {
	return EsChunk{
		ChunkID:     c.ID,
		DocumentID:  c.DocumentID,
		FileName:    c.FileName,
		ChunkIndex:  c.Index,
		TextContent: c.Text,
		Vector:      vector,
	}
}

// Chunk 还原为管道内部的分块结构。
func (d EsChunk) Chunk() Chunk {
	return Chunk{
		ID:         d.ChunkID,
		DocumentID: d.DocumentID,
		FileName:   d.FileName,
		Index:      d.ChunkIndex,
		Text:       d.TextContent,
	}
}
