package pipeline

import (
	"math"
	"strings"

	"doc-qa-go/internal/model"
)

const (
	// DefaultTopK 查询默认返回的分块数。
	DefaultTopK = 3
	// DefaultMaxTopK 单次查询允许的最大分块数，超出的请求会被截断到该值。
	DefaultMaxTopK = 50
	// DefaultPreviewLen 来源预览的最大字符数。
	DefaultPreviewLen = 150
	// DefaultFallbackLen 降级回答中引用上下文的最大字符数。
	DefaultFallbackLen = 300

	previewEllipsis = "..."
	fallbackPrefix  = "Based on the document: "
	// NoResultAnswer 索引没有任何命中时的固定回答。
	NoResultAnswer = "No relevant information found in documents."
)

// ScoreHits 把索引返回的近邻结果转换为带分数的检索结果。
//
// 分数 = 1 - 余弦距离，越大越相关。结果保持索引给出的顺序（最优在前），不重新排序，
// 最多保留 topK 条；没有命中时返回空切片。
// 距离度量假定为 [0, 2] 内的余弦距离，换用其它度量时需要调整这里的换算。
func ScoreHits(hits []model.SearchHit, topK int) []model.RetrievalResult {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	results := make([]model.RetrievalResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, model.RetrievalResult{
			ChunkID:    hit.Chunk.ID,
			DocumentID: hit.Chunk.DocumentID,
			FileName:   hit.Chunk.FileName,
			ChunkIndex: hit.Chunk.Index,
			Text:       hit.Chunk.Text,
			Score:      1 - hit.Distance,
		})
	}
	return results
}

// Present 生成对外展示的来源列表：文本截断为预览，分数保留三位小数。
func Present(results []model.RetrievalResult, previewLen int) []model.Source {
	sources := make([]model.Source, 0, len(results))
	for i, r := range results {
		sources = append(sources, model.Source{
			Rank:       i + 1,
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			FileName:   r.FileName,
			Text:       Preview(r.Text, previewLen),
			Score:      roundScore(r.Score),
		})
	}
	return sources
}

// Preview 截取前 n 个字符，被截断时追加省略号。
func Preview(text string, n int) string {
	if n <= 0 {
		n = DefaultPreviewLen
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + previewEllipsis
}

// BuildContext 按排名顺序拼接完整分块文本，段落之间以空行分隔。
func BuildContext(results []model.RetrievalResult) string {
	texts := make([]string, 0, len(results))
	for _, r := range results {
		texts = append(texts, r.Text)
	}
	return strings.Join(texts, "\n\n")
}

// FallbackAnswer 在回答生成不可用时，用上下文开头的片段作为降级回答。
func FallbackAnswer(contextText string, n int) string {
	if n <= 0 {
		n = DefaultFallbackLen
	}
	runes := []rune(contextText)
	if len(runes) > n {
		runes = runes[:n]
	}
	return fallbackPrefix + string(runes)
}

func roundScore(score float64) float64 {
	return math.Round(score*1000) / 1000
}
