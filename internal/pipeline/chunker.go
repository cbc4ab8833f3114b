package pipeline

import "strings"

const (
	// DefaultChunkSize 每个分块的字符预算。
	DefaultChunkSize = 500
	// DefaultChunkOverlap 从上一个分块尾部带入下一个分块的字符数。
	DefaultChunkOverlap = 50
)

// Chunker 按句子贪心地把文本装入带重叠的固定预算窗口。
// 长度一律按字符（rune）计算。
type Chunker struct {
	budget  int
	overlap int
}

// NewChunker 创建一个 Chunker，非法参数回退为默认值。
func NewChunker(budget, overlap int) *Chunker {
	if budget <= 0 {
		budget = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	return &Chunker{budget: budget, overlap: overlap}
}

// Chunk 对原始文本执行 Normalize -> SplitSentences -> Build。
func (c *Chunker) Chunk(text string) []string {
	return c.Build(SplitSentences(Normalize(text)))
}

// Build 把句子序列装入分块。
//
// 累加器非空且加入当前句子会超出预算时，先输出累加器（去首尾空白），
// 再以累加器末尾 overlap 个字符（不足则整个累加器）+ 空格 + 当前句子作为新的累加器；
// 否则直接追加 空格 + 句子。单个超长句子不会被截断，因此分块可能超过预算。
// 重叠按字符截取，可能从单词中间开始。
func (c *Chunker) Build(sentences []string) []string {
	var chunks []string
	var acc []rune

	emit := func() {
		if chunk := strings.TrimSpace(string(acc)); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, sentence := range sentences {
		sr := []rune(sentence)
		if len(acc) > 0 && len(acc)+len(sr) > c.budget {
			emit()

			tail := acc
			if len(acc) > c.overlap {
				tail = acc[len(acc)-c.overlap:]
			}
			next := make([]rune, 0, len(tail)+1+len(sr))
			next = append(next, tail...)
			next = append(next, ' ')
			acc = append(next, sr...)
			continue
		}
		acc = append(acc, ' ')
		acc = append(acc, sr...)
	}
	emit()
	return chunks
}
