package pipeline

import (
	"strings"
	"unicode"
)

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// SplitSentences 在 "句末标点 + 至少一个空白" 处切分文本。
// 标点保留在前一句末尾，用于切分的空白被丢弃；空片段会被过滤。
// 没有句末标点的文本整体作为一句返回。
func SplitSentences(text string) []string {
	runes := []rune(text)
	sentences := make([]string, 0, len(runes)/40+1)

	appendSentence := func(fragment []rune) {
		if s := strings.TrimSpace(string(fragment)); s != "" {
			sentences = append(sentences, s)
		}
	}

	start := 0
	for i := 0; i < len(runes)-1; i++ {
		if !isTerminal(runes[i]) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		appendSentence(runes[start : i+1])

		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		appendSentence(runes[start:])
	}
	return sentences
}
