package pipeline

import (
	"strings"
	"unicode"
)

// 除字母、数字、下划线、空白外允许保留的标点。
const allowedPunct = ".,!?;:()-"

// Normalize 清洗提取出的原始文本：
// 删除不允许的字符，把任意连续空白（含换行、制表符）折叠为单个空格，并去掉首尾空白。
// 先删字符再折叠空白，保证 Normalize(Normalize(s)) == Normalize(s)。
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	pendingSpace := false
	for _, r := range text {
		switch {
		case isSpace(r):
			pendingSpace = true
		case isAllowedRune(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isSpace 在 unicode.IsSpace 之外，把信息分隔符 U+001C..U+001F 也视为空白。
func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}

func isAllowedRune(r rune) bool {
	if r == unicode.ReplacementChar {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_' || strings.ContainsRune(allowedPunct, r)
}
