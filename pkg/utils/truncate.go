package utils

import (
	"strings"
	"unicode"
)

// Truncate 将字符串截断到 count 个字符，并补全被截断的单词后追加 delimiter。
// count 为负数或不小于字符串长度时原样返回。
func Truncate(s string, count int, delimiter string) string {
	runes := []rune(s)
	if count < 0 || count >= len(runes) {
		return s
	}

	end := count
	for end < len(runes) && !unicode.IsSpace(runes[end]) {
		end++
	}
	if end == len(runes) {
		return s
	}

	truncated := strings.TrimRightFunc(string(runes[:end]), unicode.IsSpace)
	return truncated + delimiter
}
