package report

import (
	"regexp"
	"strings"
)

// trailingCommaPattern matches trailing commas before ] or }.
var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// ExtractJSON returns the first balanced {...} block in content, skipping
// braces inside string literals. It returns "" when no block closes.
func ExtractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	for start >= 0 {
		if end := matchBrace(content, start); end > 0 {
			return content[start : end+1]
		}
		next := strings.IndexByte(content[start+1:], '{')
		if next < 0 {
			return ""
		}
		start += next + 1
	}
	return ""
}

// matchBrace returns the index of the brace closing the one at open, or -1.
func matchBrace(s string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// cleanJSON removes trailing commas, which models commonly emit.
func cleanJSON(raw string) string {
	return trailingCommaPattern.ReplaceAllString(raw, "$1")
}
