package media

import (
	"regexp"
	"strings"
)

var parenthesized = regexp.MustCompile(`\(([^)]+)\)`)

// Normalized 是标题清洗后的结果。
type Normalized struct {
	Title  string
	Artist string
	Extras []string
}

// NormalizeTitle 处理 "ARTIST - TITLE (Lyrics, Sub)" 形式的标题：
// 拆出艺人，并把第一组括号里的内容拆成 extras。
func NormalizeTitle(title, artist string) Normalized {
	out := Normalized{Title: title, Artist: artist}

	if strings.Contains(out.Title, " - ") {
		parts := strings.Split(out.Title, " - ")
		out.Artist = strings.TrimSpace(parts[0])
		out.Title = strings.TrimSpace(strings.Join(parts[1:], " - "))
	}

	if match := parenthesized.FindStringSubmatchIndex(out.Title); match != nil {
		inner := out.Title[match[2]:match[3]]
		for _, item := range strings.FieldsFunc(inner, func(r rune) bool { return r == '+' || r == ',' }) {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				out.Extras = append(out.Extras, trimmed)
			}
		}
		out.Title = strings.TrimSpace(out.Title[:match[0]] + out.Title[match[1]:])
	}

	return out
}
