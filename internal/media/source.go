package media

import (
	"encoding/base64"
	"strings"
)

// originRules 按顺序匹配，x.com 等短域名放在更具体的规则之后。
var originRules = []struct {
	source  string
	needles []string
}{
	{"youtube", []string{"youtube.com", "youtu.be"}},
	{"instagram", []string{"instagram.com"}},
	{"vimeo", []string{"vimeo.com"}},
	{"reddit", []string{"reddit.com"}},
	{"telegram", []string{"t.me"}},
	{"x", []string{"twitter.com", "x.com"}},
	{"facebook", []string{"facebook.com", "fb.watch"}},
	{"pinterest", []string{"pinterest."}},
	{"amino", []string{"aminoapps.com"}},
	{"blogger", []string{"blogspot.", "blogger.com"}},
	{"twitch", []string{"twitch.tv"}},
	{"kick", []string{"kick.com"}},
	{"snapchat", []string{"snapchat.com"}},
	{"qq", []string{"qq.com"}},
	{"threads", []string{"threads.net"}},
	{"vk", []string{"vk.com"}},
	{"4chan", []string{"4chan.org"}},
	{"mega", []string{"mega.nz", "mega.co.nz"}},
}

// DetectSource 基于子串匹配推断平台标记，未命中时返回 generic。
func DetectSource(rawURL string) string {
	u := strings.ToLower(rawURL)
	for _, rule := range originRules {
		for _, needle := range rule.needles {
			if strings.Contains(u, needle) {
				return rule.source
			}
		}
	}
	return SourceGeneric
}

// SourceID 返回 URL 的去重键（标准 base64），仅用于去重，从不用作文件名。
func SourceID(rawURL string) string {
	return base64.StdEncoding.EncodeToString([]byte(rawURL))
}
