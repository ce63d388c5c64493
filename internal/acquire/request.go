package acquire

import (
	"net/url"
	"strings"

	"github.com/mediavault/mediavault/internal/media"
)

// Request 是一次变体获取请求，字段保持调用方原始输入，由 Validate 统一校验。
type Request struct {
	MediaID string
	URL     string
	Kind    string
	Format  string
	Quality string
}

// Rendition 是校验后的 (url, kind, format, quality)。
type Rendition struct {
	URL     string
	Kind    media.Kind
	Format  media.Format
	Quality media.Quality
}

// Result 描述获取结果；CacheHit 表示没有调用后端，Shared 表示与并发请求共用了同一次获取。
type Result struct {
	MediaID  string       `json:"mediaId"`
	Kind     media.Kind   `json:"kind"`
	Format   media.Format `json:"format"`
	Path     string       `json:"path"`
	CacheHit bool         `json:"cacheHit"`
	Shared   bool         `json:"-"`
}

// ValidateRendition 校验 url/kind/format/quality，错误信息可以直接返回给 API 调用方。
func ValidateRendition(rawURL, kind, format, quality string) (Rendition, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" || strings.TrimSpace(kind) == "" || strings.TrimSpace(format) == "" {
		return Rendition{}, invalid("url, kind and format are required")
	}
	if !IsHTTPURL(rawURL) {
		return Rendition{}, invalid("url must be an absolute http(s) URL")
	}

	k, err := media.ParseKind(kind)
	if err != nil {
		return Rendition{}, invalid(err.Error())
	}
	f, err := media.ParseFormat(k, format)
	if err != nil {
		return Rendition{}, invalid(err.Error())
	}
	q, err := media.ParseQuality(quality)
	if err != nil {
		return Rendition{}, invalid(err.Error())
	}
	return Rendition{URL: rawURL, Kind: k, Format: f, Quality: q}, nil
}

// IsHTTPURL 判断是否为带 host 的 http/https 绝对地址。
func IsHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

func (r Request) validate() (Rendition, error) {
	if strings.TrimSpace(r.MediaID) == "" {
		return Rendition{}, invalid("mediaId is required")
	}
	return ValidateRendition(r.URL, r.Kind, r.Format, r.Quality)
}
