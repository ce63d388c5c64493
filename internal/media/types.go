package media

import (
	"fmt"
	"strings"
	"time"
)

// Kind 表示变体的媒体类型。
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Format 表示落盘文件的容器格式。
type Format string

const (
	FormatMP3 Format = "mp3"
	FormatM4A Format = "m4a"
	FormatMP4 Format = "mp4"
)

// Quality 是调用方请求的质量档位，空值表示交给后端自行决定。
type Quality string

const (
	QualityDefault Quality = ""
	QualityLow     Quality = "low"
	QualityMedium  Quality = "medium"
	QualityHigh    Quality = "high"
)

// SourceGeneric 是无法识别平台时的来源标记。
const SourceGeneric = "generic"

// ParseKind 将外部输入规范化为 Kind。
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindAudio:
		return KindAudio, nil
	case KindVideo:
		return KindVideo, nil
	default:
		return "", fmt.Errorf("kind must be audio or video")
	}
}

// ParseFormat 校验 kind 与 format 的组合：audio 仅支持 mp3/m4a，video 仅支持 mp4。
func ParseFormat(kind Kind, raw string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case KindAudio:
		if format == FormatMP3 || format == FormatM4A {
			return format, nil
		}
		return "", fmt.Errorf("audio format must be mp3 or m4a")
	case KindVideo:
		if format == FormatMP4 {
			return format, nil
		}
		return "", fmt.Errorf("video format must be mp4")
	default:
		return "", fmt.Errorf("kind must be audio or video")
	}
}

// ParseQuality 允许空值（表示不限定质量）。
func ParseQuality(raw string) (Quality, error) {
	switch q := Quality(strings.ToLower(strings.TrimSpace(raw))); q {
	case QualityDefault, QualityLow, QualityMedium, QualityHigh:
		return q, nil
	default:
		return "", fmt.Errorf("quality must be low, medium, or high")
	}
}

// ContentType 返回 (kind, format) 对应的响应 MIME。
func ContentType(kind Kind, format Format) string {
	if kind == KindAudio {
		if format == FormatMP3 {
			return "audio/mpeg"
		}
		return "audio/mp4"
	}
	return "video/mp4"
}

// Variant 是某个 Identity 已落盘的一个具体版本，path 独占磁盘上的一个文件。
type Variant struct {
	Kind      Kind       `json:"kind"`
	Format    Format     `json:"format"`
	Path      string     `json:"path"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Matches 判断变体是否对应 (kind, format)。
func (v Variant) Matches(kind Kind, format Format) bool {
	return v.Kind == kind && v.Format == format
}

// Clone 复制 ExpiresAt 指针。
func (v Variant) Clone() Variant {
	if v.ExpiresAt != nil {
		exp := *v.ExpiresAt
		v.ExpiresAt = &exp
	}
	return v
}

// Identity 代表一个去重后的源 URL 及其元数据与已缓存变体。
type Identity struct {
	ID        string         `json:"id"`
	PublicID  string         `json:"publicId"`
	Source    string         `json:"source"`
	SourceID  string         `json:"sourceId"`
	Title     string         `json:"title"`
	Artist    string         `json:"artist"`
	Duration  int64          `json:"duration"`
	Thumbnail *string        `json:"thumbnail"`
	RawTitle  *string        `json:"rawTitle,omitempty"`
	RawArtist *string        `json:"rawArtist,omitempty"`
	Extras    map[string]any `json:"extras,omitempty"`
	Variants  []Variant      `json:"variants"`
}

// Clone 返回深拷贝，避免调用方绕过 library 修改内部状态。
func (m Identity) Clone() Identity {
	out := m
	if m.Thumbnail != nil {
		v := *m.Thumbnail
		out.Thumbnail = &v
	}
	if m.RawTitle != nil {
		v := *m.RawTitle
		out.RawTitle = &v
	}
	if m.RawArtist != nil {
		v := *m.RawArtist
		out.RawArtist = &v
	}
	if m.Extras != nil {
		out.Extras = make(map[string]any, len(m.Extras))
		for k, v := range m.Extras {
			out.Extras[k] = v
		}
	}
	out.Variants = make([]Variant, len(m.Variants))
	for i, v := range m.Variants {
		out.Variants[i] = v.Clone()
	}
	return out
}
