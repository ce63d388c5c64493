// Package tagging 为新落盘的 mp3 变体写入 ID3v2 标题/艺人信息。
package tagging

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bogem/id3v2"
)

// Tags 是写入的元数据；空字段保持文件原值。
type Tags struct {
	Title     string
	Artist    string
	SourceURL string
}

// Tagger 可整体关闭（TagAudio=false）。
type Tagger struct {
	enabled bool
}

// New 创建 Tagger。
func New(enabled bool) *Tagger {
	return &Tagger{enabled: enabled}
}

// Enabled 返回是否会写入标签。
func (t *Tagger) Enabled() bool {
	return t != nil && t.enabled
}

// TagMP3 打开 path 上的 ID3 标签（没有则新建）并写回。
func (t *Tagger) TagMP3(path string, tags Tags) error {
	if !t.Enabled() {
		return nil
	}
	if strings.TrimSpace(path) == "" {
		return errors.New("path required")
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("open id3 tag: %w", err)
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetVersion(4)
	if tags.Title != "" {
		tag.SetTitle(tags.Title)
	}
	if tags.Artist != "" {
		tag.SetArtist(tags.Artist)
	}
	if tags.SourceURL != "" {
		tag.DeleteFrames(tag.CommonID("Comments"))
		tag.AddCommentFrame(id3v2.CommentFrame{
			Encoding:    id3v2.EncodingUTF8,
			Language:    "eng",
			Description: "source",
			Text:        tags.SourceURL,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("save id3 tag: %w", err)
	}
	return nil
}
