// Package direct 处理直接指向媒体文件的 URL（.mp3/.m4a/.aac/.mp4），用共享 HTTP 客户端下载。
package direct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mediavault/mediavault/internal/backend"
	"github.com/mediavault/mediavault/internal/media"
)

const Type = "direct"

func init() {
	backend.MustRegister(backend.Metadata{
		Key:         Type,
		Description: "plain HTTP download of .mp3/.m4a/.aac/.mp4 links",
		Kinds:       []media.Kind{media.KindAudio, media.KindVideo},
		Factory: func(opts backend.Options) (backend.Backend, error) {
			return New(opts)
		},
	})
}

// Backend 直接下载媒体文件，不做任何转码。
type Backend struct {
	name    string
	client  *http.Client
	tempDir string
	timeout time.Duration
	logger  *logrus.Logger
}

// New 构建 direct 后端；未提供 HTTPClient 时使用 http.DefaultClient。
func New(opts backend.Options) (*Backend, error) {
	if opts.TempDir == "" {
		return nil, errors.New("temp dir required")
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = Type
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Backend{name: name, client: client, tempDir: opts.TempDir, timeout: opts.Timeout, logger: logger}, nil
}

func (b *Backend) Name() string { return b.name }

// CanHandle 只看 URL 路径的扩展名。
func (b *Backend) CanHandle(rawURL string) bool {
	_, ok := extensionFormat(rawURL)
	return ok
}

// Matches 要求扩展名与请求一致：音频链只认 .mp3/.m4a/.aac，视频链只认 .mp4。
func (b *Backend) Matches(rawURL string, kind media.Kind, format media.Format) bool {
	got, ok := extensionFormat(rawURL)
	if !ok {
		return false
	}
	switch kind {
	case media.KindAudio:
		if got == media.FormatMP4 {
			return false
		}
		return format == "" || got == format
	case media.KindVideo:
		return got == media.FormatMP4
	default:
		return false
	}
}

func (b *Backend) FetchAudio(ctx context.Context, rawURL string, format media.Format, _ media.Quality) (*backend.Stream, error) {
	got, ok := extensionFormat(rawURL)
	if !ok || got != format {
		return nil, fmt.Errorf("direct link is not %s: %s", format, rawURL)
	}
	return b.fetch(ctx, rawURL, format, media.ContentType(media.KindAudio, format))
}

func (b *Backend) FetchVideo(ctx context.Context, rawURL string, _ media.Quality) (*backend.Stream, error) {
	got, ok := extensionFormat(rawURL)
	if !ok || got != media.FormatMP4 {
		return nil, fmt.Errorf("direct link is not mp4: %s", rawURL)
	}
	return b.fetch(ctx, rawURL, media.FormatMP4, "video/mp4")
}

func (b *Backend) fetch(ctx context.Context, rawURL string, format media.Format, mimeType string) (*backend.Stream, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream responded %d", resp.StatusCode)
	}

	if err := os.MkdirAll(b.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	tmp, err := os.CreateTemp(b.tempDir, "*-"+b.name+"."+string(format))
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("download body: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, err
	}

	b.logger.WithFields(logrus.Fields{
		"action":  "direct_download",
		"backend": b.name,
		"bytes":   written,
	}).Debug("直链下载完成")

	return &backend.Stream{Body: tmp, MimeType: mimeType, TempFile: tmpName}, nil
}

func extensionFormat(rawURL string) (media.Format, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(path.Ext(parsed.Path)) {
	case ".mp3":
		return media.FormatMP3, true
	case ".m4a", ".aac":
		return media.FormatM4A, true
	case ".mp4":
		return media.FormatMP4, true
	default:
		return "", false
	}
}
