package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mediavault/mediavault/internal/media"
)

// ErrNoSourceAvailable 表示当前 kind 下没有任何后端愿意处理该 URL。
var ErrNoSourceAvailable = errors.New("no source available for url")

// Backend 是所有获取后端的最小能力：标识自己、判断能否处理某个 URL。
type Backend interface {
	Name() string
	CanHandle(rawURL string) bool
}

// FormatMatcher 是可选能力：CanHandle 为 true 之后，再按请求的 kind/format 收窄。
// format 为空时只按 kind 判断。
type FormatMatcher interface {
	Matches(rawURL string, kind media.Kind, format media.Format) bool
}

// AudioBackend 产出音频流；quality 为空表示使用后端默认值。
type AudioBackend interface {
	Backend
	FetchAudio(ctx context.Context, rawURL string, format media.Format, quality media.Quality) (*Stream, error)
}

// VideoBackend 产出 mp4 视频流。
type VideoBackend interface {
	Backend
	FetchVideo(ctx context.Context, rawURL string, quality media.Quality) (*Stream, error)
}

// Info 是元数据探测的结果。
type Info struct {
	Title      string
	Uploader   string
	DurationMS int64
	Thumbnail  string
}

// InfoSource 能在下载前读取标题、作者等元数据。
type InfoSource interface {
	Backend
	FetchInfo(ctx context.Context, rawURL string) (*Info, error)
}

// Stream 是后端的一次产出。TempFile 非空时表示 Body 背后是一个需要调用方删除的临时文件。
type Stream struct {
	Body     io.ReadCloser
	MimeType string
	TempFile string
}

// Close 关闭数据流并尽力删除临时文件，可重复调用。
func (s *Stream) Close() error {
	if s == nil {
		return nil
	}
	var err error
	if s.Body != nil {
		err = s.Body.Close()
		s.Body = nil
	}
	if s.TempFile != "" {
		if rmErr := os.Remove(s.TempFile); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
		s.TempFile = ""
	}
	return err
}

// Options 是构建后端实例时可用的共享依赖。
type Options struct {
	Name       string
	HTTPClient *http.Client
	YtDlpPath  string
	ExtraArgs  []string
	TempDir    string
	Timeout    time.Duration
	Logger     *logrus.Logger
}

// Factory 根据 Options 构建后端实例。
type Factory func(opts Options) (Backend, error)

// Metadata 描述一种后端类型。CatchAll 表示该类型接受所有 URL，必须排在链尾。
type Metadata struct {
	Key         string
	Description string
	Kinds       []media.Kind
	CatchAll    bool
	Factory     Factory
}

// Supports 判断该类型是否能产出指定 kind。
func (m Metadata) Supports(kind media.Kind) bool {
	for _, k := range m.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
