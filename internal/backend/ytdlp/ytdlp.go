// Package ytdlp 通过外部 yt-dlp 可执行文件获取音视频，提供 youtube 与 generic 两种后端类型。
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mediavault/mediavault/internal/backend"
	"github.com/mediavault/mediavault/internal/media"
)

const (
	TypeYouTube = "youtube"
	TypeGeneric = "generic"

	stderrTail = 300
)

var youtubePattern = regexp.MustCompile(`youtube\.com|youtu\.be`)

func init() {
	backend.MustRegister(backend.Metadata{
		Key:         TypeYouTube,
		Description: "yt-dlp for youtube.com and youtu.be links, with metadata lookup",
		Kinds:       []media.Kind{media.KindAudio, media.KindVideo},
		Factory: func(opts backend.Options) (backend.Backend, error) {
			return NewYouTube(opts)
		},
	})
	backend.MustRegister(backend.Metadata{
		Key:         TypeGeneric,
		Description: "yt-dlp catch-all for any other URL",
		Kinds:       []media.Kind{media.KindAudio, media.KindVideo},
		CatchAll:    true,
		Factory: func(opts backend.Options) (backend.Backend, error) {
			return NewGeneric(opts)
		},
	})
}

// Runner 执行 yt-dlp 并返回 stdout；失败时错误信息需包含 stderr 尾部。
type Runner func(ctx context.Context, bin string, args []string) ([]byte, error)

var tempSeq atomic.Uint64

// runner 是 youtube/generic 共用的下载实现。
type runner struct {
	name      string
	bin       string
	extraArgs []string
	tempDir   string
	timeout   time.Duration
	run       Runner
	logger    *logrus.Logger
}

func newRunner(opts backend.Options, fallbackName string) (runner, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = fallbackName
	}
	bin := strings.TrimSpace(opts.YtDlpPath)
	if bin == "" {
		bin = "yt-dlp"
	}
	if opts.TempDir == "" {
		return runner{}, errors.New("temp dir required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return runner{
		name:      name,
		bin:       bin,
		extraArgs: append([]string(nil), opts.ExtraArgs...),
		tempDir:   opts.TempDir,
		timeout:   opts.Timeout,
		run:       execRunner,
		logger:    logger,
	}, nil
}

func (r runner) Name() string { return r.name }

// download 以 -o tmp 调用 yt-dlp，成功后把临时文件作为 Stream 返回。
func (r runner) download(ctx context.Context, ext string, args []string, mimeType string) (*backend.Stream, error) {
	if err := os.MkdirAll(r.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	tmp := filepath.Join(r.tempDir, fmt.Sprintf("%d-%d-%s.%s", time.Now().UnixNano(), tempSeq.Add(1), r.name, ext))

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	full := make([]string, 0, len(r.extraArgs)+len(args)+2)
	full = append(full, r.extraArgs...)
	full = append(full, args...)
	full = append(full, "-o", tmp)

	start := time.Now()
	if _, err := r.run(ctx, r.bin, full); err != nil {
		removeQuiet(tmp)
		removeQuiet(tmp + ".part")
		return nil, err
	}

	f, err := os.Open(tmp)
	if err != nil {
		removeQuiet(tmp)
		return nil, fmt.Errorf("%s produced no output: %w", r.name, err)
	}

	r.logger.WithFields(logrus.Fields{
		"action":     "ytdlp_download",
		"backend":    r.name,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Debug("yt-dlp 下载完成")

	return &backend.Stream{Body: f, MimeType: mimeType, TempFile: tmp}, nil
}

func (r runner) fetchAudio(ctx context.Context, rawURL string, format media.Format, quality media.Quality) (*backend.Stream, error) {
	return r.download(ctx, string(format), audioArgs(rawURL, format, quality), media.ContentType(media.KindAudio, format))
}

func audioArgs(rawURL string, format media.Format, quality media.Quality) []string {
	args := []string{"--no-playlist", "-x", "--audio-format", string(format)}
	if quality != media.QualityDefault {
		args = append(args,
			"--audio-quality", audioQuality(quality),
			"--postprocessor-args", "ffmpeg:-b:a "+audioBitrate(quality),
		)
	}
	return append(args, rawURL)
}

func audioQuality(q media.Quality) string {
	switch q {
	case media.QualityLow:
		return "5"
	case media.QualityMedium:
		return "3"
	default:
		return "0"
	}
}

func audioBitrate(q media.Quality) string {
	switch q {
	case media.QualityLow:
		return "128k"
	case media.QualityMedium:
		return "192k"
	default:
		return "320k"
	}
}

func videoArgs(rawURL, selector string) []string {
	return []string{"--no-playlist", "-f", selector, "--merge-output-format", "mp4", rawURL}
}

// YouTube 只处理 youtube.com / youtu.be，并能通过 --dump-json 读取元数据。
type YouTube struct {
	runner
}

// NewYouTube 构建 youtube 类型后端。
func NewYouTube(opts backend.Options) (*YouTube, error) {
	r, err := newRunner(opts, TypeYouTube)
	if err != nil {
		return nil, err
	}
	return &YouTube{runner: r}, nil
}

func (y *YouTube) CanHandle(rawURL string) bool {
	return youtubePattern.MatchString(rawURL)
}

func (y *YouTube) FetchAudio(ctx context.Context, rawURL string, format media.Format, quality media.Quality) (*backend.Stream, error) {
	return y.fetchAudio(ctx, rawURL, format, quality)
}

func (y *YouTube) FetchVideo(ctx context.Context, rawURL string, quality media.Quality) (*backend.Stream, error) {
	return y.download(ctx, string(media.FormatMP4), videoArgs(rawURL, youtubeSelector(quality)), "video/mp4")
}

func youtubeSelector(q media.Quality) string {
	var height string
	switch q {
	case media.QualityLow:
		height = "[height<=360]"
	case media.QualityMedium:
		height = "[height<=720]"
	case media.QualityHigh:
		height = "[height<=1080]"
	}
	return "bestvideo[ext=mp4][vcodec^=avc1]" + height + "+bestaudio[ext=m4a]/best[ext=mp4]"
}

type dumpJSON struct {
	Title     string   `json:"title"`
	Uploader  *string  `json:"uploader"`
	Duration  *float64 `json:"duration"`
	Thumbnail *string  `json:"thumbnail"`
}

// FetchInfo 读取标题、上传者、时长（毫秒）与缩略图。
func (y *YouTube) FetchInfo(ctx context.Context, rawURL string) (*backend.Info, error) {
	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	args := append(append([]string(nil), y.extraArgs...), "--dump-json", "--no-playlist", rawURL)
	out, err := y.run(ctx, y.bin, args)
	if err != nil {
		return nil, err
	}

	var payload dumpJSON
	if err := json.Unmarshal(bytes.TrimSpace(out), &payload); err != nil {
		return nil, fmt.Errorf("decode yt-dlp info: %w", err)
	}

	info := &backend.Info{Title: payload.Title, Uploader: "Unknown"}
	if payload.Uploader != nil && *payload.Uploader != "" {
		info.Uploader = *payload.Uploader
	}
	if payload.Duration != nil {
		info.DurationMS = int64(*payload.Duration * 1000)
	}
	if payload.Thumbnail != nil {
		info.Thumbnail = *payload.Thumbnail
	}
	return info, nil
}

// Generic 接受任意 URL，必须位于后端链末尾。
type Generic struct {
	runner
}

// NewGeneric 构建 generic 类型后端。
func NewGeneric(opts backend.Options) (*Generic, error) {
	r, err := newRunner(opts, TypeGeneric)
	if err != nil {
		return nil, err
	}
	return &Generic{runner: r}, nil
}

func (g *Generic) CanHandle(string) bool { return true }

func (g *Generic) FetchAudio(ctx context.Context, rawURL string, format media.Format, quality media.Quality) (*backend.Stream, error) {
	return g.fetchAudio(ctx, rawURL, format, quality)
}

func (g *Generic) FetchVideo(ctx context.Context, rawURL string, quality media.Quality) (*backend.Stream, error) {
	return g.download(ctx, string(media.FormatMP4), videoArgs(rawURL, genericSelector(quality)), "video/mp4")
}

func genericSelector(q media.Quality) string {
	switch q {
	case media.QualityLow:
		return "bv*[height<=360]+ba/b[height<=360]"
	case media.QualityMedium:
		return "bv*[height<=720]+ba/b[height<=720]"
	default:
		return "bv*+ba/b"
	}
}

func execRunner(ctx context.Context, bin string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(bin), ctxErr)
		}
		if detail := tail(stderr.String(), stderrTail); detail != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", filepath.Base(bin), err, detail)
		}
		return nil, fmt.Errorf("%s failed: %w", filepath.Base(bin), err)
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).WithField("path", path).Debug("清理临时文件失败")
	}
}
