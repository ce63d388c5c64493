// Package acquire 实现变体获取流水线：去重 → 选择后端 → 拉取（一次质量回退）→ 落盘 → 登记。
// 同一 (mediaId, kind, format) 的并发请求通过 singleflight 合并为一次获取。
package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/mediavault/mediavault/internal/backend"
	"github.com/mediavault/mediavault/internal/cache"
	"github.com/mediavault/mediavault/internal/expiry"
	"github.com/mediavault/mediavault/internal/library"
	"github.com/mediavault/mediavault/internal/logging"
	"github.com/mediavault/mediavault/internal/media"
	"github.com/mediavault/mediavault/internal/metrics"
	"github.com/mediavault/mediavault/internal/tagging"
)

const defaultTimeout = 8 * time.Minute

// Library 是流水线用到的记录存储能力。
type Library interface {
	Get(id string) (media.Identity, bool)
	Variant(id string, kind media.Kind, format media.Format) (media.Variant, bool)
	AddVariant(id string, variant media.Variant) error
	UpdateSource(id, source, sourceID string) error
}

// Evictor 是过期判定与统一淘汰例程。
type Evictor interface {
	Expired(v media.Variant) bool
	Evict(key expiry.Key, path string, reason expiry.Reason) error
}

// TTLPolicy 决定新变体的存活时间：后端级覆盖优先，否则使用 Default；0 表示永不过期。
type TTLPolicy struct {
	Default    time.Duration
	PerBackend map[string]time.Duration
}

// For 返回 backendName 产出变体的 TTL。
func (p TTLPolicy) For(backendName string) time.Duration {
	if ttl, ok := p.PerBackend[backendName]; ok && ttl > 0 {
		return ttl
	}
	return p.Default
}

// Options 汇总流水线依赖。Tagger、Limiter、Metrics 可为空。
type Options struct {
	Library Library
	Router  *backend.Router
	Store   cache.Store
	Evictor Evictor
	Tagger  *tagging.Tagger
	Limiter *rate.Limiter
	TTL     TTLPolicy
	Timeout time.Duration
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
}

// Pipeline 是并发安全的变体获取器。
type Pipeline struct {
	lib     Library
	router  *backend.Router
	store   cache.Store
	evictor Evictor
	tagger  *tagging.Tagger
	limiter *rate.Limiter
	ttl     TTLPolicy
	timeout time.Duration
	logger  *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	group singleflight.Group
}

// New 校验依赖并构建流水线。
func New(opts Options) (*Pipeline, error) {
	if opts.Library == nil || opts.Router == nil || opts.Store == nil || opts.Evictor == nil {
		return nil, errors.New("library, router, store and evictor are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Pipeline{
		lib:     opts.Library,
		router:  opts.Router,
		store:   opts.Store,
		evictor: opts.Evictor,
		tagger:  opts.Tagger,
		limiter: opts.Limiter,
		ttl:     opts.TTL,
		timeout: timeout,
		logger:  logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}, nil
}

// Acquire 确保 (MediaID, Kind, Format) 变体存在于磁盘并已登记。
// 合并后的获取在与调用方取消解耦的 context 上运行，受 Timeout 限制；
// 每个等待者仍会在自己的 ctx 结束时提前返回。
func (p *Pipeline) Acquire(ctx context.Context, req Request) (*Result, error) {
	rendition, err := req.validate()
	if err != nil {
		p.metrics.ObserveAcquisition(strings.ToLower(strings.TrimSpace(req.Kind)), "invalid")
		return nil, err
	}
	mediaID := strings.TrimSpace(req.MediaID)

	key := fmt.Sprintf("%s:%s:%s", mediaID, rendition.Kind, rendition.Format)
	ch := p.group.DoChan(key, func() (interface{}, error) {
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.acquire(workCtx, mediaID, rendition)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := *res.Val.(*Result)
		out.Shared = res.Shared
		return &out, nil
	}
}

func (p *Pipeline) acquire(ctx context.Context, mediaID string, r Rendition) (*Result, error) {
	fields := logging.VariantFields(mediaID, string(r.Kind), string(r.Format))
	logger := p.logger.WithFields(fields)
	source, sourceID := media.DetectSource(r.URL), media.SourceID(r.URL)

	identity, ok := p.lib.Get(mediaID)
	if !ok {
		p.metrics.ObserveAcquisition(string(r.Kind), "failed")
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, mediaID)
	}

	if hit, ok := p.reuseExisting(mediaID, r, source, sourceID); ok {
		p.metrics.ObserveAcquisition(string(r.Kind), "cached")
		logger.WithField("action", "acquire_hit").Debug("复用已有变体")
		return hit, nil
	}

	b, err := p.router.Select(r.URL, r.Kind, r.Format)
	if err != nil {
		p.metrics.ObserveAcquisition(string(r.Kind), "failed")
		return nil, fmt.Errorf("%w: %w", ErrAcquisitionFailed, err)
	}
	logger = logger.WithField("backend", b.Name())

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.metrics.ObserveAcquisition(string(r.Kind), "failed")
			return nil, fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
		}
	}

	start := p.now()
	stream, err := p.fetchWithFallback(ctx, b, r, logger)
	if err != nil {
		p.metrics.ObserveAcquisition(string(r.Kind), "failed")
		return nil, err
	}

	locator := cache.Locator{MediaID: mediaID, Kind: r.Kind, Format: r.Format}
	entry, err := p.store.Put(ctx, locator, stream.Body)
	if closeErr := stream.Close(); closeErr != nil {
		logger.WithError(closeErr).Debug("清理后端临时文件失败")
	}
	if err != nil {
		p.metrics.ObserveAcquisition(string(r.Kind), "failed")
		return nil, fmt.Errorf("%w: %v", ErrStorageWriteFailed, err)
	}

	if r.Kind == media.KindAudio && r.Format == media.FormatMP3 && p.tagger.Enabled() {
		tags := tagging.Tags{Title: identity.Title, Artist: identity.Artist, SourceURL: r.URL}
		if err := p.tagger.TagMP3(entry.FilePath, tags); err != nil {
			logger.WithError(err).Warn("写入 ID3 标签失败")
		}
	}

	now := p.now().UTC()
	variant := media.Variant{Kind: r.Kind, Format: r.Format, Path: entry.FilePath, CreatedAt: now}
	if ttl := p.ttl.For(b.Name()); ttl > 0 {
		expiresAt := now.Add(ttl)
		variant.ExpiresAt = &expiresAt
	}

	if err := p.lib.AddVariant(mediaID, variant); err != nil {
		p.metrics.ObserveAcquisition(string(r.Kind), "failed")
		if rmErr := p.store.Remove(context.WithoutCancel(ctx), locator); rmErr != nil {
			logger.WithError(rmErr).Warn("登记失败后删除文件失败")
		}
		if errors.Is(err, library.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, mediaID)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageWriteFailed, err)
	}
	p.updateSource(mediaID, source, sourceID, logger)

	p.metrics.ObserveAcquisition(string(r.Kind), "created")
	logger.WithFields(logrus.Fields{
		"action":     "acquire_created",
		"bytes":      entry.SizeBytes,
		"elapsed_ms": p.now().Sub(start).Milliseconds(),
	}).Info("变体已落盘")

	return &Result{MediaID: mediaID, Kind: r.Kind, Format: r.Format, Path: entry.FilePath}, nil
}

// reuseExisting 处理去重命中；已过期或文件丢失的旧记录先淘汰再继续获取。
func (p *Pipeline) reuseExisting(mediaID string, r Rendition, source, sourceID string) (*Result, bool) {
	existing, ok := p.lib.Variant(mediaID, r.Kind, r.Format)
	if !ok {
		return nil, false
	}

	key := expiry.KeyOf(mediaID, existing)
	switch {
	case p.evictor.Expired(existing):
		p.evictStale(key, existing.Path, expiry.ReasonStale)
		return nil, false
	case !fileExists(existing.Path):
		p.evictStale(key, "", expiry.ReasonMissing)
		return nil, false
	}

	p.updateSource(mediaID, source, sourceID, p.logger.WithFields(logging.VariantFields(mediaID, string(r.Kind), string(r.Format))))
	return &Result{MediaID: mediaID, Kind: r.Kind, Format: r.Format, Path: existing.Path, CacheHit: true}, true
}

func (p *Pipeline) evictStale(key expiry.Key, path string, reason expiry.Reason) {
	if err := p.evictor.Evict(key, path, reason); err != nil {
		p.logger.WithFields(logging.VariantFields(key.MediaID, string(key.Kind), string(key.Format))).
			WithError(err).Warn("淘汰旧变体失败")
	}
}

func (p *Pipeline) fetchWithFallback(ctx context.Context, b backend.Backend, r Rendition, logger *logrus.Entry) (*backend.Stream, error) {
	stream, err := p.fetch(ctx, b, r, r.Quality)
	if err == nil {
		return stream, nil
	}
	if r.Quality == media.QualityDefault {
		return nil, fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
	}

	logger.WithError(err).WithField("quality", string(r.Quality)).Warn("指定质量获取失败，回退到默认质量")
	stream, retryErr := p.fetch(ctx, b, r, media.QualityDefault)
	if retryErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAcquisitionFailed, retryErr)
	}
	return stream, nil
}

func (p *Pipeline) fetch(ctx context.Context, b backend.Backend, r Rendition, quality media.Quality) (*backend.Stream, error) {
	var (
		stream *backend.Stream
		err    error
	)
	switch r.Kind {
	case media.KindAudio:
		ab, ok := b.(backend.AudioBackend)
		if !ok {
			return nil, fmt.Errorf("backend %s cannot fetch audio", b.Name())
		}
		stream, err = ab.FetchAudio(ctx, r.URL, r.Format, quality)
	case media.KindVideo:
		vb, ok := b.(backend.VideoBackend)
		if !ok {
			return nil, fmt.Errorf("backend %s cannot fetch video", b.Name())
		}
		stream, err = vb.FetchVideo(ctx, r.URL, quality)
	default:
		return nil, fmt.Errorf("unknown kind %q", r.Kind)
	}

	if err == nil && (stream == nil || stream.Body == nil) {
		err = fmt.Errorf("backend %s returned no data", b.Name())
	}
	if err == nil && stream.MimeType != "" {
		if want := media.ContentType(r.Kind, r.Format); stream.MimeType != want {
			err = fmt.Errorf("backend %s returned %s, want %s", b.Name(), stream.MimeType, want)
		}
	}
	if err != nil {
		stream.Close()
		p.metrics.ObserveBackendFetch(b.Name(), "failed")
		return nil, err
	}
	p.metrics.ObserveBackendFetch(b.Name(), "ok")
	return stream, nil
}

func (p *Pipeline) updateSource(mediaID, source, sourceID string, logger *logrus.Entry) {
	if err := p.lib.UpdateSource(mediaID, source, sourceID); err != nil {
		logger.WithError(err).Warn("更新来源信息失败")
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
