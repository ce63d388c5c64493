// Package resolver 把 URL 解析成 media.Identity：按 sourceId 去重复用，
// YouTube 走 yt-dlp 元数据探测，其它来源生成占位记录。
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/mediavault/mediavault/internal/acquire"
	"github.com/mediavault/mediavault/internal/backend"
	"github.com/mediavault/mediavault/internal/media"
)

const (
	placeholderTitle = "Unknown title"
	extrasTagsKey    = "tags"
	extrasGenericKey = "generic"
)

var (
	// ErrInvalidURL 表示输入不是带 host 的 http(s) 绝对地址。
	ErrInvalidURL = errors.New("invalid url")
	// ErrResolveFailed 表示元数据探测失败且没有可用的占位回退。
	ErrResolveFailed = errors.New("resolve media info failed")
)

// Library 是解析器需要的记录存储能力。
type Library interface {
	FindBySourceID(sourceID string) (media.Identity, bool)
	Add(identity media.Identity) error
}

// Options 汇总解析器依赖。Fallback 非空且能处理 URL 时，元数据探测失败会退回占位记录。
type Options struct {
	Library  Library
	Router   *backend.Router
	Fallback backend.Backend
	Logger   *logrus.Logger
}

// Resolver 并发安全；同一 URL 的并发解析只会创建一条 Identity。
type Resolver struct {
	lib      Library
	router   *backend.Router
	fallback backend.Backend
	logger   *logrus.Logger

	group singleflight.Group
}

// New 构建解析器。
func New(opts Options) (*Resolver, error) {
	if opts.Library == nil || opts.Router == nil {
		return nil, errors.New("library and router are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{lib: opts.Library, router: opts.Router, fallback: opts.Fallback, logger: logger}, nil
}

// Resolve 返回 rawURL 对应的 Identity，必要时创建。
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (media.Identity, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !acquire.IsHTTPURL(rawURL) {
		return media.Identity{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	sourceID := media.SourceID(rawURL)
	if existing, ok := r.lib.FindBySourceID(sourceID); ok {
		return existing, nil
	}

	ch := r.group.DoChan(sourceID, func() (interface{}, error) {
		if existing, ok := r.lib.FindBySourceID(sourceID); ok {
			return existing, nil
		}
		return r.create(context.WithoutCancel(ctx), rawURL, sourceID)
	})

	select {
	case <-ctx.Done():
		return media.Identity{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return media.Identity{}, res.Err
		}
		return res.Val.(media.Identity).Clone(), nil
	}
}

func (r *Resolver) create(ctx context.Context, rawURL, sourceID string) (media.Identity, error) {
	origin := media.DetectSource(rawURL)
	logger := r.logger.WithFields(logrus.Fields{"action": "resolve", "source": origin})

	var identity media.Identity
	if src, ok := r.router.InfoSource(rawURL); ok && origin == "youtube" {
		info, err := src.FetchInfo(ctx, rawURL)
		switch {
		case err == nil:
			identity = fromInfo(info)
		case r.fallback != nil && r.fallback.CanHandle(rawURL):
			logger.WithError(err).Warn("元数据探测失败，使用占位信息")
			identity = placeholder(origin)
		default:
			return media.Identity{}, fmt.Errorf("%w: %v", ErrResolveFailed, err)
		}
	} else {
		identity = placeholder(origin)
	}

	identity.ID = uuid.NewString()
	identity.PublicID = ulid.Make().String()
	identity.Source = origin
	identity.SourceID = sourceID

	if err := r.lib.Add(identity); err != nil {
		return media.Identity{}, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}
	logger.WithField("media_id", identity.ID).Info("已登记新的媒体")
	return identity, nil
}

func fromInfo(info *backend.Info) media.Identity {
	normalized := media.NormalizeTitle(info.Title, info.Uploader)
	rawTitle, rawArtist := info.Title, info.Uploader

	identity := media.Identity{
		Title:     normalized.Title,
		Artist:    normalized.Artist,
		Duration:  info.DurationMS,
		RawTitle:  &rawTitle,
		RawArtist: &rawArtist,
	}
	if info.Thumbnail != "" {
		thumb := info.Thumbnail
		identity.Thumbnail = &thumb
	}
	if len(normalized.Extras) > 0 {
		identity.Extras = map[string]any{extrasTagsKey: normalized.Extras}
	}
	return identity
}

func placeholder(origin string) media.Identity {
	return media.Identity{
		Title:  placeholderTitle,
		Artist: origin,
		Extras: map[string]any{extrasGenericKey: true},
	}
}
