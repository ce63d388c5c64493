package backend

import (
	"fmt"

	"github.com/mediavault/mediavault/internal/media"
)

// Router 按 kind 保存有序后端链，选择第一个能处理 URL 的后端。
// 启动阶段通过 Add 构建，之后只读，因此不加锁。
type Router struct {
	chains map[media.Kind][]Backend
}

// NewRouter 创建空路由器。
func NewRouter() *Router {
	return &Router{chains: make(map[media.Kind][]Backend)}
}

// Add 将后端追加到 kind 对应链的末尾，并检查它确实实现了该 kind 的获取接口。
func (r *Router) Add(kind media.Kind, b Backend) error {
	if b == nil {
		return fmt.Errorf("nil backend for %s", kind)
	}
	switch kind {
	case media.KindAudio:
		if _, ok := b.(AudioBackend); !ok {
			return fmt.Errorf("backend %s cannot fetch audio", b.Name())
		}
	case media.KindVideo:
		if _, ok := b.(VideoBackend); !ok {
			return fmt.Errorf("backend %s cannot fetch video", b.Name())
		}
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}
	r.chains[kind] = append(r.chains[kind], b)
	return nil
}

// Select 返回第一个能以 kind/format 处理 rawURL 的后端。
func (r *Router) Select(rawURL string, kind media.Kind, format media.Format) (Backend, error) {
	for _, b := range r.chains[kind] {
		if !b.CanHandle(rawURL) {
			continue
		}
		if m, ok := b.(FormatMatcher); ok && !m.Matches(rawURL, kind, format) {
			continue
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s (%s/%s)", ErrNoSourceAvailable, rawURL, kind, format)
}

// Chain 返回 kind 对应链上的后端名称，供诊断使用。
func (r *Router) Chain(kind media.Kind) []string {
	chain := r.chains[kind]
	names := make([]string, len(chain))
	for i, b := range chain {
		names[i] = b.Name()
	}
	return names
}

// InfoSource 返回第一个能读取 rawURL 元数据的后端。
func (r *Router) InfoSource(rawURL string) (InfoSource, bool) {
	for _, kind := range []media.Kind{media.KindAudio, media.KindVideo} {
		for _, b := range r.chains[kind] {
			if src, ok := b.(InfoSource); ok && b.CanHandle(rawURL) {
				return src, true
			}
		}
	}
	return nil, false
}
