package library

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mediavault/mediavault/internal/media"
)

var (
	// ErrNotFound 表示 Identity 不存在。
	ErrNotFound = errors.New("media not found")
	// ErrExists 表示重复添加同一个 Identity。
	ErrExists = errors.New("media already exists")
	// ErrVariantExists 表示 (id, kind, format) 已存在变体。
	ErrVariantExists = errors.New("variant already exists")
)

// Library 是变体索引的唯一所有者，所有读取返回副本，所有写入在返回前完成持久化。
type Library struct {
	mu        sync.RWMutex
	items     map[string]*media.Identity
	order     []string
	persister Persister
	logger    *logrus.Logger
}

// Open 通过 persister 加载索引；结构损坏时记录日志并重置为空索引继续运行。
func Open(persister Persister, logger *logrus.Logger) (*Library, error) {
	if persister == nil {
		return nil, errors.New("persister is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	lib := &Library{
		items:     make(map[string]*media.Identity),
		persister: persister,
		logger:    logger,
	}

	loaded, err := persister.Load()
	switch {
	case err == nil:
	case errors.Is(err, ErrCorrupt):
		logger.WithFields(logrus.Fields{"action": "library_load"}).
			WithError(err).Warn("索引文件损坏，已重置为空索引")
		if saveErr := persister.Save(nil); saveErr != nil {
			return nil, fmt.Errorf("reset library: %w", saveErr)
		}
		loaded = nil
	default:
		return nil, fmt.Errorf("load library: %w", err)
	}

	for _, item := range loaded {
		if item.ID == "" {
			continue
		}
		if _, dup := lib.items[item.ID]; dup {
			continue
		}
		entry := item.Clone()
		lib.items[entry.ID] = &entry
		lib.order = append(lib.order, entry.ID)
	}
	return lib, nil
}

// Close 释放底层持久化资源。
func (l *Library) Close() error {
	return l.persister.Close()
}

// Add 写入新的 Identity，变体列表总是从空开始。
func (l *Library) Add(identity media.Identity) error {
	if identity.ID == "" {
		return errors.New("media id required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.items[identity.ID]; exists {
		return fmt.Errorf("%w: %s", ErrExists, identity.ID)
	}

	entry := identity.Clone()
	entry.Variants = []media.Variant{}
	l.items[entry.ID] = &entry
	l.order = append(l.order, entry.ID)

	if err := l.flushLocked(); err != nil {
		delete(l.items, entry.ID)
		l.order = l.order[:len(l.order)-1]
		return err
	}
	return nil
}

// All 按插入顺序返回所有 Identity 的副本。
func (l *Library) All() []media.Identity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

// Get 返回指定 id 的副本。
func (l *Library) Get(id string) (media.Identity, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	item, ok := l.items[id]
	if !ok {
		return media.Identity{}, false
	}
	return item.Clone(), true
}

// FindBySourceID 根据去重键查找 Identity。
func (l *Library) FindBySourceID(sourceID string) (media.Identity, bool) {
	if sourceID == "" {
		return media.Identity{}, false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, id := range l.order {
		if item := l.items[id]; item.SourceID == sourceID {
			return item.Clone(), true
		}
	}
	return media.Identity{}, false
}

// UpdateSource 只做单向升级：generic → 具体平台；sourceId 仅在为空时补齐。
func (l *Library) UpdateSource(id, source, sourceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	prevSource, prevSourceID := item.Source, item.SourceID
	dirty := false

	if item.Source == media.SourceGeneric && source != "" && source != media.SourceGeneric {
		item.Source = source
		dirty = true
	}
	if strings.TrimSpace(sourceID) != "" && strings.TrimSpace(item.SourceID) == "" {
		item.SourceID = sourceID
		dirty = true
	}
	if !dirty {
		return nil
	}

	if err := l.flushLocked(); err != nil {
		item.Source, item.SourceID = prevSource, prevSourceID
		return err
	}
	return nil
}

// AddVariant 注册一个新变体；Identity 不存在或同 (kind, format) 已存在时返回错误。
func (l *Library) AddVariant(id string, variant media.Variant) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for _, existing := range item.Variants {
		if existing.Matches(variant.Kind, variant.Format) {
			return fmt.Errorf("%w: %s/%s/%s", ErrVariantExists, id, variant.Kind, variant.Format)
		}
	}

	prev := item.Variants
	next := make([]media.Variant, len(prev), len(prev)+1)
	copy(next, prev)
	item.Variants = append(next, variant)

	if err := l.flushLocked(); err != nil {
		item.Variants = prev
		return err
	}
	return nil
}

// Variant 返回 (id, kind, format) 对应的变体。
func (l *Library) Variant(id string, kind media.Kind, format media.Format) (media.Variant, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	item, ok := l.items[id]
	if !ok {
		return media.Variant{}, false
	}
	idx := indexOf(item.Variants, kind, format)
	if idx < 0 {
		return media.Variant{}, false
	}
	return item.Variants[idx].Clone(), true
}

// HasVariant 判断变体是否存在。
func (l *Library) HasVariant(id string, kind media.Kind, format media.Format) bool {
	_, ok := l.Variant(id, kind, format)
	return ok
}

// RemoveVariant 幂等删除变体；不存在时直接返回 nil。
func (l *Library) RemoveVariant(id string, kind media.Kind, format media.Format) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[id]
	if !ok {
		return nil
	}
	idx := indexOf(item.Variants, kind, format)
	if idx < 0 {
		return nil
	}

	prev := item.Variants
	next := make([]media.Variant, 0, len(prev)-1)
	next = append(next, prev[:idx]...)
	next = append(next, prev[idx+1:]...)
	item.Variants = next

	if err := l.flushLocked(); err != nil {
		item.Variants = prev
		return err
	}
	return nil
}

// Variants 返回 Identity 下所有变体的副本。
func (l *Library) Variants(id string) []media.Variant {
	item, ok := l.Get(id)
	if !ok {
		return []media.Variant{}
	}
	return item.Variants
}

// Query 描述目录浏览的过滤与排序条件。
type Query struct {
	Source string
	Q      string
	Order  string
}

// Query 按来源过滤、按标题/艺人模糊匹配，并可按 title/artist 排序。
func (l *Library) Query(q Query) []media.Identity {
	result := l.All()

	if q.Source != "" {
		result = filter(result, func(m media.Identity) bool { return m.Source == q.Source })
	}
	if needle := strings.ToLower(q.Q); needle != "" {
		result = filter(result, func(m media.Identity) bool {
			return strings.Contains(strings.ToLower(m.Title), needle) ||
				strings.Contains(strings.ToLower(m.Artist), needle)
		})
	}

	switch q.Order {
	case "title":
		sort.SliceStable(result, func(i, j int) bool { return result[i].Title < result[j].Title })
	case "artist":
		sort.SliceStable(result, func(i, j int) bool { return result[i].Artist < result[j].Artist })
	}
	return result
}

// ByArtist 返回艺人名（忽略大小写）完全匹配的 Identity。
func (l *Library) ByArtist(artist string) []media.Identity {
	return filter(l.All(), func(m media.Identity) bool {
		return strings.EqualFold(m.Artist, artist)
	})
}

// GroupByArtist 按艺人名分组。
func (l *Library) GroupByArtist() map[string][]media.Identity {
	grouped := make(map[string][]media.Identity)
	for _, item := range l.All() {
		grouped[item.Artist] = append(grouped[item.Artist], item)
	}
	return grouped
}

func (l *Library) snapshotLocked() []media.Identity {
	out := make([]media.Identity, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.items[id].Clone())
	}
	return out
}

func (l *Library) flushLocked() error {
	if err := l.persister.Save(l.snapshotLocked()); err != nil {
		l.logger.WithFields(logrus.Fields{"action": "library_flush"}).
			WithError(err).Error("索引持久化失败")
		return fmt.Errorf("persist library: %w", err)
	}
	return nil
}

func indexOf(variants []media.Variant, kind media.Kind, format media.Format) int {
	for i, v := range variants {
		if v.Matches(kind, format) {
			return i
		}
	}
	return -1
}

func filter(items []media.Identity, keep func(media.Identity) bool) []media.Identity {
	out := make([]media.Identity, 0, len(items))
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}
