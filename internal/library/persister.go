package library

import (
	"errors"

	"github.com/mediavault/mediavault/internal/media"
)

// ErrCorrupt 表示持久化内容结构不合法，Open 会据此重置索引。
var ErrCorrupt = errors.New("library index corrupt")

// Persister 抽象索引的持久化格式。Save 必须在返回前完成落盘。
type Persister interface {
	Load() ([]media.Identity, error)
	Save(items []media.Identity) error
	Close() error
}
