package cache

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/mediavault/mediavault/internal/media"
)

// Store 负责变体文件的读写。磁盘布局遵循：
//
//	<StoragePath>/<kind>/<mediaID>.<format>
//
// 每个变体独占一个文件，大小与修改时间由文件系统提供。
type Store interface {
	// Open 返回一个可流式读取的变体文件及其大小。若不存在则返回 ErrNotFound。
	Open(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 将后端产出的数据流落盘。实现需通过临时文件 + rename 保证写入原子性，
	// 并在失败时清理临时文件。
	Put(ctx context.Context, locator Locator, body io.Reader) (*Entry, error)

	// Remove 删除变体文件，文件不存在时视为成功。
	Remove(ctx context.Context, locator Locator) error

	// Path 返回 locator 对应的绝对路径。
	Path(locator Locator) (string, error)
}

// Locator 唯一定位一个变体文件。
type Locator struct {
	MediaID string
	Kind    media.Kind
	Format  media.Format
}

// Entry 描述磁盘上的一个变体文件。
type Entry struct {
	Locator   Locator `json:"locator"`
	FilePath  string  `json:"file_path"`
	SizeBytes int64   `json:"size_bytes"`
	ModTime   time.Time
}

// ReadResult 组合 Entry 与文件 Reader，便于交付层直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示变体文件不存在。
var ErrNotFound = errors.New("variant file not found")
