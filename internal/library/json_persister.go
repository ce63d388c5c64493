package library

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mediavault/mediavault/internal/media"
)

// JSONPersister 将索引保存为一个格式化的 JSON 数组文件。
type JSONPersister struct {
	path string
}

// NewJSONPersister 创建文件持久化实现；文件不存在时会在首次 Load 时创建。
func NewJSONPersister(path string) (*JSONPersister, error) {
	if path == "" {
		return nil, errors.New("index path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve index path: %w", err)
	}
	return &JSONPersister{path: abs}, nil
}

// Path 返回索引文件的绝对路径。
func (p *JSONPersister) Path() string {
	return p.path
}

func (p *JSONPersister) Load() ([]media.Identity, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, p.Save(nil)
		}
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] != '[' {
		return nil, fmt.Errorf("%w: %s must contain an array", ErrCorrupt, filepath.Base(p.path))
	}

	var items []media.Identity
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return items, nil
}

func (p *JSONPersister) Save(items []media.Identity) error {
	if items == nil {
		items = []media.Identity{}
	}
	payload, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".library-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(payload)
	if err == nil {
		err = tmp.Sync()
	}
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (p *JSONPersister) Close() error {
	return nil
}
