package library

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/mediavault/mediavault/internal/media"
)

// SQLitePersister 把每个 Identity 作为 JSON 文档存入 SQLite，position 保留插入顺序。
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister 打开或创建 dbPath 对应的数据库并完成建表。
func NewSQLitePersister(dbPath string) (*SQLitePersister, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(full)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// 单连接即可满足 Library 的串行写入。
	db.SetMaxOpenConns(1)

	p := &SQLitePersister{db: db}
	if err := p.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return p, nil
}

func (p *SQLitePersister) migrate() error {
	_, err := p.db.Exec(`
	CREATE TABLE IF NOT EXISTS media_identities (
		position INTEGER NOT NULL,
		id       TEXT PRIMARY KEY,
		document TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_media_identities_position ON media_identities(position);
	`)
	return err
}

func (p *SQLitePersister) Load() ([]media.Identity, error) {
	rows, err := p.db.Query(`SELECT id, document FROM media_identities ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []media.Identity
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		var item media.Identity
		if err := json.Unmarshal([]byte(doc), &item); err != nil {
			return nil, fmt.Errorf("%w: row %s: %v", ErrCorrupt, id, err)
		}
		if item.ID != id {
			return nil, fmt.Errorf("%w: row %s holds document for %q", ErrCorrupt, id, item.ID)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (p *SQLitePersister) Save(items []media.Identity) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM media_identities`); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO media_identities (position, id, document) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, item := range items {
		doc, err := json.Marshal(item)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(i, item.ID, string(doc)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
