package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/serenity/backend/internal/model/gallery"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS images (
	id           TEXT PRIMARY KEY,
	prompt       TEXT NOT NULL,
	content_type TEXT NOT NULL,
	data         BLOB NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_images_created_at ON images(created_at DESC);
`

// SQLite persists both the key-value documents and the image gallery in a
// single database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Get implements KV.
func (s *SQLite) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, true, nil
}

// Put implements KV with last-write-wins semantics.
func (s *SQLite) Put(key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

// Images exposes the gallery table as an ImageStore.
func (s *SQLite) Images() ImageStore {
	return sqliteImages{db: s.db}
}

type sqliteImages struct {
	db *sql.DB
}

func (si sqliteImages) Put(ctx context.Context, item gallery.Item, data []byte) error {
	_, err := si.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO images (id, prompt, content_type, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.Prompt, item.ContentType, data, item.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store image %s: %w", item.ID, err)
	}
	return nil
}

func (si sqliteImages) GetAll(ctx context.Context) ([]gallery.Item, error) {
	rows, err := si.db.QueryContext(ctx,
		`SELECT id, prompt, content_type, created_at FROM images ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	items := []gallery.Item{}
	for rows.Next() {
		var (
			item      gallery.Item
			createdAt int64
		)
		if err := rows.Scan(&item.ID, &item.Prompt, &item.ContentType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		item.CreatedAt = time.UnixMilli(createdAt).UTC()
		item.URL = gallery.ImageURL(item.ID)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (si sqliteImages) Get(ctx context.Context, id string) (gallery.Item, []byte, error) {
	var (
		item      gallery.Item
		data      []byte
		createdAt int64
	)
	err := si.db.QueryRowContext(ctx,
		`SELECT id, prompt, content_type, data, created_at FROM images WHERE id = ?`, id,
	).Scan(&item.ID, &item.Prompt, &item.ContentType, &data, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return gallery.Item{}, nil, ErrImageNotFound
	}
	if err != nil {
		return gallery.Item{}, nil, fmt.Errorf("load image %s: %w", id, err)
	}
	item.CreatedAt = time.UnixMilli(createdAt).UTC()
	item.URL = gallery.ImageURL(item.ID)
	return item, data, nil
}
