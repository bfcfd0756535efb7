package store

import (
	"context"
	"errors"

	"iptv-curator/work/database"
)

// SQLite persists blobs in the kv_store table of the curator database.
type SQLite struct {
	db *database.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.db.GetValue(ctx, key)
	if errors.Is(err, database.ErrNoRow) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	return s.db.SetValue(ctx, key, value)
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	return s.db.DeleteValue(ctx, key)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
