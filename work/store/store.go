package store

import (
	"context"
	"encoding/json"
	"errors"

	"iptv-curator/work/config"
	"iptv-curator/work/logger"

	"github.com/samber/oops"
)

// Keys shared by the components that persist through a KV.
const (
	KeyValidationCache     = "channel_validation_cache"
	KeyWatchHistory        = "watch_history"
	KeyRecommendationState = "recommendation_state"
)

// ErrNotFound is returned by Get when nothing is stored under the key.
var ErrNotFound = errors.New("store: key not found")

// KV is a durable blob store. Writes are whole-value overwrites.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open builds the backend named by cfg.Backend. Any failure degrades to an
// in-memory store with a warning so persistence is never fatal.
func Open(ctx context.Context, cfg config.StoreConfig) KV {
	var (
		kv  KV
		err error
	)
	switch cfg.Backend {
	case "", "memory":
		return NewMemory()
	case "file":
		kv, err = NewFile(cfg.Path)
	case "sqlite":
		kv, err = NewSQLite(cfg.Path)
	case "redis":
		kv, err = NewRedis(ctx, cfg.RedisURL, cfg.Prefix)
	default:
		err = oops.In("store").With("backend", cfg.Backend).Errorf("unknown store backend")
	}
	if err != nil {
		logger.Warn("{store - Open} %s store unavailable, falling back to memory: %v", cfg.Backend, err)
		return NewMemory()
	}
	logger.Info("{store - Open} Using %s store", cfg.Backend)
	return kv
}

// LoadJSON decodes the value under key into dst. found is false when the key
// is absent; err is set when the value exists but cannot be decoded.
func LoadJSON(ctx context.Context, kv KV, key string, dst any) (found bool, err error) {
	if kv == nil {
		return false, nil
	}
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.In("store").With("key", key).Wrapf(err, "read failed")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, oops.In("store").With("key", key).Wrapf(err, "corrupt value")
	}
	return true, nil
}

// SaveJSON encodes v and overwrites key.
func SaveJSON(ctx context.Context, kv KV, key string, v any) error {
	if kv == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return oops.In("store").With("key", key).Wrapf(err, "encode failed")
	}
	if err := kv.Set(ctx, key, raw); err != nil {
		return oops.In("store").With("key", key).Wrapf(err, "write failed")
	}
	return nil
}
