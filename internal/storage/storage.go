package storage

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/zhouzirui/serenity/backend/internal/logging"
	"github.com/zhouzirui/serenity/backend/internal/model/gallery"
)

// Keys of the persisted local state.
const (
	KeySessions      = "serenity_chats"
	KeySettings      = "serenity_settings"
	KeyNewsCache     = "serenity_news_cache"
	KeyNewsTimestamp = "serenity_news_timestamp"
	KeyActiveSession = "serenity_active_chat"
)

// ErrImageNotFound is returned by ImageStore.Get for unknown ids.
var ErrImageNotFound = errors.New("image not found")

// KV is a small key-value store holding JSON documents.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
}

// ImageStore keeps generated images, which are too large for KV.
type ImageStore interface {
	Put(ctx context.Context, item gallery.Item, data []byte) error
	GetAll(ctx context.Context) ([]gallery.Item, error)
	Get(ctx context.Context, id string) (gallery.Item, []byte, error)
}

// Adapter wraps a KV with typed, failure-tolerant load and save.
type Adapter struct {
	kv  KV
	log *zap.Logger
}

// NewAdapter binds kv to a logger used for reporting recovered failures.
func NewAdapter(kv KV, logger *zap.Logger) *Adapter {
	return &Adapter{kv: kv, log: logging.OrNop(logger).Named("storage")}
}

// Raw returns the stored bytes for key, or nil when absent or unreadable.
func (a *Adapter) Raw(key string) []byte {
	raw, ok, err := a.kv.Get(key)
	if err != nil {
		a.log.Warn("read failed, using default", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return raw
}

// Load decodes the value stored under key. Missing, unreadable or malformed
// data yields def; corruption heals on the next Save.
func Load[T any](a *Adapter, key string, def T) T {
	raw := a.Raw(key)
	if raw == nil {
		return def
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		a.log.Warn("corrupt record, using default", zap.String("key", key), zap.Error(err))
		return def
	}
	return out
}

// Save encodes and stores value under key. Failures are logged and returned
// so callers may ignore them.
func Save[T any](a *Adapter, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		a.log.Error("encode failed", zap.String("key", key), zap.Error(err))
		return err
	}
	if err := a.kv.Put(key, raw); err != nil {
		a.log.Error("write failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}
