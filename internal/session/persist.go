package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
)

// Persister stores session snapshots by key. Load returns nil, nil when
// nothing is stored.
type Persister interface {
	Load(ctx context.Context, key string) (*Snapshot, error)
	Save(ctx context.Context, key string, snap Snapshot) error
	Clear(ctx context.Context, key string) error
}

// NopPersister keeps nothing.
type NopPersister struct{}

func (NopPersister) Load(context.Context, string) (*Snapshot, error) { return nil, nil }
func (NopPersister) Save(context.Context, string, Snapshot) error    { return nil }
func (NopPersister) Clear(context.Context, string) error             { return nil }

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// FilePersister stores each snapshot as a JSON file in Dir.
type FilePersister struct {
	Dir string
}

func (p FilePersister) path(key string) string {
	return filepath.Join(p.Dir, unsafeKeyChars.ReplaceAllString(key, "_")+".json")
}

func (p FilePersister) Load(_ context.Context, key string) (*Snapshot, error) {
	data, err := os.ReadFile(p.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(data)
}

// Save writes the snapshot to a temp file and renames it into place.
func (p FilePersister) Save(_ context.Context, key string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(p.Dir, ".session-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p.path(key))
}

func (p FilePersister) Clear(_ context.Context, key string) error {
	err := os.Remove(p.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// KV is a string key-value store.
type KV interface {
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key, value string) error
	DeleteKV(ctx context.Context, key string) error
}

// KVPersister stores snapshots in a KV store, e.g. the SQLite kv table.
type KVPersister struct {
	KV KV
}

func (p KVPersister) Load(ctx context.Context, key string) (*Snapshot, error) {
	v, err := p.KV.GetKV(ctx, key)
	if err != nil || v == "" {
		return nil, err
	}
	return decodeSnapshot([]byte(v))
}

func (p KVPersister) Save(ctx context.Context, key string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return p.KV.SetKV(ctx, key, string(data))
}

func (p KVPersister) Clear(ctx context.Context, key string) error {
	return p.KV.DeleteKV(ctx, key)
}

// RedisPersister stores snapshots in Redis with a TTL, so abandoned
// sessions expire on their own.
type RedisPersister struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPersister(client *redis.Client, ttl time.Duration) *RedisPersister {
	return &RedisPersister{client: client, ttl: ttl}
}

func (p *RedisPersister) Load(ctx context.Context, key string) (*Snapshot, error) {
	data, err := p.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodeSnapshot(data)
}

func (p *RedisPersister) Save(ctx context.Context, key string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return p.client.Set(ctx, key, data, p.ttl).Err()
}

func (p *RedisPersister) Clear(ctx context.Context, key string) error {
	return p.client.Del(ctx, key).Err()
}

// decodeSnapshot treats an unreadable snapshot as absent.
func decodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("ignoring unreadable session snapshot", "error", err)
		return nil, nil
	}
	return &snap, nil
}
