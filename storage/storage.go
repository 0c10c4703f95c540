// Package storage is the durable client-side key/value store: the place the
// auth token and the active conversation id survive restarts.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/aiticulate/config"
)

// Well-known keys
const (
	KeyToken          = "token"
	KeyConversationID = "currentConversationId"
)

// Store persists small string values. Get returns "" for a missing key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Open connects to Redis. When Redis is unreachable it falls back to a local
// bolt file, and to process memory when even that cannot be opened. The
// returned store may implement io.Closer.
func Open(ctx context.Context, cfg *config.Config) Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		f, ferr := NewFile(cfg.StoragePath)
		if ferr != nil {
			log.Warn().Err(err).AnErr("file_err", ferr).Str("addr", cfg.RedisURL).Msg("no durable storage, session state will not survive restarts")
			return NewMemory()
		}
		log.Warn().Err(err).Str("addr", cfg.RedisURL).Str("path", cfg.StoragePath).Msg("redis unavailable, using local state file")
		return f
	}
	return NewRedis(client, cfg.StoragePrefix, cfg.StorageTTL)
}

// Redis stores values as plain keys under a prefix with a sliding TTL
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if r.ttl > 0 {
		r.client.Expire(ctx, r.prefix+key, r.ttl)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.prefix+key, value, r.ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Close closes the underlying client
func (r *Redis) Close() error {
	return r.client.Close()
}

// Memory is an in-process Store
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Scoped namespaces every key of an underlying store, so several players
// can share one Redis.
type Scoped struct {
	Store
	scope string
}

func NewScoped(s Store, scope string) *Scoped {
	return &Scoped{Store: s, scope: scope}
}

func (s *Scoped) Get(ctx context.Context, key string) (string, error) {
	return s.Store.Get(ctx, s.scope+":"+key)
}

func (s *Scoped) Set(ctx context.Context, key, value string) error {
	return s.Store.Set(ctx, s.scope+":"+key, value)
}

func (s *Scoped) Delete(ctx context.Context, key string) error {
	return s.Store.Delete(ctx, s.scope+":"+key)
}
