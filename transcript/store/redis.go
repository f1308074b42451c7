package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sweetpotato0/mcp-bridge/config"
	bridgeerrors "github.com/sweetpotato0/mcp-bridge/errors"
	"github.com/sweetpotato0/mcp-bridge/transcript"
)

// RedisStore implements transcript.Store using Redis. Records are JSON
// values indexed by a sorted set keyed on completion time.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string        // Redis server address (e.g., "localhost:6379")
	Password string        // Redis password (if any)
	DB       int           // Redis database number
	Prefix   string        // Key prefix for namespacing
	TTL      time.Duration // Time-to-live for records (0 means no expiration)
}

// DefaultRedisConfig returns the defaults used when config is nil.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "mcp-bridge:transcript:",
	}
}

// NewRedisStore creates a Redis-backed transcript store.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	if err := config.ValidateRedisConfig(cfg.Addr, cfg.DB, cfg.Prefix); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}, nil
}

// Save stores a transcript record.
func (s *RedisStore) Save(ctx context.Context, t *transcript.Transcript) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("transcript must have an id")
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	key := s.prefix + t.ID
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store transcript in Redis: %w", err)
	}

	index := s.prefix + "index"
	member := redis.Z{Score: float64(t.CompletedAt.UnixNano()), Member: t.ID}
	if err := s.client.ZAdd(ctx, index, member).Err(); err != nil {
		return fmt.Errorf("index transcript in Redis: %w", err)
	}
	return nil
}

// Get retrieves a transcript by id.
func (s *RedisStore) Get(ctx context.Context, id string) (*transcript.Transcript, error) {
	data, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("transcript %s: %w", id, bridgeerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch transcript from Redis: %w", err)
	}

	var t transcript.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal transcript: %w", err)
	}
	return &t, nil
}

// List returns the most recent transcripts, newest first.
func (s *RedisStore) List(ctx context.Context, limit int) ([]*transcript.Transcript, error) {
	if limit <= 0 {
		limit = 50
	}

	ids, err := s.client.ZRevRange(ctx, s.prefix+"index", 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list transcripts from Redis: %w", err)
	}

	out := make([]*transcript.Transcript, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err != nil {
			// Expired records linger in the index; skip them.
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
