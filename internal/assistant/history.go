package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// History stores recent conversation turns per user session.
type History interface {
	// Load returns the stored turns, oldest first.
	Load(ctx context.Context, key string) ([]Message, error)
	// Append adds turns and keeps only the newest limit entries.
	Append(ctx context.Context, key string, limit int, msgs ...Message) error
}

func historyKey(userID, sessionID string) string {
	return "carebridge:chat:" + userID + ":" + sessionID
}

// MemoryHistory keeps history in process memory.
type MemoryHistory struct {
	mu    sync.Mutex
	turns map[string][]Message
}

// NewMemoryHistory creates an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{turns: make(map[string][]Message)}
}

func (h *MemoryHistory) Load(_ context.Context, key string) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.turns[key]...), nil
}

func (h *MemoryHistory) Append(_ context.Context, key string, limit int, msgs ...Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	turns := append(h.turns[key], msgs...)
	if limit > 0 && len(turns) > limit {
		turns = append([]Message(nil), turns[len(turns)-limit:]...)
	}
	h.turns[key] = turns
	return nil
}

// RedisHistory keeps history in a Redis list per session.
type RedisHistory struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisHistory connects to the Redis server at url.
func NewRedisHistory(ctx context.Context, url string, ttl time.Duration) (*RedisHistory, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisHistory{client: client, ttl: ttl}, nil
}

// NewRedisHistoryFromClient wraps an existing client.
func NewRedisHistoryFromClient(client *redis.Client, ttl time.Duration) *RedisHistory {
	return &RedisHistory{client: client, ttl: ttl}
}

func (h *RedisHistory) Load(ctx context.Context, key string) ([]Message, error) {
	items, err := h.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	msgs := make([]Message, 0, len(items))
	for _, item := range items {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (h *RedisHistory) Append(ctx context.Context, key string, limit int, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode history message: %w", err)
		}
		values = append(values, string(b))
	}

	pipe := h.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	if limit > 0 {
		pipe.LTrim(ctx, key, int64(-limit), -1)
	}
	if h.ttl > 0 {
		pipe.Expire(ctx, key, h.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (h *RedisHistory) Close() error {
	return h.client.Close()
}
