package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/anonychat/internal/chat"
)

// DefaultRedisPrefix namespaces snapshot keys.
const DefaultRedisPrefix = "anonychat:room:"

// RedisBackend stores each snapshot as a JSON string under prefix+code.
type RedisBackend struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisBackend wraps an existing client. The backend owns the client and
// closes it on Close.
func NewRedisBackend(client *redis.Client, prefix string, logger *slog.Logger) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBackend{client: client, prefix: prefix, logger: logger}
}

// Save stores the snapshot without expiry.
func (b *RedisBackend) Save(ctx context.Context, snap chat.RoomSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", snap.Code, err)
	}
	if err := b.client.Set(ctx, b.prefix+snap.Code, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", snap.Code, err)
	}
	return nil
}

// Delete removes the room's key.
func (b *RedisBackend) Delete(ctx context.Context, code string) error {
	if err := b.client.Del(ctx, b.prefix+code).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", code, err)
	}
	return nil
}

// LoadAll scans every key under the prefix.
func (b *RedisBackend) LoadAll(ctx context.Context) ([]chat.RoomSnapshot, error) {
	var snaps []chat.RoomSnapshot
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, b.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}

		for _, key := range keys {
			data, err := b.client.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return nil, fmt.Errorf("redis get %s: %w", key, err)
			}
			var snap chat.RoomSnapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				b.logger.Warn("skipping corrupt snapshot", "key", key, "error", err)
				continue
			}
			snaps = append(snaps, snap)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return snaps, nil
}

// Close closes the client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
