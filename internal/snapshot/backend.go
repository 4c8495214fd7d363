// Package snapshot persists room snapshots so that rooms and their message
// logs survive a restart. A Writer collects dirty room codes from the chat
// store and flushes them to a Backend in the background.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/anonychat/internal/chat"
)

// Backend stores one snapshot per room code.
type Backend interface {
	Save(ctx context.Context, snap chat.RoomSnapshot) error
	Delete(ctx context.Context, code string) error
	LoadAll(ctx context.Context) ([]chat.RoomSnapshot, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendNone   = "none"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// ErrUnknownBackend is returned by Open for unsupported backend names.
var ErrUnknownBackend = errors.New("unknown persistence backend")

// Options selects and configures a Backend.
type Options struct {
	Backend     string
	Dir         string
	RedisAddr   string
	RedisPrefix string
	SQLitePath  string
}

// Open builds the configured backend. It returns a nil Backend for "none"
// or an empty name.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendNone:
		return nil, nil
	case BackendFile:
		b, err := NewFileBackend(opts.Dir, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", opts.RedisAddr, err)
		}
		return NewRedisBackend(client, opts.RedisPrefix, logger), nil
	case BackendSQLite:
		b, err := NewSQLiteBackend(opts.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
