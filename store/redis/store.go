package redis

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKeyPrefix replaces the default "docflow:" key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keys = keyspace(prefix) }
}

// Store wraps a Redis client. The caller owns the client lifecycle.
type Store struct {
	client goredis.Cmdable
	keys   keyspace
	logger *slog.Logger
}

// New creates a new Redis-backed store.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, keys: defaultKeyPrefix, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
