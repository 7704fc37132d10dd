package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Deduper remembers which idempotency keys were delivered.
type Deduper interface {
	// Claim atomically records key for ttl. It reports false when key is
	// already held by an earlier delivery that has not expired.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release forgets key so a failed delivery can be attempted again.
	Release(ctx context.Context, key string) error
}

// DefaultDedupeTTL is how long a delivered key is remembered.
const DefaultDedupeTTL = 24 * time.Hour

// Deduplicated wraps sink so that a delivery whose key is already claimed
// returns a Duplicate receipt without calling sink. The key is claimed
// before delivery and released when delivery fails. Deduper errors are
// logged and the delivery proceeds.
func Deduplicated(sink Sink, d Deduper, ttl time.Duration, logger *slog.Logger) Sink {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return SinkFunc(func(ctx context.Context, del Delivery) (Receipt, error) {
		if del.IdempotencyKey == "" {
			return sink.Deliver(ctx, del)
		}
		claimed, err := d.Claim(ctx, del.IdempotencyKey, ttl)
		if err != nil {
			logger.Warn("dedupe claim failed",
				slog.String("idempotency_key", del.IdempotencyKey),
				slog.String("error", err.Error()),
			)
			return sink.Deliver(ctx, del)
		}
		if !claimed {
			return Receipt{StatusCode: 200, Duplicate: true}, nil
		}

		rcpt, err := sink.Deliver(ctx, del)
		if err != nil {
			if rerr := d.Release(context.WithoutCancel(ctx), del.IdempotencyKey); rerr != nil {
				logger.Warn("dedupe release failed",
					slog.String("idempotency_key", del.IdempotencyKey),
					slog.String("error", rerr.Error()),
				)
			}
			return rcpt, err
		}
		return rcpt, nil
	})
}

// MemoryDeduper is an in-process Deduper.
type MemoryDeduper struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

// NewMemoryDeduper creates an empty MemoryDeduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{keys: make(map[string]time.Time), now: time.Now}
}

var _ Deduper = (*MemoryDeduper)(nil)

// Claim implements Deduper.
func (m *MemoryDeduper) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.keys[key] = now.Add(ttl)
	return true, nil
}

// Release implements Deduper.
func (m *MemoryDeduper) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}
