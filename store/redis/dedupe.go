package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/medocr/docflow/notify"
)

// Deduper is a notify.Deduper backed by Redis keys with a TTL. It is
// safe to share between processes.
type Deduper struct {
	s *Store
}

var _ notify.Deduper = (*Deduper)(nil)

// Deduper returns the store's delivery deduplicator.
func (s *Store) Deduper() *Deduper { return &Deduper{s: s} }

// Claim implements notify.Deduper with SET NX, so only one process wins a
// key until it expires or is released.
func (d *Deduper) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = notify.DefaultDedupeTTL
	}
	stamp := time.Now().UTC().Format(time.RFC3339)
	ok, err := d.s.client.SetNX(ctx, d.s.keys.delivery(key), stamp, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("docflow/redis: claim delivery: %w", err)
	}
	return ok, nil
}

// Release implements notify.Deduper.
func (d *Deduper) Release(ctx context.Context, key string) error {
	if err := d.s.client.Del(ctx, d.s.keys.delivery(key)).Err(); err != nil {
		return fmt.Errorf("docflow/redis: release delivery: %w", err)
	}
	return nil
}
