// Package redis holds the Redis-backed pieces of docflow: a delivery
// deduplicator for notify.Sink and a read-through cache for run results.
//
// Redis is never the system of record. The deduplicator only remembers
// idempotency keys for a TTL, and the run cache wraps another
// workflow.RunStore.
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	sink := notify.Deduplicated(notify.NewHTTPSink(), s.Deduper(), 0, logger)
//	runs := s.RunCache(pg, time.Hour)
package redis
