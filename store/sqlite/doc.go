// Package sqlite implements store.Store on database/sql with the pure-Go
// modernc.org/sqlite driver. Suitable for single-node deployments, the
// CLI and tests.
//
// The schema mirrors the Postgres backend. Timestamps are stored as
// RFC 3339 text in UTC and JSON columns as text.
//
//	s, err := sqlite.Open(ctx, "/var/lib/docflow/docflow.db")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
package sqlite
