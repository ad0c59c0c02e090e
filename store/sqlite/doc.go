// Package sqlite implements store.Store on database/sql with the pure-Go
// modernc.org/sqlite driver. Suitable for single-node deployments, the
// sweep CLI and tests.
//
// All access goes through one connection in WAL mode, so conditional
// updates from concurrent callers serialize:
//
//	s, _ := sqlite.Open(ctx, "/var/lib/archivist/archivist.db")
//	defer s.Close()
//	s.Migrate(ctx)
package sqlite
