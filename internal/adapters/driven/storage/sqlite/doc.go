// Package sqlite provides a SQLite-based implementation of driven.ContentStore.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation.
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
// Content-type and tag sets are stored as JSON and mirrored into the
// content_labels table by triggers, which backs set-membership filters. An FTS5
// table over title and body backs TextSearch.
//
// Embeddings are stored as little-endian float32 blobs. Filters run in SQL and
// the surviving candidates are ranked in process with the storage package rules.
//
// # Data Location
//
// By default, the database is stored at ~/.lorekeep/data/content.db
//
// # Thread Safety
//
// All operations are thread-safe. Writes are serialised by the store; reads
// run concurrently under SQLite WAL mode.
package sqlite
