// Package storage provides durable persistence for usage records.
//
// Two backends are available:
//
//   - SQLiteStore: the production backend. An append-only table in a local
//     SQLite database opened in WAL mode so concurrent request workers do
//     not block each other. The schema is self-initializing and forward
//     compatible: missing columns are added by additive migrations at open.
//
//   - MemoryStore: an in-memory backend for tests.
//
// Both backends satisfy the Store interface. Appends are durable and visible
// to subsequent reads from any goroutine as soon as Append returns.
package storage
