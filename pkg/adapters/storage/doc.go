// Package storage provides run and handoff persistence.
//
// Implementations:
//   - redis: Redis with JSON serialization and TTL
//   - sqlite: SQLite file with one row per run and per handoff
//   - memory: In-memory for tests and single process use
package storage
