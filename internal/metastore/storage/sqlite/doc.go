// Package sqlite provides the SQLite-backed metadata store.
//
// It persists users, credentials, agents, sources, memory blocks, tools,
// jobs, file metadata, and legacy presets, enforcing the per-scope
// uniqueness and weak-reference invariants in application code inside
// short-lived transactions.
package sqlite
