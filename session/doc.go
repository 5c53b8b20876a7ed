// Package session provides Redis-backed session persistence and atomic
// refresh-hash rotation for authentication hot paths.
//
// # Storage layout
//
// Each session is a Redis hash (fields: user, role, refresh, created,
// expires) plus a per-user set that indexes live session IDs. The refresh
// field holds the raw SHA-256 of the current refresh secret; plaintext
// secrets never reach Redis.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model.
// It does NOT interpret JWT tokens or enforce authentication policy — those
// responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import shopauth or jwt (no upward imports).
//   - Perform application-level authorization decisions.
//   - Store plaintext secrets in [Session] fields.
package session
