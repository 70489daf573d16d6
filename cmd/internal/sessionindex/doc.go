// Package sessionindex persists the mapping from a linked identity to its
// issued session token and durable credential directory.
//
// Two backends exist:
//   - FileIndex: one JSON document rewritten atomically on every change,
//     optionally sealed with XChaCha20-Poly1305.
//   - PostgresStore: one row per identity, upserted in place.
//
// The index is the only pairing structure that survives a restart.
package sessionindex
