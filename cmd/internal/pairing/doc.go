// Package pairing implements the lifecycle of QR/phone pairing attempts.
//
// A pairing attempt starts in Connecting, receives one or more scannable
// codes, and, once the remote account links, is promoted into a durable
// session: its credential directory is copied out of the ephemeral area,
// a session token is issued, and the identity is written to the session
// index.
//
// Concurrency model:
//   - Each attempt owns a Record guarded by its own mutex.
//   - Protocol events for one attempt are queued on a per-attempt channel
//     and applied by a single goroutine, so transitions never interleave.
//   - Status polls read a snapshot under the record lock.
//   - Cleanup re-checks state under the lock and removes the record from the
//     Registry as its last step, and only if the registry still holds that
//     exact record.
package pairing
