// Package token provides session-token primitives for whizqr.
//
// It is the single source of truth for how issued session tokens look and
// how they are referenced in logs and metrics.
//
// Design goals:
//   - Issued tokens are opaque: a short brand prefix followed by hex from crypto/rand.
//   - Tokens never appear in logs. Fingerprint returns a short, stable digest instead.
//   - When WHIZQR_TOKEN_HMAC_KEY is set, fingerprints are HMAC-SHA256 based so they
//     cannot be brute-forced offline from leaked logs.
package token
