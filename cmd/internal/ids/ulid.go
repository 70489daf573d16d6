// Package ids provides ID primitives (ULID) shared by the pairing runtime.
package ids

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// AttemptPrefix marks pairing attempt identifiers and their on-disk directories.
const AttemptPrefix = "qr_"

// NewULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable, which keeps attempt directories ordered by creation.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewAttemptID returns a pairing attempt id of the form "qr_<lowercase ulid>".
func NewAttemptID(now time.Time) (string, error) {
	id, err := NewULID(now)
	if err != nil {
		return "", err
	}
	return AttemptPrefix + strings.ToLower(id), nil
}

// IsAttemptID reports whether s looks like an id produced by NewAttemptID.
// It is used to reject path-like input before it reaches the filesystem.
func IsAttemptID(s string) bool {
	if !strings.HasPrefix(s, AttemptPrefix) {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(strings.TrimPrefix(s, AttemptPrefix)))
	return err == nil
}
