package sessionindex

import (
	"context"
	"strings"
	"time"
)

// Entry is one durable linked session.
type Entry struct {
	Identity       string    `json:"-"`
	Token          string    `json:"token"`
	CredentialPath string    `json:"path"`
	CreatedAt      time.Time `json:"created_at"`
}

// Index is the persistence boundary for linked sessions.
type Index interface {
	// Upsert creates or overwrites the entry keyed by e.Identity.
	Upsert(ctx context.Context, e Entry) error
	// Remove deletes the entry for identity. Missing entries are not an error.
	Remove(ctx context.Context, identity string) error
	// Load returns every persisted entry keyed by identity.
	Load(ctx context.Context) (map[string]Entry, error)
}

func validateEntry(e Entry) error {
	if strings.TrimSpace(e.Identity) == "" ||
		strings.TrimSpace(e.Token) == "" ||
		strings.TrimSpace(e.CredentialPath) == "" {
		return ErrInvalidInput
	}
	return nil
}
