package pairing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCredentialStore_CommitReplaces(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := NewCredentialStore(filepath.Join(root, "sessions"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	src := filepath.Join(root, "attempt")
	if err := os.MkdirAll(filepath.Join(src, "nested"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "device.db"), []byte("v1"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "nested", "keys.json"), []byte("{}"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	dst, err := promote(store, src, "1@s.whatsapp.net")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "nested", "keys.json")); err != nil {
		t.Fatalf("nested file not copied: %v", err)
	}

	if err := os.WriteFile(filepath.Join(src, "device.db"), []byte("v2"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Remove(filepath.Join(src, "nested", "keys.json")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := promote(store, src, "1@s.whatsapp.net"); err != nil {
		t.Fatalf("re-promote: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dst, "device.db"))
	if err != nil || string(raw) != "v2" {
		t.Fatalf("re-promote must replace credentials: %q %v", raw, err)
	}
	if _, err := os.Stat(filepath.Join(dst, "nested", "keys.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stale credential file survived re-promote")
	}

	leftovers, err := filepath.Glob(filepath.Join(root, "sessions", ".promote-*"))
	if err != nil || len(leftovers) != 0 {
		t.Fatalf("staging dirs left behind: %v", leftovers)
	}

	if err := store.Discard("1@s.whatsapp.net"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if dirExists(dst) {
		t.Fatalf("discard left credentials")
	}
}

func TestCredentialStore_AbortLeavesDurableUntouched(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := NewCredentialStore(filepath.Join(root, "sessions"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	src := filepath.Join(root, "attempt")
	if err := os.MkdirAll(src, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "device.db"), []byte("old"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	dst, err := promote(store, src, "2@s.whatsapp.net")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}

	if err := os.WriteFile(filepath.Join(src, "device.db"), []byte("new"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	staged, err := store.Stage(src)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	store.Abort(staged)

	if dirExists(staged) {
		t.Fatalf("abort left the staged copy")
	}
	raw, err := os.ReadFile(filepath.Join(dst, "device.db"))
	if err != nil || string(raw) != "old" {
		t.Fatalf("abort touched durable credentials: %q %v", raw, err)
	}

	if _, err := store.Commit(src, "2@s.whatsapp.net"); err == nil {
		t.Fatalf("commit accepted a directory outside the store")
	}
}

func promote(store *CredentialStore, src, identity string) (string, error) {
	staged, err := store.Stage(src)
	if err != nil {
		return "", err
	}
	dst, err := store.Commit(staged, identity)
	if err != nil {
		store.Abort(staged)
		return "", err
	}
	return dst, nil
}

func TestSanitizeIdentity(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"15550001111@s.whatsapp.net": "15550001111@s.whatsapp.net",
		"1555:12@s.whatsapp.net":     "1555:12@s.whatsapp.net",
		"../../etc/passwd":           ".._.._etc_passwd",
		"..":                         "",
		"  ":                         "",
		"a/b":                        "a_b",
	}
	for in, want := range tests {
		if got := sanitizeIdentity(in); got != want {
			t.Fatalf("sanitizeIdentity(%q)=%q want %q", in, got, want)
		}
	}
}
