package sessionindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func testEntry(identity string) Entry {
	return Entry{
		Identity:       identity,
		Token:          "WHIZMD_" + strings.Repeat("a", 32),
		CredentialPath: filepath.Join("/sessions", identity),
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestFileIndex_ReloadAfterRestart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "index.json")

	idx, err := OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	want := testEntry("15550001111@s.whatsapp.net")
	if err := idx.Upsert(ctx, want); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// A fresh instance simulates a process restart.
	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	e, ok := got[want.Identity]
	if !ok {
		t.Fatalf("entry missing after reload: %+v", got)
	}
	if e.Token != want.Token || e.CredentialPath != want.CredentialPath || !e.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("entry mismatch: got=%+v want=%+v", e, want)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("index mode=%v want 0600", info.Mode().Perm())
	}
}

func TestFileIndex_OverwriteAndRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx, err := OpenFile(filepath.Join(t.TempDir(), "index.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	first := testEntry("a@s.whatsapp.net")
	if err := idx.Upsert(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	relinked := first
	relinked.Token = "WHIZMD_" + strings.Repeat("b", 32)
	if err := idx.Upsert(ctx, relinked); err != nil {
		t.Fatalf("upsert relink: %v", err)
	}

	got, err := idx.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[first.Identity].Token != relinked.Token {
		t.Fatalf("expected relink to overwrite token, got %+v", got)
	}

	if err := idx.Remove(ctx, first.Identity); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := idx.Remove(ctx, first.Identity); err != nil {
		t.Fatalf("second remove must be a no-op: %v", err)
	}
	got, err = idx.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty index, got %+v", got)
	}
}

func TestFileIndex_RejectsInvalidEntry(t *testing.T) {
	t.Parallel()

	idx, err := OpenFile(filepath.Join(t.TempDir(), "index.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cases := []Entry{
		{},
		{Identity: "x", Token: "t"},
		{Identity: " ", Token: "t", CredentialPath: "/p"},
	}
	for i, e := range cases {
		if err := idx.Upsert(context.Background(), e); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestFileIndex_ConcurrentUpserts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.json")
	idx, err := OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	const n = 40
	var wg sync.WaitGroup
	wg.Add(n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			errs <- idx.Upsert(ctx, testEntry(fmt.Sprintf("%d@s.whatsapp.net", i)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != n {
		t.Fatalf("expected %d entries, got %d", n, len(got))
	}
}

func TestFileIndex_Sealed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.json")
	key := bytes.Repeat([]byte{7}, 32)

	idx, err := OpenFile(path, WithSealKey(key))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	e := testEntry("sealed@s.whatsapp.net")
	if err := idx.Upsert(ctx, e); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if bytes.Contains(raw, []byte(e.Token)) {
		t.Fatalf("sealed index leaks token in plaintext")
	}

	if _, err := OpenFile(path); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed without key, got %v", err)
	}
	if _, err := OpenFile(path, WithSealKey(bytes.Repeat([]byte{8}, 32))); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("expected ErrKeyMismatch, got %v", err)
	}

	reopened, err := OpenFile(path, WithSealKey(key))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got[e.Identity].Token != e.Token {
		t.Fatalf("token mismatch after sealed reload")
	}
}

func TestFileIndex_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "index.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := OpenFile(path); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestParseKeyHex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantLen int
		wantErr bool
	}{
		{name: "empty disables sealing", in: "  ", wantLen: 0},
		{name: "valid", in: strings.Repeat("ab", 32), wantLen: 32},
		{name: "not hex", in: strings.Repeat("zz", 32), wantErr: true},
		{name: "short", in: "abcd", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseKeyHex(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(key) != tt.wantLen {
				t.Fatalf("len=%d want=%d", len(key), tt.wantLen)
			}
		})
	}
}
