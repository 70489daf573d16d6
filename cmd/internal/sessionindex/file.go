package sessionindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// FileIndex stores the whole index in one file.
// Every mutation rewrites the file atomically; writes are serialized by mu.
type FileIndex struct {
	mu      sync.Mutex
	path    string
	key     []byte
	entries map[string]Entry
}

// FileOption configures FileIndex.
type FileOption func(*FileIndex) error

// WithSealKey enables XChaCha20-Poly1305 sealing of the index file.
// A nil or empty key leaves the file in plain JSON.
func WithSealKey(key []byte) FileOption {
	return func(f *FileIndex) error {
		if len(key) == 0 {
			return nil
		}
		if len(key) != 32 {
			return ErrInvalidInput
		}
		f.key = append([]byte(nil), key...)
		return nil
	}
}

// OpenFile loads (or lazily creates) the index at path.
func OpenFile(path string, opts ...FileOption) (*FileIndex, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	f := &FileIndex{path: filepath.Clean(path), entries: map[string]Entry{}}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return nil, fmt.Errorf("index dir: %w", err)
	}
	entries, err := f.read()
	if err != nil {
		return nil, err
	}
	f.entries = entries
	return f, nil
}

// Path returns the index file location.
func (f *FileIndex) Path() string { return f.path }

func (f *FileIndex) Upsert(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEntry(e); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	next := cloneEntries(f.entries)
	next[e.Identity] = e
	if err := f.write(next); err != nil {
		return err
	}
	f.entries = next
	return nil
}

func (f *FileIndex) Remove(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ErrInvalidInput
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.entries[identity]; !ok {
		return nil
	}
	next := cloneEntries(f.entries)
	delete(next, identity)
	if err := f.write(next); err != nil {
		return err
	}
	f.entries = next
	return nil
}

// Load re-reads the file so external edits (or another process) are observed.
func (f *FileIndex) Load(ctx context.Context) (map[string]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.read()
	if err != nil {
		return nil, err
	}
	f.entries = entries
	return cloneEntries(entries), nil
}

func (f *FileIndex) read() (map[string]Entry, error) {
	// #nosec G304 -- index path comes from operator configuration.
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	if len(raw) == 0 {
		return map[string]Entry{}, nil
	}

	if isSealed(raw) {
		if len(f.key) == 0 {
			return nil, ErrSealed
		}
		raw, err = open(f.key, raw)
		if err != nil {
			return nil, err
		}
	}

	var doc map[string]Entry
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	out := make(map[string]Entry, len(doc))
	for id, e := range doc {
		e.Identity = id
		out[id] = e
	}
	return out, nil
}

func (f *FileIndex) write(entries map[string]Entry) error {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if len(f.key) > 0 {
		raw, err = seal(f.key, raw)
		if err != nil {
			return fmt.Errorf("seal index: %w", err)
		}
	}
	return writeFileAtomic(f.path, raw, 0o600)
}

func cloneEntries(in map[string]Entry) map[string]Entry {
	out := make(map[string]Entry, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func writeFileAtomic(path string, content []byte, mode os.FileMode) error {
	parent := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(parent, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if runtime.GOOS != "windows" {
			return fmt.Errorf("rename temp file: %w", err)
		}
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return fmt.Errorf("remove destination before rename: %w", rmErr)
		}
		if err := os.Rename(tmpPath, path); err != nil {
			return fmt.Errorf("rename temp file after remove: %w", err)
		}
	}
	cleanup = false

	// #nosec G304 -- parent directory is derived from the configured index path.
	if dir, err := os.Open(parent); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return nil
}
