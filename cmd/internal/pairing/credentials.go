package pairing

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CredentialStore manages durable credential directories, one per identity.
// The credential blob is opaque: it is copied, never parsed.
type CredentialStore struct {
	root string
}

func NewCredentialStore(root string) (*CredentialStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("sessions dir: %w", err)
	}
	return &CredentialStore{root: filepath.Clean(root)}, nil
}

// PathFor returns the durable directory for identity.
func (c *CredentialStore) PathFor(identity string) (string, error) {
	name := sanitizeIdentity(identity)
	if name == "" {
		return "", ErrInvalidInput
	}
	return filepath.Join(c.root, name), nil
}

// Stage copies src into a fresh staging directory under the store root.
// Nothing durable changes until Commit.
func (c *CredentialStore) Stage(src string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("credential source: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("credential source %s: not a directory", src)
	}

	staging, err := os.MkdirTemp(c.root, ".promote-*")
	if err != nil {
		return "", fmt.Errorf("stage credentials: %w", err)
	}
	if err := copyDir(src, staging); err != nil {
		_ = os.RemoveAll(staging)
		return "", fmt.Errorf("copy credentials: %w", err)
	}
	return staging, nil
}

// Commit renames a staged copy into the identity's durable directory,
// replacing what was there.
func (c *CredentialStore) Commit(staged, identity string) (string, error) {
	dst, err := c.PathFor(identity)
	if err != nil {
		return "", err
	}
	if filepath.Dir(filepath.Clean(staged)) != c.root {
		return "", fmt.Errorf("commit credentials: %s is not staged here", staged)
	}
	if err := os.RemoveAll(dst); err != nil {
		return "", fmt.Errorf("replace credentials: %w", err)
	}
	if err := os.Rename(staged, dst); err != nil {
		return "", fmt.Errorf("commit credentials: %w", err)
	}
	return dst, nil
}

// Abort drops a staged copy. Missing is not an error.
func (c *CredentialStore) Abort(staged string) {
	if staged == "" || filepath.Dir(filepath.Clean(staged)) != c.root {
		return
	}
	_ = os.RemoveAll(staged)
}

// Discard removes the identity's durable directory. Missing is not an error.
func (c *CredentialStore) Discard(identity string) error {
	dst, err := c.PathFor(identity)
	if err != nil {
		return err
	}
	return os.RemoveAll(dst)
}

// sanitizeIdentity maps an identity to a single safe path element.
func sanitizeIdentity(identity string) string {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range identity {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '@' || r == '.' || r == '_' || r == '-' || r == ':':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if strings.Trim(out, ".") == "" {
		return ""
	}
	return out
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			// Sockets, symlinks and devices are not credential material.
			return nil
		}
	})
}

func copyFile(src, dst string, mode fs.FileMode) (err error) {
	// #nosec G304 -- src is inside an attempt directory owned by this process.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
