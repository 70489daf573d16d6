package sessionindex

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// sealMagic prefixes sealed index files so a plain reader fails loudly
// instead of parsing ciphertext as JSON.
var sealMagic = []byte("WHZQIDX1")

// ParseKeyHex decodes a 32-byte hex key (64 hex chars).
func ParseKeyHex(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: index key is not hex", ErrInvalidInput)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: index key must be %d bytes", ErrInvalidInput, chacha20poly1305.KeySize)
	}
	return key, nil
}

func seal(key, plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(sealMagic)+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, sealMagic...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plain, sealMagic), nil
}

func isSealed(raw []byte) bool {
	return bytes.HasPrefix(raw, sealMagic)
}

func open(key, raw []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	body := raw[len(sealMagic):]
	if len(body) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCorrupt
	}
	nonce, ct := body[:aead.NonceSize()], body[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, sealMagic)
	if err != nil {
		return nil, ErrKeyMismatch
	}
	return plain, nil
}
