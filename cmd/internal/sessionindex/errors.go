package sessionindex

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrCorrupt      = errors.New("session index corrupt")
	ErrSealed       = errors.New("session index is sealed and no key is configured")
	ErrKeyMismatch  = errors.New("session index key mismatch")
)
