package app

import (
	"errors"
	"fmt"

	"github.com/Whizmburu/Whiz-qr/cmd/internal/sessionindex"
	"github.com/Whizmburu/Whiz-qr/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy.
//
// Fail-fast: a malformed index key or a required-but-missing HMAC key stops
// the server instead of silently degrading.
func ValidateSecurityConfig(cfg Config) error {
	if _, err := sessionindex.ParseKeyHex(cfg.IndexKeyHex); err != nil {
		return fmt.Errorf("security policy: WHIZQR_INDEX_KEY_HEX: %w", err)
	}

	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret, measured in raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: WHIZQR_REQUIRE_TOKEN_HMAC=true but WHIZQR_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: WHIZQR_REQUIRE_TOKEN_HMAC=true but WHIZQR_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: WHIZQR_REQUIRE_TOKEN_HMAC=true but token fingerprints are not in HMAC mode")
	}

	return nil
}
