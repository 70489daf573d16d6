package pairing

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config controls pairing timing, storage layout and token issuance.
type Config struct {
	// TempDir holds one ephemeral credential directory per live attempt.
	TempDir string
	// SessionsDir holds one durable credential directory per linked identity.
	SessionsDir string

	// Validity is how long a pairing code stays scannable.
	Validity time.Duration
	// ExpiryGrace is added to Validity before an unlinked attempt is torn down.
	ExpiryGrace time.Duration

	// AckCleanupDelay runs after the first status poll that observed success.
	AckCleanupDelay time.Duration
	// SuccessRetention is the backstop when no poll ever acknowledges success.
	SuccessRetention time.Duration
	// FailureRetention keeps failed attempts pollable for their error detail.
	FailureRetention time.Duration

	SweepInterval time.Duration
	// StaleAfter marks a registered attempt as stale in the sweep when it
	// is older than this and has not succeeded.
	StaleAfter time.Duration

	// SendTimeout bounds each outbound message after linking.
	SendTimeout time.Duration

	TokenPrefix string
	TokenBytes  int

	// BrandName appears in the confirmation message.
	BrandName string
}

func DefaultConfig() Config {
	return Config{
		TempDir:          filepath.Join("data", "temp"),
		SessionsDir:      filepath.Join("data", "sessions"),
		Validity:         60 * time.Second,
		ExpiryGrace:      5 * time.Second,
		AckCleanupDelay:  2 * time.Second,
		SuccessRetention: 2 * time.Minute,
		FailureRetention: 15 * time.Second,
		SweepInterval:    time.Hour,
		StaleAfter:       4 * time.Minute,
		SendTimeout:      10 * time.Second,
		TokenPrefix:      "WHIZMD_",
		TokenBytes:       16,
		BrandName:        "WHIZ-MD",
	}
}

// LoadConfigFromEnv loads pairing configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - WHIZQR_TEMP_DIR
//   - WHIZQR_SESSIONS_DIR
//   - WHIZQR_PAIR_VALIDITY
//   - WHIZQR_PAIR_EXPIRY_GRACE
//   - WHIZQR_PAIR_ACK_CLEANUP_DELAY
//   - WHIZQR_PAIR_SUCCESS_RETENTION
//   - WHIZQR_PAIR_FAILURE_RETENTION
//   - WHIZQR_SWEEP_INTERVAL
//   - WHIZQR_STALE_AFTER
//   - WHIZQR_SEND_TIMEOUT
//   - WHIZQR_TOKEN_PREFIX
//   - WHIZQR_TOKEN_BYTES (16..64)
//   - WHIZQR_BRAND_NAME
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("WHIZQR_TEMP_DIR")); v != "" {
		cfg.TempDir = v
	}
	if v := strings.TrimSpace(os.Getenv("WHIZQR_SESSIONS_DIR")); v != "" {
		cfg.SessionsDir = v
	}

	durations := []struct {
		key       string
		dst       *time.Duration
		allowZero bool
	}{
		{"WHIZQR_PAIR_VALIDITY", &cfg.Validity, false},
		{"WHIZQR_PAIR_EXPIRY_GRACE", &cfg.ExpiryGrace, true},
		{"WHIZQR_PAIR_ACK_CLEANUP_DELAY", &cfg.AckCleanupDelay, true},
		{"WHIZQR_PAIR_SUCCESS_RETENTION", &cfg.SuccessRetention, false},
		{"WHIZQR_PAIR_FAILURE_RETENTION", &cfg.FailureRetention, true},
		{"WHIZQR_SWEEP_INTERVAL", &cfg.SweepInterval, false},
		{"WHIZQR_STALE_AFTER", &cfg.StaleAfter, false},
		{"WHIZQR_SEND_TIMEOUT", &cfg.SendTimeout, false},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || (parsed == 0 && !d.allowZero) {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if v, ok := os.LookupEnv("WHIZQR_TOKEN_PREFIX"); ok {
		cfg.TokenPrefix = strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(os.Getenv("WHIZQR_TOKEN_BYTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.TokenBytes = n
	}
	if v := strings.TrimSpace(os.Getenv("WHIZQR_BRAND_NAME")); v != "" {
		cfg.BrandName = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants between fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.TempDir) == "" || strings.TrimSpace(c.SessionsDir) == "" {
		return ErrConfig
	}
	if filepath.Clean(c.TempDir) == filepath.Clean(c.SessionsDir) {
		return ErrConfig
	}
	if c.Validity <= 0 || c.SweepInterval <= 0 || c.SendTimeout <= 0 || c.SuccessRetention <= 0 {
		return ErrConfig
	}
	if c.ExpiryGrace < 0 || c.AckCleanupDelay < 0 || c.FailureRetention < 0 {
		return ErrConfig
	}
	// A stale sweep must never beat the regular expiry.
	if c.StaleAfter < c.Validity+c.ExpiryGrace {
		return ErrConfig
	}
	if c.TokenBytes < 16 || c.TokenBytes > 64 {
		return ErrConfig
	}
	return nil
}

// ExpiresAfter is the delay between attempt creation and forced expiry.
func (c Config) ExpiresAfter() time.Duration {
	return c.Validity + c.ExpiryGrace
}
