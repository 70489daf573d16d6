package app

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/Whizmburu/Whiz-qr/cmd/internal/pairing"
)

// Run is the CLI entrypoint used by cmd/whizqr.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	if err := ValidateSecurityConfig(cfg); err != nil {
		return err
	}
	pairCfg, err := pairing.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, pairCfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
