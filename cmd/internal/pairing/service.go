package pairing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Whizmburu/Whiz-qr/cmd/internal/ids"
	"github.com/Whizmburu/Whiz-qr/cmd/internal/sessionindex"
)

// Notifier is told whenever an attempt's observable status may have changed.
// Changed must not block.
type Notifier interface {
	Changed(attemptID string)
}

// Service is the pairing orchestrator used by the HTTP layer.
type Service struct {
	cfg      Config
	log      *slog.Logger
	clock    Clock
	registry *Registry
	index    sessionindex.Index
	creds    *CredentialStore
	dialer   Dialer
	metrics  *Metrics
	notifier Notifier

	// ctx bounds protocol clients and post-link sends; cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool
}

// Option configures a Service.
type Option func(*Service)

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithRegistry injects the registry; by default the service owns a fresh one.
func WithRegistry(r *Registry) Option { return func(s *Service) { s.registry = r } }

func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// NewService validates cfg, prepares the storage directories and returns a
// ready Service.
func NewService(cfg Config, log *slog.Logger, dialer Dialer, index sessionindex.Index, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil || index == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.TempDir, 0o700); err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	creds, err := NewCredentialStore(cfg.SessionsDir)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:    cfg,
		log:    log,
		clock:  RealClock(),
		index:  index,
		creds:  creds,
		dialer: dialer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// StartOptions selects the pairing mode for Start.
type StartOptions struct {
	// PhoneNumber, when set, requests a phone pairing code instead of a QR.
	PhoneNumber string
}

// Start registers a new attempt and hands it to the protocol client in the
// background. It returns as soon as the attempt is registered.
func (s *Service) Start(ctx context.Context, opts StartOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	phone, err := NormalizePhone(opts.PhoneNumber)
	if err != nil {
		return "", err
	}

	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return "", ErrShuttingDown
	}

	now := s.clock.Now()
	id, err := ids.NewAttemptID(now)
	if err != nil {
		return "", fmt.Errorf("attempt id: %w", err)
	}
	dir := filepath.Join(s.cfg.TempDir, id)

	// Registered before the directory exists so the sweep never mistakes a
	// half-created attempt for an orphan.
	rec, err := s.registry.Create(id, now, dir)
	if err != nil {
		return "", err
	}
	rec.mu.Lock()
	rec.phone = phone
	rec.mu.Unlock()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		s.registry.RemoveIf(id, rec)
		return "", fmt.Errorf("attempt dir: %w", err)
	}

	rec.mu.Lock()
	rec.expiry = s.clock.AfterFunc(s.cfg.ExpiresAfter(), func() { s.expire(rec) })
	rec.mu.Unlock()

	s.metrics.attemptStarted()
	s.metrics.setLive(s.registry.Len())
	s.log.Info("pairing.start", "attempt_id", id, "mode", pairingMode(phone))

	s.wg.Add(1)
	go s.drive(rec)

	return id, nil
}

// Status projects the attempt's current state for the caller. The first
// poll that observes a successful transition acknowledges it and schedules
// the final cleanup.
func (s *Service) Status(ctx context.Context, attemptID string) (StatusView, error) {
	if err := ctx.Err(); err != nil {
		return StatusView{}, err
	}
	if !ids.IsAttemptID(attemptID) {
		return StatusView{}, ErrNotFound
	}
	rec, err := s.registry.Get(attemptID)
	if err != nil {
		return StatusView{}, err
	}

	rec.mu.Lock()
	acked := false
	if rec.state == StateTransitioned && !rec.finalized {
		rec.state = StateSuccessReported
		rec.setFollowupLocked(s.clock.AfterFunc(s.cfg.AckCleanupDelay, func() { s.cleanup(rec, reasonAcknowledged) }))
		acked = true
	}
	snap := rec.snapshotLocked()
	rec.mu.Unlock()

	if acked {
		s.log.Info("pairing.acknowledged", "attempt_id", attemptID, "identity", snap.Identity)
	}
	return project(snap), nil
}

// Lookup returns a snapshot without acknowledging success. Used by push
// channels that must not consume the acknowledgement.
func (s *Service) Lookup(attemptID string) (Snapshot, error) {
	rec, err := s.registry.Get(attemptID)
	if err != nil {
		return Snapshot{}, err
	}
	return rec.Snapshot(), nil
}

// Live reports the number of registered attempts.
func (s *Service) Live() int { return s.registry.Len() }

// Shutdown stops accepting attempts and tears down every live attempt.
func (s *Service) Shutdown(ctx context.Context) error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	s.registry.ForEach(func(rec *Record) bool {
		s.cleanup(rec, reasonShutdown)
		return true
	})
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) notify(attemptID string) {
	if s.notifier != nil {
		s.notifier.Changed(attemptID)
	}
}

// NormalizePhone strips common separators and requires digits only.
// Empty input means QR mode.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || (r == '+' && b.Len() == 0):
		default:
			return "", fmt.Errorf("%w: phone number must contain digits only", ErrInvalidInput)
		}
	}
	out := b.String()
	if len(out) < 7 || len(out) > 15 {
		return "", fmt.Errorf("%w: phone number length", ErrInvalidInput)
	}
	return out, nil
}

func pairingMode(phone string) string {
	if phone != "" {
		return "phone"
	}
	return "qr"
}
