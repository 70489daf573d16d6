package pairing

import (
	"context"
	"os"
	"path/filepath"

	"github.com/Whizmburu/Whiz-qr/cmd/internal/ids"
)

type cleanupReason string

const (
	reasonExpired          cleanupReason = "expired"
	reasonAcknowledged     cleanupReason = "acknowledged"
	reasonSuccessRetention cleanupReason = "success_retention"
	reasonRetention        cleanupReason = "failure_retention"
	reasonClosedEarly      cleanupReason = "closed_early"
	reasonStale            cleanupReason = "stale"
	reasonShutdown         cleanupReason = "shutdown"
	reasonOrphan           cleanupReason = "orphan"
)

// expire fires once per attempt at createdAt + Validity + ExpiryGrace.
// Attempts on the success path are left to their own cleanup.
func (s *Service) expire(rec *Record) {
	rec.mu.Lock()
	if rec.finalized || rec.state.successBound() {
		rec.mu.Unlock()
		return
	}
	wasFailed := rec.state.Failed()
	if !wasFailed {
		rec.state = StateExpired
		rec.code = ""
		rec.lastError = "pairing window elapsed"
	}
	rec.mu.Unlock()

	if !wasFailed {
		s.metrics.attemptFinished(StateExpired)
	}
	s.cleanup(rec, reasonExpired)
}

// cleanup tears an attempt down. It is idempotent:
//  1. disconnect the protocol client (best effort)
//  2. remove the ephemeral directory (best effort)
//  3. remove the record from the registry, only if it is still this record
func (s *Service) cleanup(rec *Record, reason cleanupReason) {
	rec.mu.Lock()
	conn, ok := rec.finalizeLocked()
	state := rec.state
	rec.mu.Unlock()
	if !ok {
		return
	}

	if conn != nil {
		disconnect(conn)
	}
	if err := os.RemoveAll(rec.dir); err != nil {
		s.log.Warn("cleanup.dir.fail", "attempt_id", rec.id, "dir", rec.dir, "err", err)
	}
	removed := s.registry.RemoveIf(rec.id, rec)

	s.metrics.cleanedUp(reason)
	s.metrics.setLive(s.registry.Len())
	s.log.Info("pairing.cleanup", "attempt_id", rec.id, "reason", string(reason), "state", state.String(), "removed", removed)
	s.notify(rec.id)
}

func disconnect(conn Conn) {
	defer func() { _ = recover() }()
	conn.Disconnect()
}

// SweepResult summarizes one orphan sweep.
type SweepResult struct {
	Orphans int
	Stale   int
}

// Sweep removes ephemeral directories that no live attempt owns and tears
// down registered attempts that are stale: older than StaleAfter and not
// on the promotion path.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.clock.Now()

	s.registry.ForEach(func(rec *Record) bool {
		if ctx.Err() != nil {
			return false
		}
		rec.mu.Lock()
		stale := !rec.finalized && now.Sub(rec.createdAt) > s.cfg.StaleAfter && !rec.state.successBound()
		if stale && !rec.state.Failed() {
			rec.state = StateExpired
			rec.code = ""
			rec.lastError = "stale attempt"
		}
		rec.mu.Unlock()
		if stale {
			s.cleanup(rec, reasonStale)
			res.Stale++
		}
		return true
	})
	if err := ctx.Err(); err != nil {
		return res, err
	}

	entries, err := os.ReadDir(s.cfg.TempDir)
	if err != nil {
		if isNotExist(err) {
			return res, nil
		}
		return res, err
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		name := e.Name()
		if !e.IsDir() || !ids.IsAttemptID(name) {
			continue
		}
		if _, err := s.registry.Get(name); err == nil {
			continue
		}
		// Start registers before creating the directory, so an unregistered
		// directory never belongs to a live attempt.
		path := filepath.Join(s.cfg.TempDir, name)
		if err := os.RemoveAll(path); err != nil {
			s.log.Warn("sweep.orphan.fail", "dir", path, "err", err)
			continue
		}
		s.metrics.cleanedUp(reasonOrphan)
		res.Orphans++
	}

	if res.Orphans > 0 || res.Stale > 0 {
		s.log.Info("sweep.done", "orphans", res.Orphans, "stale", res.Stale)
	}
	return res, nil
}

// Run sweeps once immediately, then every SweepInterval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("sweep.fail", "err", err)
	}

	t := s.clock.NewTicker(s.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("sweep.fail", "err", err)
			}
		}
	}
}
