package pairing

import (
	"context"
	"fmt"
	"strings"

	"github.com/Whizmburu/Whiz-qr/cmd/internal/sessionindex"
	"github.com/Whizmburu/Whiz-qr/cmd/security/token"
)

// drive dials the protocol client for rec and then runs its event loop
// until the attempt is cleaned up.
func (s *Service) drive(rec *Record) {
	defer s.wg.Done()

	conn, err := s.dialer.Dial(s.ctx, rec.id, rec.dir, DialOptions{PhoneNumber: rec.phone}, rec.emit)
	switch {
	case err != nil:
		s.log.Warn("pairing.dial.fail", "attempt_id", rec.id, "err", err)
		rec.emit(LinkClosed{Reason: "dial: " + err.Error(), Recoverable: true})
	case !rec.attach(conn):
		// Cleaned up while dialing.
		conn.Disconnect()
		return
	}

	for {
		select {
		case <-rec.done:
			return
		case ev := <-rec.events:
			s.apply(rec, ev)
		}
	}
}

// apply runs one event to completion. Only the attempt's event loop calls it.
func (s *Service) apply(rec *Record, ev Event) {
	switch e := ev.(type) {
	case CodeAvailable:
		s.onCode(rec, e)
	case LinkOpened:
		s.onLinkOpened(rec, e)
	case LinkClosed:
		s.onLinkClosed(rec, e)
	default:
		s.log.Warn("pairing.event.unknown", "attempt_id", rec.id, "type", fmt.Sprintf("%T", ev))
	}
}

func (s *Service) onCode(rec *Record, e CodeAvailable) {
	code := strings.TrimSpace(e.Code)
	if code == "" {
		return
	}

	rec.mu.Lock()
	if rec.finalized || (rec.state != StateConnecting && rec.state != StateCodeReceived) {
		rec.mu.Unlock()
		return
	}
	first := rec.state == StateConnecting
	rec.state = StateCodeReceived
	rec.code = code
	rec.mu.Unlock()

	if first {
		s.log.Info("pairing.code", "attempt_id", rec.id)
	} else {
		s.log.Debug("pairing.code.refresh", "attempt_id", rec.id)
	}
	s.notify(rec.id)
}

func (s *Service) onLinkOpened(rec *Record, e LinkOpened) {
	identity := strings.TrimSpace(e.Identity)

	rec.mu.Lock()
	if rec.finalized || (rec.state != StateConnecting && rec.state != StateCodeReceived) {
		rec.mu.Unlock()
		return
	}
	if identity == "" {
		rec.state = StateNoIdentityError
		rec.code = ""
		rec.lastError = "link opened without an identity"
		rec.setFollowupLocked(s.clock.AfterFunc(s.cfg.FailureRetention, func() { s.cleanup(rec, reasonRetention) }))
		rec.mu.Unlock()

		s.metrics.attemptFinished(StateNoIdentityError)
		s.log.Warn("pairing.link.no_identity", "attempt_id", rec.id)
		s.notify(rec.id)
		return
	}
	rec.state = StateLinkEstablished
	rec.identity = identity
	rec.code = ""
	rec.linkedAt = s.clock.Now()
	elapsed := rec.linkedAt.Sub(rec.createdAt)
	rec.mu.Unlock()

	s.metrics.linked(elapsed)
	s.log.Info("pairing.linked", "attempt_id", rec.id, "identity", identity, "elapsed_ms", elapsed.Milliseconds())
	s.notify(rec.id)

	s.promote(rec)
}

// promote turns a linked attempt into a durable session: issue a token,
// stage the credentials, write the index, commit the credentials, then
// message the account.
func (s *Service) promote(rec *Record) {
	rec.mu.Lock()
	if rec.finalized || rec.state != StateLinkEstablished {
		rec.mu.Unlock()
		return
	}
	rec.state = StateTransitioning
	identity := rec.identity
	conn := rec.conn
	rec.mu.Unlock()
	s.notify(rec.id)

	tok, err := token.New(s.cfg.TokenPrefix, s.cfg.TokenBytes)
	if err != nil {
		s.failTransition(rec, fmt.Errorf("%w: issue token: %v", ErrTransition, err))
		return
	}

	durable, err := s.creds.PathFor(identity)
	if err != nil {
		s.failTransition(rec, fmt.Errorf("%w: %v", ErrTransition, err))
		return
	}
	staged, err := s.creds.Stage(rec.dir)
	if err != nil {
		s.failTransition(rec, fmt.Errorf("%w: %v", ErrTransition, err))
		return
	}

	// The index is written before the staged copy replaces any previous
	// credentials, so a failed write leaves the prior session intact.
	entry := sessionindex.Entry{
		Identity:       identity,
		Token:          tok,
		CredentialPath: durable,
		CreatedAt:      s.clock.Now().UTC(),
	}
	if err := s.index.Upsert(s.ctx, entry); err != nil {
		s.creds.Abort(staged)
		s.failTransition(rec, fmt.Errorf("%w: index write: %v", ErrTransition, err))
		return
	}
	if _, err := s.creds.Commit(staged, identity); err != nil {
		s.creds.Abort(staged)
		if rerr := s.index.Remove(s.ctx, identity); rerr != nil {
			s.log.Error("index.remove.fail", "identity", identity, "err", rerr)
		}
		s.failTransition(rec, fmt.Errorf("%w: %v", ErrTransition, err))
		return
	}

	s.sendLinkMessages(rec.id, conn, identity, tok)

	rec.mu.Lock()
	rec.wroteIndex = true
	rec.durablePath = durable
	if rec.finalized || rec.state != StateTransitioning {
		rec.mu.Unlock()
		return
	}
	rec.state = StateTransitioned
	rec.token = tok
	rec.setFollowupLocked(s.clock.AfterFunc(s.cfg.SuccessRetention, func() { s.cleanup(rec, reasonSuccessRetention) }))
	rec.mu.Unlock()

	s.metrics.attemptFinished(StateTransitioned)
	s.log.Info("pairing.transitioned",
		"attempt_id", rec.id,
		"identity", identity,
		"token_fp", token.Fingerprint(tok),
		"path", durable,
	)
	s.notify(rec.id)
}

// sendLinkMessages delivers the token and then the confirmation banner.
// Failures are logged and never fail the pairing.
func (s *Service) sendLinkMessages(attemptID string, conn Conn, identity, tok string) {
	if conn == nil {
		s.metrics.sendFailed()
		s.log.Warn("pairing.send.skip", "attempt_id", attemptID, "reason", "no_connection")
		return
	}
	msgs := []struct {
		kind string
		text string
	}{
		{"token", tok},
		{"confirmation", ConfirmationMessage(s.cfg.BrandName)},
	}
	for _, m := range msgs {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SendTimeout)
		err := conn.SendText(ctx, identity, m.text)
		cancel()
		if err != nil {
			s.metrics.sendFailed()
			s.log.Warn("pairing.send.fail", "attempt_id", attemptID, "kind", m.kind, "err", err)
			continue
		}
		s.log.Info("pairing.send.ok", "attempt_id", attemptID, "kind", m.kind)
	}
}

func (s *Service) failTransition(rec *Record, err error) {
	rec.mu.Lock()
	if rec.finalized || rec.state != StateTransitioning {
		rec.mu.Unlock()
		return
	}
	rec.state = StateTransitionError
	rec.lastError = err.Error()
	rec.setFollowupLocked(s.clock.AfterFunc(s.cfg.FailureRetention, func() { s.cleanup(rec, reasonRetention) }))
	rec.mu.Unlock()

	s.metrics.attemptFinished(StateTransitionError)
	s.log.Error("pairing.transition.fail", "attempt_id", rec.id, "err", err)
	s.notify(rec.id)
}

func (s *Service) onLinkClosed(rec *Record, e LinkClosed) {
	rec.mu.Lock()
	if rec.finalized || rec.state.Failed() {
		rec.mu.Unlock()
		return
	}
	st := rec.state

	if e.Recoverable {
		if st != StateConnecting && st != StateCodeReceived {
			// Expected once the link exists.
			rec.mu.Unlock()
			s.log.Debug("pairing.close.ignored", "attempt_id", rec.id, "state", st.String(), "reason", e.Reason)
			return
		}
		rec.state = StateNoIdentityError
		rec.code = ""
		rec.lastError = closeDetail("connection closed before link", e.Reason)
		rec.setFollowupLocked(s.clock.AfterFunc(s.cfg.FailureRetention, func() { s.cleanup(rec, reasonRetention) }))
		rec.mu.Unlock()

		s.metrics.attemptFinished(StateNoIdentityError)
		s.log.Info("pairing.close.before_link", "attempt_id", rec.id, "reason", e.Reason)
		s.notify(rec.id)
		return
	}

	if st == StateSuccessReported {
		// The caller already saw the token. Keep that projection until the
		// acknowledgement cleanup runs; only the session goes.
		revoke := ""
		if rec.wroteIndex {
			revoke = rec.identity
			rec.wroteIndex = false
		}
		rec.mu.Unlock()

		s.log.Warn("pairing.close.after_report", "attempt_id", rec.id, "reason", e.Reason)
		if revoke != "" {
			s.revoke(rec.id, revoke)
		}
		return
	}

	rec.state = StateClosedEarly
	rec.code = ""
	rec.lastError = closeDetail("logged out", e.Reason)
	revoke := ""
	if rec.wroteIndex {
		revoke = rec.identity
		rec.wroteIndex = false
	}
	rec.mu.Unlock()

	s.metrics.attemptFinished(StateClosedEarly)
	s.log.Warn("pairing.close.unrecoverable", "attempt_id", rec.id, "state", st.String(), "reason", e.Reason)

	if revoke != "" {
		s.revoke(rec.id, revoke)
	}
	s.cleanup(rec, reasonClosedEarly)
}

// revoke removes a promoted session: index entry first, then credentials.
func (s *Service) revoke(attemptID, identity string) {
	if err := s.index.Remove(s.ctx, identity); err != nil {
		s.log.Error("index.remove.fail", "attempt_id", attemptID, "identity", identity, "err", err)
	}
	if err := s.creds.Discard(identity); err != nil {
		s.log.Warn("credentials.discard.fail", "attempt_id", attemptID, "identity", identity, "err", err)
	}
	s.log.Info("pairing.revoked", "attempt_id", attemptID, "identity", identity)
}

func closeDetail(prefix, reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return prefix
	}
	return prefix + ": " + reason
}
