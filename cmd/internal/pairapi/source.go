package pairapi

import (
	"context"
	"errors"

	"github.com/Whizmburu/Whiz-qr/cmd/internal/pairing"
	"github.com/Whizmburu/Whiz-qr/cmd/internal/realtime"
	v1 "github.com/Whizmburu/Whiz-qr/shared/contracts/pairing/v1"
)

// StatusSource adapts the pairing service for the websocket gateway.
//
// A pushed status counts as a poll: a client that saw scanned_success over
// the socket has acknowledged it.
type StatusSource struct {
	svc Service
}

// NewStatusSource wraps svc.
func NewStatusSource(svc Service) *StatusSource { return &StatusSource{svc: svc} }

var _ realtime.StatusSource = (*StatusSource)(nil)

// Known reports whether attemptID is registered.
func (s *StatusSource) Known(attemptID string) bool {
	if s == nil || s.svc == nil {
		return false
	}
	_, err := s.svc.Lookup(attemptID)
	return err == nil
}

// Status polls the service and converts the result.
func (s *StatusSource) Status(ctx context.Context, attemptID string) (v1.StatusPayload, error) {
	if s == nil || s.svc == nil {
		return v1.StatusPayload{}, realtime.ErrUnknownAttempt
	}
	view, err := s.svc.Status(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pairing.ErrNotFound) {
			return v1.StatusPayload{}, realtime.ErrUnknownAttempt
		}
		return v1.StatusPayload{}, err
	}
	return Payload(view), nil
}
