package pairing

import "time"

// StatusKind is the caller-facing projection of an attempt's state.
type StatusKind string

const (
	StatusConnecting     StatusKind = "connecting"
	StatusPendingScan    StatusKind = "pending_scan"
	StatusScannedSuccess StatusKind = "scanned_success"
	StatusExpiredOrError StatusKind = "expired_or_error"
)

// StatusView is what a status poll returns. Only the fields belonging to
// Status are populated.
type StatusView struct {
	AttemptID string
	Status    StatusKind
	State     State
	Mode      string
	Code      string
	Token     string
	Identity  string
	Detail    string
	CreatedAt time.Time
}

// Terminal reports whether the view can no longer change.
func (v StatusView) Terminal() bool {
	return v.Status == StatusScannedSuccess || v.Status == StatusExpiredOrError
}

// Err classifies a failed attempt. It is nil for every other status.
func (v StatusView) Err() error {
	switch v.State {
	case StateTransitionError:
		return ErrTransition
	case StateNoIdentityError:
		return ErrNoIdentity
	case StateClosedEarly:
		return ErrClosedEarly
	case StateExpired:
		return ErrExpired
	default:
		return nil
	}
}

func project(s Snapshot) StatusView {
	v := StatusView{AttemptID: s.ID, State: s.State, Mode: s.Mode, CreatedAt: s.CreatedAt}
	switch s.State {
	case StateCodeReceived:
		v.Status = StatusPendingScan
		v.Code = s.Code
	case StateTransitioned, StateSuccessReported:
		v.Status = StatusScannedSuccess
		v.Token = s.Token
		v.Identity = s.Identity
	case StateClosedEarly, StateTransitionError, StateNoIdentityError, StateExpired:
		v.Status = StatusExpiredOrError
		v.Detail = s.LastError
		if v.Detail == "" {
			v.Detail = s.State.String()
		}
	default:
		v.Status = StatusConnecting
	}
	return v
}

// Project maps a snapshot to the view a poll would return, without
// acknowledging success.
func Project(s Snapshot) StatusView { return project(s) }
