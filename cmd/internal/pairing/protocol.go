package pairing

import "context"

// Event is a protocol-client notification for one attempt.
type Event interface{ isEvent() }

// CodeAvailable carries a fresh scannable code (or phone pairing code).
type CodeAvailable struct{ Code string }

// LinkOpened reports that the remote account linked. Identity may be
// empty if the client could not resolve it.
type LinkOpened struct{ Identity string }

// LinkClosed reports that the connection ended. Recoverable is false for
// authorization failures (logged out, 401, 403).
type LinkClosed struct {
	Reason      string
	Recoverable bool
}

func (CodeAvailable) isEvent() {}
func (LinkOpened) isEvent() {}
func (LinkClosed) isEvent() {}

// DialOptions selects the pairing mode.
type DialOptions struct {
	// PhoneNumber switches to phone pairing-code mode when set (digits only).
	PhoneNumber string
}

// Dialer starts a protocol client for one attempt.
//
// Dial stores credential material under dir and reports events through
// emit, in order. It may call emit before returning. The context bounds
// the client's lifetime, not just the dial.
type Dialer interface {
	Dial(ctx context.Context, attemptID, dir string, opts DialOptions, emit func(Event)) (Conn, error)
}

// Conn is a live protocol client handle.
type Conn interface {
	SendText(ctx context.Context, identity, text string) error
	Disconnect()
}
