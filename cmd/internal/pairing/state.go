package pairing

// State is the lifecycle position of one pairing attempt.
type State int

const (
	StateConnecting State = iota
	StateCodeReceived
	StateLinkEstablished
	StateTransitioning
	StateTransitioned
	StateSuccessReported

	StateClosedEarly
	StateTransitionError
	StateNoIdentityError
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateCodeReceived:
		return "code_received"
	case StateLinkEstablished:
		return "link_established"
	case StateTransitioning:
		return "transitioning"
	case StateTransitioned:
		return "transitioned"
	case StateSuccessReported:
		return "success_reported"
	case StateClosedEarly:
		return "closed_early"
	case StateTransitionError:
		return "transition_error"
	case StateNoIdentityError:
		return "no_identity_error"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Failed reports whether s is a terminal failure state.
func (s State) Failed() bool {
	switch s {
	case StateClosedEarly, StateTransitionError, StateNoIdentityError, StateExpired:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the attempt has issued a token.
func (s State) Succeeded() bool {
	return s == StateTransitioned || s == StateSuccessReported
}

// successBound reports whether the attempt is past the link and on the
// promotion path. Expiry does not touch these.
func (s State) successBound() bool {
	return s == StateTransitioning || s.Succeeded()
}

// Terminal reports whether no further protocol event can move s.
func (s State) Terminal() bool {
	return s == StateSuccessReported || s.Failed()
}
