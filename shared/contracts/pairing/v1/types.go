// Package v1 defines the whizqr pairing push protocol v1.
//
// It is shared between the server and clients (including the smoke script)
// so the wire format stays authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol clients must offer.
const Subprotocol = "whizqr.pairing.v1"

// Type constants (wire-stable).
const (
	// TypeStatus carries the attempt's current status (server -> client).
	TypeStatus = "status"
	// TypeStatusRequest asks the server to re-send the current status (client -> server).
	TypeStatusRequest = "status_request"
	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Status values, identical to the HTTP status endpoint.
const (
	StatusConnecting     = "connecting"
	StatusPendingScan    = "pending_scan"
	StatusScannedSuccess = "scanned_success"
	StatusExpiredOrError = "expired_or_error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V         string          `json:"v"`
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	AttemptID string          `json:"attemptId,omitempty"`
	TS        time.Time       `json:"ts,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeStatus, TypeStatusRequest, TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// StatusPayload mirrors the HTTP status response body.
type StatusPayload struct {
	Status    string `json:"status"`
	Code      string `json:"code,omitempty"`
	QRDataURL string `json:"qr_data_url,omitempty"`
	Token     string `json:"token,omitempty"`
	Identity  string `json:"identity,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Terminal reports whether no further status will follow.
func (p StatusPayload) Terminal() bool {
	return p.Status == StatusScannedSuccess || p.Status == StatusExpiredOrError
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
