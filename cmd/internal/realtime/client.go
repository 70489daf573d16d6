package realtime

import (
	"sync"
	"sync/atomic"

	v1 "github.com/Whizmburu/Whiz-qr/shared/contracts/pairing/v1"
)

// Client represents one connected websocket watcher.
//
// Design notes:
// - Send carries out-of-band envelopes (errors) and is never closed by the server.
// - wake is a 1-slot coalescing signal: many status changes collapse into one re-read.
// - Close is idempotent.
type Client struct {
	SessionID string
	Send      chan v1.Envelope

	wake      chan struct{}
	force     atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = wsDefaultSendQueueSize
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Wake requests a status re-read. It never blocks.
func (c *Client) Wake() {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Refresh is Wake that also re-sends an unchanged status.
func (c *Client) Refresh() {
	c.force.Store(true)
	c.Wake()
}

// Woken delivers coalesced wake signals.
func (c *Client) Woken() <-chan struct{} { return c.wake }

// takeForce reports and clears a pending Refresh.
func (c *Client) takeForce() bool { return c.force.Swap(false) }

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
