package realtime

import (
	"log/slog"
	"sync"
)

// Hub owns one Topic per watched attempt. It implements pairing.Notifier.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	topics map[string]*Topic
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:    log,
		topics: make(map[string]*Topic),
	}
}

// Join subscribes client to attemptID, creating the topic on first use.
func (h *Hub) Join(attemptID string, client *Client) *Topic {
	h.mu.Lock()
	t, ok := h.topics[attemptID]
	if !ok {
		t = &Topic{hub: h, AttemptID: attemptID, members: make(map[string]*Client)}
		h.topics[attemptID] = t
	}
	h.mu.Unlock()

	t.join(client)
	return t
}

// Changed wakes every subscriber of attemptID. It never blocks.
func (h *Hub) Changed(attemptID string) {
	h.mu.RLock()
	t := h.topics[attemptID]
	h.mu.RUnlock()
	if t != nil {
		t.signal()
	}
}

// Watchers reports how many clients follow attemptID.
func (h *Hub) Watchers(attemptID string) int {
	h.mu.RLock()
	t := h.topics[attemptID]
	h.mu.RUnlock()
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

// dropIfEmpty removes t once its last member has left.
func (h *Hub) dropIfEmpty(t *Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t.mu.RLock()
	empty := len(t.members) == 0
	t.mu.RUnlock()

	if empty && h.topics[t.AttemptID] == t {
		delete(h.topics, t.AttemptID)
	}
}

// Topic is the subscriber set for one attempt.
//
// Concurrency guarantees:
// - join/Leave are safe under concurrent signal.
// - signal never blocks; wakes coalesce.
type Topic struct {
	hub       *Hub
	AttemptID string

	mu      sync.RWMutex
	members map[string]*Client
}

func (t *Topic) join(client *Client) {
	if client == nil || client.SessionID == "" {
		return
	}
	t.mu.Lock()
	t.members[client.SessionID] = client
	t.mu.Unlock()

	t.hub.log.Info("ws.watch.join", "attempt_id", t.AttemptID, "session_id", client.SessionID)
}

// Leave removes a client from the topic and then signals it to stop.
func (t *Topic) Leave(sessionID string) {
	if t == nil || sessionID == "" {
		return
	}

	t.mu.Lock()
	cl := t.members[sessionID]
	delete(t.members, sessionID)
	t.mu.Unlock()

	// Removed before Close so a concurrent signal never wakes a dying client.
	if cl != nil {
		cl.Close()
	}
	t.hub.dropIfEmpty(t)

	t.hub.log.Info("ws.watch.leave", "attempt_id", t.AttemptID, "session_id", sessionID)
}

func (t *Topic) signal() {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, m := range t.members {
		m.Wake()
	}
}
