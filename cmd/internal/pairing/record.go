package pairing

import (
	"sync"
	"time"
)

// eventBuffer bounds how many protocol events may queue for one attempt
// before the producer blocks.
const eventBuffer = 16

// Record is the in-memory state of one pairing attempt.
//
// All mutable fields are guarded by mu. Only the attempt's event loop
// changes state in response to protocol events; status polls and cleanup
// take the same lock for their check-then-act steps.
type Record struct {
	id        string
	createdAt time.Time
	dir       string
	phone     string

	events   chan Event
	done     chan struct{}
	doneOnce sync.Once

	mu          sync.Mutex
	state       State
	code        string
	identity    string
	token       string
	durablePath string
	lastError   string
	linkedAt    time.Time
	wroteIndex  bool
	finalized   bool
	conn        Conn
	expiry      Timer
	followup    Timer
}

func newRecord(id string, createdAt time.Time, dir string) *Record {
	return &Record{
		id:        id,
		createdAt: createdAt,
		dir:       dir,
		state:     StateConnecting,
		events:    make(chan Event, eventBuffer),
		done:      make(chan struct{}),
	}
}

// ID returns the attempt id.
func (r *Record) ID() string { return r.id }

// Dir returns the attempt's ephemeral credential directory.
func (r *Record) Dir() string { return r.dir }

// CreatedAt returns when the attempt was registered.
func (r *Record) CreatedAt() time.Time { return r.createdAt }

// Snapshot is a consistent, immutable copy of a Record.
type Snapshot struct {
	ID        string
	State     State
	Mode      string
	Code      string
	Identity  string
	Token     string
	LastError string
	CreatedAt time.Time
}

// Snapshot copies the record under its lock.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Record) snapshotLocked() Snapshot {
	return Snapshot{
		ID:        r.id,
		State:     r.state,
		Mode:      pairingMode(r.phone),
		Code:      r.code,
		Identity:  r.identity,
		Token:     r.token,
		LastError: r.lastError,
		CreatedAt: r.createdAt,
	}
}

// emit queues ev for the attempt's event loop. It drops ev once the
// attempt has been cleaned up.
func (r *Record) emit(ev Event) {
	if ev == nil {
		return
	}
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// attach stores the live protocol connection. It reports false when the
// attempt was already cleaned up; the caller then owns conn.
func (r *Record) attach(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return false
	}
	r.conn = conn
	return true
}

// setFollowupLocked replaces any pending follow-up cleanup timer.
func (r *Record) setFollowupLocked(t Timer) {
	if r.followup != nil {
		r.followup.Stop()
	}
	r.followup = t
}

// finalizeLocked marks the record as torn down and returns the connection
// to disconnect. It reports false if the record was already finalized.
func (r *Record) finalizeLocked() (Conn, bool) {
	if r.finalized {
		return nil, false
	}
	r.finalized = true
	if r.expiry != nil {
		r.expiry.Stop()
	}
	if r.followup != nil {
		r.followup.Stop()
	}
	conn := r.conn
	r.conn = nil
	r.doneOnce.Do(func() { close(r.done) })
	return conn, true
}
