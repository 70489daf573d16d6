package pairing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Whizmburu/Whiz-qr/cmd/internal/sessionindex"
)

// ---- clock ----

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{c: c, every: d, next: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) tickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves time forward and runs due timers in the caller's goroutine,
// in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(now) {
			t.fired = true
			due = append(due, t)
		}
	}
	for _, t := range c.tickers {
		if t.stopped || t.next.After(now) {
			continue
		}
		select {
		case t.ch <- now:
		default:
		}
		for !t.next.After(now) {
			t.next = t.next.Add(t.every)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeTicker struct {
	c       *fakeClock
	every   time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.c.mu.Lock()
	t.stopped = true
	t.c.mu.Unlock()
}

// ---- protocol client ----

type sentMsg struct {
	identity string
	text     string
}

type fakeConn struct {
	attemptID string
	dir       string
	emit      func(Event)

	mu           sync.Mutex
	sent         []sentMsg
	sendErr      error
	disconnected int
}

func (c *fakeConn) SendText(ctx context.Context, identity, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, sentMsg{identity: identity, text: text})
	return nil
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	c.disconnected++
	c.mu.Unlock()
}

func (c *fakeConn) sentMessages() []sentMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMsg(nil), c.sent...)
}

func (c *fakeConn) disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

type fakeDialer struct {
	mu      sync.Mutex
	conns   map[string]*fakeConn
	opts    map[string]DialOptions
	dialErr error
	sendErr error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: map[string]*fakeConn{}, opts: map[string]DialOptions{}}
}

func (d *fakeDialer) Dial(ctx context.Context, attemptID, dir string, opts DialOptions, emit func(Event)) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts[attemptID] = opts
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	// Stand-in for the credential blob a real client writes.
	if err := os.WriteFile(filepath.Join(dir, "device.db"), []byte("creds:"+attemptID), 0o600); err != nil {
		return nil, err
	}
	c := &fakeConn{attemptID: attemptID, dir: dir, emit: emit, sendErr: d.sendErr}
	d.conns[attemptID] = c
	return c, nil
}

func (d *fakeDialer) conn(attemptID string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[attemptID]
}

func (d *fakeDialer) waitConn(t *testing.T, attemptID string) *fakeConn {
	t.Helper()
	var c *fakeConn
	waitFor(t, "dial "+attemptID, func() bool {
		c = d.conn(attemptID)
		return c != nil
	})
	return c
}

// ---- index ----

type countingIndex struct {
	sessionindex.Index

	mu        sync.Mutex
	upserts   int
	removes   int
	upsertErr error
	// gate, when set, holds every Upsert until it is closed.
	gate chan struct{}
}

func (c *countingIndex) Upsert(ctx context.Context, e sessionindex.Entry) error {
	c.mu.Lock()
	c.upserts++
	err := c.upsertErr
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return c.Index.Upsert(ctx, e)
}

func (c *countingIndex) setUpsertErr(err error) {
	c.mu.Lock()
	c.upsertErr = err
	c.mu.Unlock()
}

func (c *countingIndex) Remove(ctx context.Context, identity string) error {
	c.mu.Lock()
	c.removes++
	c.mu.Unlock()
	return c.Index.Remove(ctx, identity)
}

func (c *countingIndex) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upserts, c.removes
}

// ---- harness ----

type harness struct {
	svc       *Service
	cfg       Config
	clock     *fakeClock
	dialer    *fakeDialer
	index     *countingIndex
	indexPath string
	registry  *Registry
}

func newHarness(t *testing.T, mutate ...func(*Config, *fakeDialer, *countingIndex)) *harness {
	t.Helper()

	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.TempDir = filepath.Join(root, "temp")
	cfg.SessionsDir = filepath.Join(root, "sessions")

	indexPath := filepath.Join(root, "index.json")
	fi, err := sessionindex.OpenFile(indexPath)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	idx := &countingIndex{Index: fi}
	dialer := newFakeDialer()
	for _, m := range mutate {
		m(&cfg, dialer, idx)
	}

	clock := newFakeClock()
	reg := NewRegistry()
	svc, err := NewService(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), dialer, idx,
		WithClock(clock),
		WithRegistry(reg),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return &harness{svc: svc, cfg: cfg, clock: clock, dialer: dialer, index: idx, indexPath: indexPath, registry: reg}
}

func (h *harness) start(t *testing.T) (string, *fakeConn) {
	t.Helper()
	id, err := h.svc.Start(context.Background(), StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return id, h.dialer.waitConn(t, id)
}

// waitState waits for the attempt to reach want without acknowledging success.
func (h *harness) waitState(t *testing.T, id string, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool {
		snap, err := h.svc.Lookup(id)
		return err == nil && snap.State == want
	})
}

func (h *harness) waitGone(t *testing.T, id string) {
	t.Helper()
	waitFor(t, "removal of "+id, func() bool {
		_, err := h.svc.Lookup(id)
		return errors.Is(err, ErrNotFound)
	})
}

// link drives an attempt from start to Transitioned.
func (h *harness) link(t *testing.T, identity string) (string, *fakeConn) {
	t.Helper()
	id, conn := h.start(t)
	conn.emit(CodeAvailable{Code: "2@qr-payload"})
	h.waitState(t, id, StateCodeReceived)
	conn.emit(LinkOpened{Identity: identity})
	h.waitState(t, id, StateTransitioned)
	return id, conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
