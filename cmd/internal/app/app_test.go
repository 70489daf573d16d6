package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Whizmburu/Whiz-qr/cmd/internal/pairing"
	v1 "github.com/Whizmburu/Whiz-qr/shared/contracts/pairing/v1"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
		{name: "port only", in: ":8080", want: "http://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://qr.example.com/", want: "wss://qr.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

type stubDialer struct{}

func (stubDialer) Dial(_ context.Context, attemptID, _ string, _ pairing.DialOptions, emit func(pairing.Event)) (pairing.Conn, error) {
	emit(pairing.CodeAvailable{Code: "2@stub," + attemptID})
	return stubConn{}, nil
}

type stubConn struct{}

func (stubConn) SendText(context.Context, string, string) error { return nil }
func (stubConn) Disconnect() {}

func newTestApp(t *testing.T) *App {
	t.Helper()

	root := t.TempDir()
	cfg := Config{IndexPath: filepath.Join(root, "sessions.json")}
	pairCfg := pairing.DefaultConfig()
	pairCfg.TempDir = filepath.Join(root, "temp")
	pairCfg.SessionsDir = filepath.Join(root, "sessions")

	a, err := New(context.Background(), cfg, pairCfg, slog.New(slog.NewTextHandler(io.Discard, nil)), WithDialer(stubDialer{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return a
}

func TestApp_PairFlowOverHTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestApp(t).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/pair", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /pair: %v", err)
	}
	var started struct {
		AttemptID string `json:"attemptId"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&started)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || started.AttemptID == "" {
		t.Fatalf("status=%d attempt=%q", resp.StatusCode, started.AttemptID)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}

	var p v1.StatusPayload
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(srv.URL + "/pair/" + started.AttemptID + "/status")
		if err != nil {
			t.Fatalf("GET status: %v", err)
		}
		_ = json.NewDecoder(resp.Body).Decode(&p)
		_ = resp.Body.Close()
		if p.Status == v1.StatusPendingScan {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("attempt never reached pending_scan, last=%+v", p)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if p.Code != "2@stub,"+started.AttemptID || !strings.HasPrefix(p.QRDataURL, "data:image/png;base64,") {
		t.Fatalf("payload=%+v", p)
	}

	resp, err = http.Get(srv.URL + "/pair/" + started.AttemptID + "/qr.png")
	if err != nil {
		t.Fatalf("GET qr.png: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("qr.png status=%d type=%q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "whizqr_pairing_attempts_started_total 1") {
		t.Fatalf("metrics missing started counter:\n%s", body)
	}
}

func TestApp_HealthAndUnknownAttempt(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestApp(t).Handler())
	t.Cleanup(srv.Close)

	cases := []struct {
		path string
		want int
	}{
		{path: "/healthz", want: http.StatusOK},
		{path: "/readyz", want: http.StatusOK},
		{path: "/pair/qr_01J00000000000000000000000/status", want: http.StatusNotFound},
		{path: "/pair/qr_01J00000000000000000000000/ws", want: http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, err := http.Get(srv.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("GET %s status=%d want %d", tc.path, resp.StatusCode, tc.want)
		}
		if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("GET %s missing security headers", tc.path)
		}
	}
}

func TestReadyz_RequiresDB(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	a.cfg.ReadinessRequireDB = true

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
}
