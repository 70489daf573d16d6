// Package main is a smoke test for the whizqr pairing flow.
//
// It validates:
//   - POST /pair returns an attempt id
//   - the HTTP status endpoint answers for that attempt
//   - handshake + subprotocol selection on /pair/{id}/ws
//   - a status envelope is pushed on connect
//   - status_request is answered with the current status
//
// With -wait-terminal it keeps following the attempt until a terminal
// status (a phone has to scan the code for scanned_success).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "github.com/Whizmburu/Whiz-qr/shared/contracts/pairing/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

func main() {
	var (
		baseURL      = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		origin       = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		phone        = flag.String("phone", "", "Request a phone pairing code for this number instead of a QR")
		timeout      = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		waitTerminal = flag.Bool("wait-terminal", false, "Follow the attempt until scanned_success or expired_or_error")
		waitFor      = flag.Duration("wait", 90*time.Second, "Overall wait for a terminal status with -wait-terminal")
		verbose      = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateHTTPURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	base := strings.TrimRight(*baseURL, "/")
	root := context.Background()

	attemptID := mustStart(root, base, *phone, *timeout)
	fmt.Printf("attempt: %s\n", attemptID)

	first := mustHTTPStatus(root, base, attemptID, *timeout)
	if *verbose {
		fmt.Printf("http status: %s\n", first.Status)
	}

	conn := mustConnect(root, wsURL(base, attemptID), *origin, *timeout)
	defer closeWS(conn)

	pushed := mustReadStatus(root, conn, *timeout)
	report(pushed, *verbose)

	if !pushed.Terminal() {
		mustWriteWithTimeout(root, conn, v1.Envelope{
			V:         v1.Version,
			Type:      v1.TypeStatusRequest,
			ID:        fmt.Sprintf("smoke-%d", time.Now().UnixNano()),
			AttemptID: attemptID,
			TS:        time.Now().UTC(),
		}, *timeout)
		again := mustReadStatus(root, conn, *timeout)
		if again.Status == "" {
			fatalf("status_request answered with empty status")
		}
		report(again, *verbose)
		pushed = again
	}

	if *waitTerminal {
		deadline := time.Now().Add(*waitFor)
		for !pushed.Terminal() {
			left := time.Until(deadline)
			if left <= 0 {
				fatalf("no terminal status within %s (last=%s)", *waitFor, pushed.Status)
			}
			pushed = mustReadStatus(root, conn, left)
			report(pushed, *verbose)
		}
	}

	fmt.Println("OK")
}

func mustStart(parent context.Context, base, phone string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if strings.TrimSpace(phone) != "" {
		raw, _ := json.Marshal(map[string]string{"phone_number": phone})
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/pair", body)
	if err != nil {
		fatalf("build POST /pair: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST /pair: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		fatalf("POST /pair: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out struct {
		AttemptID string `json:"attemptId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode POST /pair: %v", err)
	}
	if strings.TrimSpace(out.AttemptID) == "" {
		fatalf("POST /pair: missing attemptId")
	}
	return out.AttemptID
}

func mustHTTPStatus(parent context.Context, base, attemptID string, stepTimeout time.Duration) v1.StatusPayload {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/pair/"+url.PathEscape(attemptID)+"/status", nil)
	if err != nil {
		fatalf("build GET status: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("GET status: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("GET status: unexpected status %d", resp.StatusCode)
	}
	var p v1.StatusPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		fatalf("decode status: %v", err)
	}
	switch p.Status {
	case v1.StatusConnecting, v1.StatusPendingScan:
	default:
		fatalf("fresh attempt reported %q", p.Status)
	}
	return p
}

func mustConnect(parent context.Context, wsURL, origin string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", wsURL, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		fatalf("missing handshake response")
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

// mustReadStatus reads envelopes until a status arrives. Error envelopes fail
// the run.
func mustReadStatus(parent context.Context, conn *websocket.Conn, stepTimeout time.Duration) v1.StatusPayload {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				fatalf("timeout waiting for status")
			}
			fatalf("read: %v", err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			fatalf("decode envelope: %v", err)
		}
		if err := env.Validate(); err != nil {
			fatalf("invalid envelope: %v", err)
		}
		switch env.Type {
		case v1.TypeStatus:
			var p v1.StatusPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				fatalf("decode status payload: %v", err)
			}
			return p
		case v1.TypeError:
			var p v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			fatalf("server error: %s: %s", p.Code, p.Message)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal %s: %v", env.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", env.Type, err)
	}
}

func report(p v1.StatusPayload, verbose bool) {
	switch p.Status {
	case v1.StatusPendingScan:
		fmt.Printf("pending_scan: code=%s\n", p.Code)
		if verbose && p.QRDataURL != "" {
			fmt.Printf("qr_data_url: %d bytes\n", len(p.QRDataURL))
		}
	case v1.StatusScannedSuccess:
		fmt.Printf("scanned_success: identity=%s\n", p.Identity)
	case v1.StatusExpiredOrError:
		fmt.Printf("expired_or_error: %s\n", p.Detail)
	default:
		fmt.Printf("%s\n", p.Status)
	}
}

func wsURL(base, attemptID string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	default:
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/pair/" + url.PathEscape(attemptID) + "/ws"
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
