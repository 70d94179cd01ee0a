package callkit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// requestLog records REST traffic as "METHOD path" lines.
type requestLog struct {
	mu   sync.Mutex
	seen []string
}

func (l *requestLog) add(r *http.Request) {
	l.mu.Lock()
	l.seen = append(l.seen, r.Method+" "+r.URL.Path)
	l.mu.Unlock()
}

func (l *requestLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.seen...)
}

func (l *requestLog) contains(line string) bool {
	for _, s := range l.all() {
		if s == line {
			return true
		}
	}
	return false
}

// newCallTestServer serves REST lifecycle paths and upgrades any */socket
// path to a websocket handled by ws.
func newCallTestServer(t *testing.T, rest http.HandlerFunc, ws func(conn *websocket.Conn)) (string, *requestLog, func()) {
	t.Helper()

	log := &requestLog{}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/socket") {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			if ws != nil {
				ws(conn)
			} else {
				defer conn.Close()
				for {
					if _, _, err := conn.ReadMessage(); err != nil {
						return
					}
				}
			}
			return
		}
		log.add(r)
		if rest != nil {
			rest(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	return server.URL, log, server.Close
}

func newTestClient(baseURL string) *Client {
	return NewClient(
		WithBaseURL(baseURL),
		WithAPIKey("sk-test"),
		WithPlayer(newRecordingPlayer()),
		WithKeepaliveInterval(time.Hour),
	)
}

func TestCallsStart_UsesPeerCallID(t *testing.T) {
	t.Parallel()

	baseURL, log, closeServer := newCallTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/calls" {
			if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
				t.Errorf("authorization=%q", got)
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"call_id": "call_abc123"})
			return
		}
		w.WriteHeader(http.StatusOK)
	}, nil)
	defer closeServer()

	client := newTestClient(baseURL)
	session, err := client.Calls.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer session.End(context.Background())

	if session.ID() != "call_abc123" {
		t.Fatalf("id=%q, want call_abc123", session.ID())
	}
	if session.State() != SessionActive {
		t.Fatalf("state=%v, want active", session.State())
	}
	waitFor(t, 2*time.Second, func() bool { return session.ConnectionState() == StateConnected })
	if client.Calls.Active() != session {
		t.Fatalf("Active() must return the started session")
	}
	if !log.contains("POST /v1/calls") {
		t.Fatalf("requests=%v, want POST /v1/calls", log.all())
	}
}

func TestCallsStart_FallsBackToLocalIDWhenPeerFails(t *testing.T) {
	t.Parallel()

	baseURL, log, closeServer := newCallTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/calls" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}, nil)
	defer closeServer()

	client := newTestClient(baseURL)
	session, err := client.Calls.Start(context.Background())
	if err != nil {
		t.Fatalf("Start must degrade, not fail: %v", err)
	}
	if session.ID() == "" {
		t.Fatalf("expected a locally minted id")
	}
	waitFor(t, 2*time.Second, func() bool { return session.ConnectionState() == StateConnected })

	// Ending a local call never reaches the peer.
	if err := session.End(context.Background()); err != nil {
		t.Fatalf("End: %v", err)
	}
	for _, line := range log.all() {
		if strings.HasSuffix(line, "/end") {
			t.Fatalf("local call must not notify the peer: %v", log.all())
		}
	}
	if session.State() != SessionIdle {
		t.Fatalf("state=%v, want idle", session.State())
	}
}

func TestCallsStart_RejectedWhileCallActive(t *testing.T) {
	t.Parallel()

	baseURL, _, closeServer := newCallTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"call_id": "call_1"})
	}, nil)
	defer closeServer()

	client := newTestClient(baseURL)
	session, err := client.Calls.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer session.End(context.Background())

	if _, err := client.Calls.Start(context.Background()); err == nil {
		t.Fatalf("second Start must fail while a call is active")
	}
	if _, err := client.Calls.Join(context.Background(), "call_2"); err == nil {
		t.Fatalf("Join must fail while a call is active")
	}
	var apiErr *Error
	_, err = client.Calls.Join(context.Background(), "call_2")
	if !errors.As(err, &apiErr) || apiErr.Type != ErrCallActive {
		t.Fatalf("err=%v, want call_active_error", err)
	}
}

func TestCallsJoin_AttachesToExistingCall(t *testing.T) {
	t.Parallel()

	baseURL, log, closeServer := newCallTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/calls/call_77/join" {
			_ = json.NewEncoder(w).Encode(map[string]string{"call_id": "call_77"})
			return
		}
		w.WriteHeader(http.StatusOK)
	}, nil)
	defer closeServer()

	client := newTestClient(baseURL)
	session, err := client.Calls.Join(context.Background(), "call_77")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer session.End(context.Background())

	if session.ID() != "call_77" {
		t.Fatalf("id=%q", session.ID())
	}
	if !log.contains("POST /v1/calls/call_77/join") {
		t.Fatalf("requests=%v", log.all())
	}
}

func TestCallsJoin_EmptyIDRejected(t *testing.T) {
	t.Parallel()

	client := newTestClient("http://127.0.0.1:1")
	_, err := client.Calls.Join(context.Background(), "   ")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Type != ErrInvalidRequest {
		t.Fatalf("err=%v, want invalid_request_error", err)
	}
}

func TestCallsDelete_And_DeleteAll(t *testing.T) {
	t.Parallel()

	baseURL, log, closeServer := newCallTestServer(t, nil, nil)
	defer closeServer()

	client := newTestClient(baseURL)
	if err := client.Calls.Delete(context.Background(), "call_9"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := client.Calls.DeleteAll(context.Background()); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if !log.contains("DELETE /v1/calls/call_9") || !log.contains("DELETE /v1/calls") {
		t.Fatalf("requests=%v", log.all())
	}
}

func TestCallsDelete_DecodesErrorEnvelope(t *testing.T) {
	t.Parallel()

	baseURL, _, closeServer := newCallTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"no such call"}}`))
	}, nil)
	defer closeServer()

	client := newTestClient(baseURL)
	err := client.Calls.Delete(context.Background(), "call_missing")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err=%T, want *Error", err)
	}
	if apiErr.Type != ErrInvalidRequest || apiErr.Message != "no such call" {
		t.Fatalf("err=%v", apiErr)
	}
}

func TestCallsEnd_BestEffortDespitePeerFailure(t *testing.T) {
	t.Parallel()

	baseURL, log, closeServer := newCallTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/calls" {
			_ = json.NewEncoder(w).Encode(map[string]string{"call_id": "call_end"})
			return
		}
		if strings.HasSuffix(r.URL.Path, "/end") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}, nil)
	defer closeServer()

	client := newTestClient(baseURL)
	session, err := client.Calls.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return session.ConnectionState() == StateConnected })

	if err := session.End(context.Background()); err != nil {
		t.Fatalf("End must tear down locally despite the peer failing: %v", err)
	}
	if session.State() != SessionIdle {
		t.Fatalf("state=%v, want idle", session.State())
	}
	if client.Calls.Active() != nil {
		t.Fatalf("Active() must clear after End")
	}
	if !log.contains("POST /v1/calls/call_end/end") {
		t.Fatalf("requests=%v, want the end notification attempted", log.all())
	}

	// A fresh call may start after teardown.
	session2, err := client.Calls.Start(context.Background())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer session2.End(context.Background())
}

func TestCallsStart_NoBaseURLFails(t *testing.T) {
	t.Parallel()

	client := NewClient(WithBaseURL(""), WithPlayer(newRecordingPlayer()))
	_, err := client.Calls.Start(context.Background())
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Type != ErrInvalidRequest {
		t.Fatalf("err=%v, want invalid_request_error", err)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	t.Parallel()

	baseURL, log, closeServer := newCallTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/calls" {
			_ = json.NewEncoder(w).Encode(map[string]string{"call_id": "call_once"})
			return
		}
		w.WriteHeader(http.StatusOK)
	}, nil)
	defer closeServer()

	client := newTestClient(baseURL)
	session, err := client.Calls.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := session.End(context.Background()); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := session.End(context.Background()); err != nil {
		t.Fatalf("second End: %v", err)
	}

	ends := 0
	for _, line := range log.all() {
		if line == "POST /v1/calls/call_once/end" {
			ends++
		}
	}
	if ends != 1 {
		t.Fatalf("end notifications=%d, want exactly 1", ends)
	}
}
