package callkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

const (
	restMaxRetries    = 2
	restRetryDelay    = 200 * time.Millisecond
	bestEffortTimeout = 5 * time.Second
)

// CallsService drives call lifecycle against the REST peer and binds each
// call to its socket. At most one call is active per client instance.
type CallsService struct {
	client *Client

	mu       sync.Mutex
	active   *CallSession
	starting bool
}

// callEnvelope is the peer's create/join response.
type callEnvelope struct {
	CallID    string `json:"call_id"`
	SocketURL string `json:"socket_url"`
}

// Start creates a new call. It requests a call id and socket address from the
// peer; when the peer is unreachable it falls back to a locally generated id
// so the client still functions in a degraded, server-unaware mode. The call
// is marked active before the socket is opened.
func (s *CallsService) Start(ctx context.Context) (*CallSession, error) {
	if err := s.reserve(); err != nil {
		return nil, err
	}
	defer s.release()

	ctx, end := s.client.span(ctx, "calls.start")
	defer end()

	var (
		id        string
		socketURL string
		local     bool
	)

	var envelope callEnvelope
	if err := s.doJSON(ctx, http.MethodPost, "/v1/calls", nil, &envelope); err != nil {
		// Degraded mode: the peer never hears about this call, but the user
		// can still talk over a directly derived socket address.
		s.client.logger.Warn("call create failed, falling back to local id", "error", err)
		id = uuid.NewString()
		local = true
	} else {
		id = envelope.CallID
		socketURL = envelope.SocketURL
	}
	if id == "" {
		return nil, NewAPIError("peer returned an empty call id")
	}
	if socketURL == "" {
		derived, err := s.client.socketURLForCall(id)
		if err != nil {
			return nil, err
		}
		socketURL = derived
	}

	return s.connectSession(ctx, id, socketURL, local)
}

// Join attaches to an existing call id. It fails when a call is already
// active on this client.
func (s *CallsService) Join(ctx context.Context, id string) (*CallSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, NewInvalidRequestError("call id must not be empty")
	}
	if err := s.reserve(); err != nil {
		return nil, err
	}
	defer s.release()

	ctx, end := s.client.span(ctx, "calls.join")
	defer end()

	var envelope callEnvelope
	if err := s.doJSON(ctx, http.MethodPost, "/v1/calls/"+url.PathEscape(id)+"/join", nil, &envelope); err != nil {
		return nil, err
	}
	socketURL := envelope.SocketURL
	if socketURL == "" {
		derived, err := s.client.socketURLForCall(id)
		if err != nil {
			return nil, err
		}
		socketURL = derived
	}

	return s.connectSession(ctx, id, socketURL, false)
}

// Delete removes one historical call record. It is independent of whether a
// call is currently active.
func (s *CallsService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return NewInvalidRequestError("call id must not be empty")
	}
	ctx, end := s.client.span(ctx, "calls.delete")
	defer end()
	return s.doJSON(ctx, http.MethodDelete, "/v1/calls/"+url.PathEscape(id), nil, nil)
}

// DeleteAll removes all historical call records.
func (s *CallsService) DeleteAll(ctx context.Context) error {
	ctx, end := s.client.span(ctx, "calls.delete_all")
	defer end()
	return s.doJSON(ctx, http.MethodDelete, "/v1/calls", nil, nil)
}

// Active returns the currently active session, or nil.
func (s *CallsService) Active() *CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *CallsService) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil || s.starting {
		return NewCallActiveError("a call is already active on this client")
	}
	s.starting = true
	return nil
}

func (s *CallsService) release() {
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
}

func (s *CallsService) connectSession(ctx context.Context, id, socketURL string, local bool) (*CallSession, error) {
	session := newCallSession(s, id, local)
	session.setState(SessionStarting)
	// Local state goes active before the socket opens; remote confirmation is
	// advisory.
	session.setState(SessionActive)

	if err := session.conn.Connect(ctx, socketURL); err != nil {
		session.teardown()
		return nil, err
	}

	s.mu.Lock()
	s.active = session
	s.mu.Unlock()
	return session, nil
}

func (s *CallsService) clearActive(session *CallSession) {
	s.mu.Lock()
	if s.active == session {
		s.active = nil
	}
	s.mu.Unlock()
}

// endRemote asks the peer to mark the call ended. Callers treat failures as
// advisory.
func (s *CallsService) endRemote(ctx context.Context, id string) error {
	ctx, end := s.client.span(ctx, "calls.end")
	defer end()
	return s.doJSON(ctx, http.MethodPost, "/v1/calls/"+url.PathEscape(id)+"/end", nil, nil)
}

// doJSON performs one REST lifecycle request with bounded retry on transport
// errors and 5xx responses.
func (s *CallsService) doJSON(ctx context.Context, method, path string, body, out any) error {
	endpoint, err := s.client.endpoint(path)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s request: %w", method, path, err)
		}
	}

	backoff := retry.WithMaxRetries(restMaxRetries, retry.NewConstant(restRetryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if s.client.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.client.apiKey)
		}

		resp, err := s.client.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(&TransportError{Op: method, URL: endpoint, Err: err})
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(decodeErrorResponse(resp))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return decodeErrorResponse(resp)
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return NewAPIError(fmt.Sprintf("decode %s %s response: %v", method, path, err))
			}
		}
		return nil
	})
}

// decodeErrorResponse maps a non-2xx peer response onto a canonical *Error.
func decodeErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var envelope struct {
		Error *Error `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return envelope.Error
	}
	return NewAPIError(fmt.Sprintf("peer returned status %d", resp.StatusCode))
}

// endpoint joins the configured base URL with a REST path.
func (c *Client) endpoint(path string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
	if base == "" {
		return "", NewInvalidRequestError("base URL is not configured (set CALLKIT_BASE_URL or WithBaseURL)")
	}
	return base + path, nil
}

// socketURLForCall derives the session-scoped socket address from the base
// URL, switching http(s) to ws(s).
func (c *Client) socketURLForCall(id string) (string, error) {
	endpoint, err := c.endpoint("/v1/calls/" + url.PathEscape(id) + "/socket")
	if err != nil {
		return "", err
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", NewInvalidRequestError("invalid base URL")
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket scheme.
	default:
		return "", NewInvalidRequestError("base URL must use http(s) or ws(s)")
	}
	return u.String(), nil
}

// span starts a tracer span when a tracer is configured.
func (c *Client) span(ctx context.Context, name string) (context.Context, func()) {
	if c.tracer == nil {
		return ctx, func() {}
	}
	ctx, span := c.tracer.Start(ctx, name)
	return ctx, func() { span.End() }
}
