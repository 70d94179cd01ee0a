package callkit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
)

const defaultDialTimeout = 15 * time.Second

// ReconnectPolicy bounds automatic reconnection after an unexpected close.
// Attempt k (starting at 1) is scheduled after BaseDelay * 2^(k-1); once
// MaxAttempts is exhausted the connection stays disconnected until the caller
// re-initiates.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// DefaultReconnectPolicy returns the default bounded backoff schedule.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{BaseDelay: time.Second, MaxAttempts: 5}
}

// connManager owns the one socket per session. It establishes, tears down,
// and reconnects the socket, and publishes every state transition. No other
// component touches the socket directly.
type connManager struct {
	dialer    *websocket.Dialer
	logger    *slog.Logger
	metrics   *Metrics
	policy    ReconnectPolicy
	keepalive time.Duration

	notify            func(ConnState)
	onFrame           func(messageType int, data []byte)
	onUnexpectedClose func()

	// waitRetry sleeps for one backoff delay, returning false when ctx is
	// cancelled first. Replaced in tests to observe the schedule.
	waitRetry func(ctx context.Context, delay time.Duration) bool

	mu            sync.Mutex
	conn          *websocket.Conn
	state         ConnState
	url           string
	attempts      int
	active        bool
	intentional   bool
	keepaliveStop chan struct{}
	retryCancel   context.CancelFunc

	writeMu sync.Mutex
}

func newConnManager(dialer *websocket.Dialer, logger *slog.Logger, metrics *Metrics, policy ReconnectPolicy, keepalive time.Duration) *connManager {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if logger == nil {
		logger = slog.Default()
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultReconnectPolicy().BaseDelay
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultReconnectPolicy().MaxAttempts
	}
	if keepalive <= 0 {
		keepalive = DefaultKeepaliveInterval
	}
	return &connManager{
		dialer:    dialer,
		logger:    logger,
		metrics:   metrics,
		policy:    policy,
		keepalive: keepalive,
		state:     StateDisconnected,
		waitRetry: func(ctx context.Context, delay time.Duration) bool {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return false
			case <-timer.C:
				return true
			}
		},
	}
}

// Connect opens the socket at the session-scoped address. It is idempotent
// while a socket is already open.
func (c *connManager) Connect(ctx context.Context, socketURL string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.url = socketURL
	c.active = true
	c.intentional = false
	c.mu.Unlock()

	return c.dial(ctx)
}

// Disconnect closes the socket deliberately. A deliberate close never
// triggers a reconnect.
func (c *connManager) Disconnect() {
	c.mu.Lock()
	c.active = false
	c.intentional = true
	conn := c.conn
	c.conn = nil
	retryCancel := c.retryCancel
	c.retryCancel = nil
	c.stopKeepaliveLocked()
	c.mu.Unlock()

	if retryCancel != nil {
		retryCancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.setState(StateDisconnected)
}

// State returns the current connection state.
func (c *connManager) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of reconnect attempts scheduled since the last
// successful connect.
func (c *connManager) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Ready reports whether the socket is connected and writable.
func (c *connManager) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.conn != nil
}

// WriteText sends a UTF-8 text frame.
func (c *connManager) WriteText(text string) error {
	return c.writeFrame(websocket.TextMessage, []byte(text))
}

// WriteBinary sends a raw binary frame.
func (c *connManager) WriteBinary(data []byte) error {
	return c.writeFrame(websocket.BinaryMessage, data)
}

func (c *connManager) writeFrame(messageType int, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return NewNotConnectedError("socket is not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

func (c *connManager) setState(state ConnState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	notify := c.notify
	c.mu.Unlock()
	if notify != nil {
		notify(state)
	}
}

func (c *connManager) dial(ctx context.Context) error {
	c.setState(StateConnecting)

	c.mu.Lock()
	socketURL := c.url
	c.mu.Unlock()

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, resp, err := c.dialer.DialContext(dialCtx, socketURL, nil)
	if err != nil {
		c.setState(StateError)
		if resp != nil {
			return &TransportError{Op: "GET", URL: socketURL, Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return &TransportError{Op: "GET", URL: socketURL, Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	stop := make(chan struct{})
	c.keepaliveStop = stop
	c.mu.Unlock()

	c.metrics.incConnects()
	c.setState(StateConnected)

	go c.readLoop(conn)
	go c.keepaliveLoop(stop)
	return nil
}

func (c *connManager) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		if c.onFrame != nil {
			c.onFrame(messageType, data)
		}
	}
}

func (c *connManager) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// Already replaced or torn down; this loop belongs to a dead socket.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.stopKeepaliveLocked()
	intentional := c.intentional
	active := c.active
	c.mu.Unlock()

	_ = conn.Close()

	if intentional || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.setState(StateDisconnected)
		return
	}

	c.logger.Warn("socket closed unexpectedly", "url", redactURLUserInfo(c.url), "error", err)
	c.setState(StateDisconnected)

	if !active {
		return
	}

	// An unexpected close while the call is active asks the peer to mark the
	// session ended, independent of whether reconnection succeeds.
	if c.onUnexpectedClose != nil {
		go c.onUnexpectedClose()
	}

	retryCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.retryCancel = cancel
	c.mu.Unlock()
	go c.reconnectLoop(retryCtx)
}

// reconnectLoop schedules bounded retries after an unexpected close. Attempt
// k waits BaseDelay * 2^(k-1); exhausting the attempt ceiling leaves the
// connection disconnected until the caller re-initiates.
func (c *connManager) reconnectLoop(ctx context.Context) {
	backoff := retry.NewExponential(c.policy.BaseDelay)
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		delay, _ := backoff.Next()
		if !c.waitRetry(ctx, delay) {
			return
		}

		c.mu.Lock()
		if !c.active {
			c.mu.Unlock()
			return
		}
		c.attempts = attempt
		c.mu.Unlock()

		c.metrics.incReconnectAttempts()
		c.logger.Info("reconnecting", "attempt", attempt, "max_attempts", c.policy.MaxAttempts, "delay", delay)

		if err := c.dial(ctx); err != nil {
			c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}
		c.metrics.incReconnects()
		return
	}

	c.logger.Error("reconnect attempts exhausted", "max_attempts", c.policy.MaxAttempts)
	c.setState(StateDisconnected)
}

func (c *connManager) keepaliveLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.writeFrame(websocket.TextMessage, []byte(keepalivePing)); err != nil {
				return
			}
			c.metrics.incKeepalives()
		}
	}
}

func (c *connManager) stopKeepaliveLocked() {
	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}
}
