// Package callkit provides the Voxline live call client SDK for Go.
//
// The SDK conducts a live, bidirectional conversation with a remote
// conversational agent over one persistent WebSocket per call, interleaving
// user text, microphone audio, and synthesized agent speech. Call lifecycle
// (start/join/end/delete) runs against the Voxline REST peer; everything else
// happens on the socket.
package callkit

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"
)

// Fixed protocol intervals, overridable per client. The values mirror the
// peer's expectations; change them only when the peer changes.
const (
	// DefaultKeepaliveInterval is how often a connected client pings the peer.
	DefaultKeepaliveInterval = 30 * time.Second

	// DefaultDedupeWindow absorbs double-fired identical utterances from the
	// upstream speech-capture collaborator.
	DefaultDedupeWindow = 2 * time.Second
)

// Client is the main entry point for the SDK. Construct one per consumer;
// there is no process-wide shared state.
type Client struct {
	Calls *CallsService

	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	dialer     *websocket.Dialer
	metrics    *Metrics

	player     Player
	playerOnce sync.Once

	keepaliveInterval time.Duration
	dedupeWindow      time.Duration
	reconnect         ReconnectPolicy
	sampleRateHz      int
}

// NewClient creates a new client. The peer base address and API key are read
// from CALLKIT_BASE_URL and CALLKIT_API_KEY unless overridden by options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:           os.Getenv("CALLKIT_BASE_URL"),
		apiKey:            os.Getenv("CALLKIT_API_KEY"),
		logger:            slog.Default(),
		keepaliveInterval: DefaultKeepaliveInterval,
		dedupeWindow:      DefaultDedupeWindow,
		reconnect:         DefaultReconnectPolicy(),
		sampleRateHz:      DefaultSampleRateHz,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newDefaultHTTPClient()
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}

	c.Calls = &CallsService{client: c}
	return c
}

// playbackPlayer returns the injected Player, initializing the default
// speaker-backed one lazily on first use. When no audio device is available
// playback degrades to discarding chunks; that is logged, not fatal.
func (c *Client) playbackPlayer() Player {
	c.playerOnce.Do(func() {
		if c.player != nil {
			return
		}
		player, err := NewOtoPlayer(c.sampleRateHz)
		if err != nil {
			c.logger.Warn("speaker unavailable, agent audio will be discarded", "error", err)
			c.player = discardPlayer{}
			return
		}
		c.player = player
	})
	return c.player
}

// discardPlayer drops audio. Used when no speaker can be initialized.
type discardPlayer struct{}

func (discardPlayer) Play(ctx context.Context, item AudioItem) error { return nil }
