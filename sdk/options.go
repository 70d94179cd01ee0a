package callkit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL of the call peer's REST API.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithAPIKey sets the API key sent as a bearer token on REST requests.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client for REST lifecycle calls.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracer sets the OpenTelemetry tracer for REST lifecycle calls.
func WithTracer(t trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithDialer sets a custom WebSocket dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithPlayer sets the audio playback implementation. When unset, a
// speaker-backed player is initialized lazily on the first call.
func WithPlayer(p Player) ClientOption {
	return func(c *Client) {
		c.player = p
	}
}

// WithMetrics attaches Prometheus metrics to the client.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithKeepaliveInterval overrides the keepalive ping interval.
func WithKeepaliveInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.keepaliveInterval = d
		}
	}
}

// WithDedupeWindow overrides the duplicate-utterance suppression window.
func WithDedupeWindow(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.dedupeWindow = d
		}
	}
}

// WithReconnectPolicy overrides the bounded reconnect backoff schedule.
func WithReconnectPolicy(p ReconnectPolicy) ClientOption {
	return func(c *Client) {
		c.reconnect = p
	}
}

// WithSampleRate sets the PCM sample rate for the default speaker player.
func WithSampleRate(hz int) ClientOption {
	return func(c *Client) {
		if hz > 0 {
			c.sampleRateHz = hz
		}
	}
}
