package callkit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for a call client. All recording helpers
// are nil-safe so the SDK works without metrics wired.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	ConnectsTotal          prometheus.Counter
	ReconnectAttemptsTotal prometheus.Counter
	ReconnectsTotal        prometheus.Counter
	KeepalivesTotal        prometheus.Counter

	// Frame metrics
	FramesTotal       *prometheus.CounterVec
	MessagesSentTotal *prometheus.CounterVec
	AudioBytesTotal   *prometheus.CounterVec

	// Dispatch metrics
	DuplicatesSuppressedTotal prometheus.Counter

	// Playback metrics
	PlaybackTotal *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all metrics registered on a
// fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callkit"
	}

	registry := prometheus.NewRegistry()

	connectsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connects_total",
		Help:      "Total successful socket connects",
	})

	reconnectAttemptsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnect_attempts_total",
		Help:      "Total scheduled reconnect attempts",
	})

	reconnectsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_total",
		Help:      "Total successful reconnects after an unexpected close",
	})

	keepalivesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keepalives_total",
		Help:      "Total keepalive pings sent",
	})

	framesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total inbound frames by classified kind",
		},
		[]string{"kind"},
	)

	messagesSentTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total outbound messages by kind",
		},
		[]string{"kind"},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total audio bytes by direction",
		},
		[]string{"direction"},
	)

	duplicatesSuppressedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicates_suppressed_total",
		Help:      "Total user utterances suppressed by the de-duplication window",
	})

	playbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_total",
			Help:      "Total playback queue items by result",
		},
		[]string{"result"},
	)

	registry.MustRegister(
		connectsTotal,
		reconnectAttemptsTotal,
		reconnectsTotal,
		keepalivesTotal,
		framesTotal,
		messagesSentTotal,
		audioBytesTotal,
		duplicatesSuppressedTotal,
		playbackTotal,
	)

	return &Metrics{
		registry:                  registry,
		ConnectsTotal:             connectsTotal,
		ReconnectAttemptsTotal:    reconnectAttemptsTotal,
		ReconnectsTotal:           reconnectsTotal,
		KeepalivesTotal:           keepalivesTotal,
		FramesTotal:               framesTotal,
		MessagesSentTotal:         messagesSentTotal,
		AudioBytesTotal:           audioBytesTotal,
		DuplicatesSuppressedTotal: duplicatesSuppressedTotal,
		PlaybackTotal:             playbackTotal,
	}
}

// Registry returns the underlying Prometheus registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) incConnects() {
	if m == nil {
		return
	}
	m.ConnectsTotal.Inc()
}

func (m *Metrics) incReconnectAttempts() {
	if m == nil {
		return
	}
	m.ReconnectAttemptsTotal.Inc()
}

func (m *Metrics) incReconnects() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()
}

func (m *Metrics) incKeepalives() {
	if m == nil {
		return
	}
	m.KeepalivesTotal.Inc()
}

func (m *Metrics) incDuplicatesSuppressed() {
	if m == nil {
		return
	}
	m.DuplicatesSuppressedTotal.Inc()
}

func (m *Metrics) incFrame(kind MessageKind) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) incSent(kind MessageKind) {
	if m == nil {
		return
	}
	m.MessagesSentTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) addAudioBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) incPlayback(result string) {
	if m == nil {
		return
	}
	m.PlaybackTotal.WithLabelValues(result).Inc()
}
