package callkit

import (
	"log/slog"
	"sync"
	"time"
)

// frameWriter is the slice of the connection manager the dispatcher needs.
type frameWriter interface {
	Ready() bool
	WriteText(text string) error
	WriteBinary(data []byte) error
}

// audioInterrupter is the barge-in hook into the playback queue.
type audioInterrupter interface {
	StopAndClear()
}

// dispatcher serializes user text and raw audio onto the open socket.
// Sends require a connected socket and fail fast otherwise. User text first
// interrupts agent playback (barge-in), and an identical utterance inside the
// de-duplication window is absorbed: the upstream speech-capture collaborator
// is known to double-fire.
type dispatcher struct {
	conn    frameWriter
	audio   audioInterrupter
	logger  *slog.Logger
	metrics *Metrics

	dedupeWindow time.Duration
	now          func() time.Time

	mu         sync.Mutex
	lastText   string
	lastSentAt time.Time
}

func newDispatcher(conn frameWriter, audio audioInterrupter, logger *slog.Logger, metrics *Metrics, dedupeWindow time.Duration) *dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if dedupeWindow <= 0 {
		dedupeWindow = DefaultDedupeWindow
	}
	return &dispatcher{
		conn:         conn,
		audio:        audio,
		logger:       logger,
		metrics:      metrics,
		dedupeWindow: dedupeWindow,
		now:          time.Now,
	}
}

// SendText dispatches a user utterance. A duplicate inside the window is
// suppressed without error; exactly one message reaches the wire.
func (d *dispatcher) SendText(content string) error {
	if !d.conn.Ready() {
		return NewNotConnectedError("cannot send text: socket is not connected")
	}

	// Barge-in: the agent's voice must never overlap the user's.
	d.audio.StopAndClear()

	d.mu.Lock()
	now := d.now()
	if content == d.lastText && now.Sub(d.lastSentAt) < d.dedupeWindow {
		d.mu.Unlock()
		d.logger.Debug("suppressed duplicate utterance", "window", d.dedupeWindow)
		d.metrics.incDuplicatesSuppressed()
		return nil
	}
	d.mu.Unlock()

	if err := d.conn.WriteText(content); err != nil {
		return err
	}

	// Only a frame that actually reached the wire arms the window; a failed
	// write must not absorb the retry of the same utterance.
	d.mu.Lock()
	d.lastText = content
	d.lastSentAt = now
	d.mu.Unlock()

	d.metrics.incSent(MessageUserText)
	return nil
}

// SendAudioChunk dispatches one raw microphone audio chunk. The format is
// negotiated out of band; the wire carries bare bytes.
func (d *dispatcher) SendAudioChunk(data []byte, format string) error {
	if !d.conn.Ready() {
		return NewNotConnectedError("cannot send audio: socket is not connected")
	}
	if err := d.conn.WriteBinary(data); err != nil {
		return err
	}
	d.metrics.incSent(MessageAudioChunk)
	d.metrics.addAudioBytes("out", len(data))
	return nil
}
