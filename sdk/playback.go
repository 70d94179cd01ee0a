package callkit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// AudioItem is one chunk of synthesized speech queued for playback.
type AudioItem struct {
	Payload []byte
	Format  string
}

// Player materializes one audio item into a transient playback resource.
//
// Play blocks until playback completes or ctx is cancelled. A cancelled ctx
// must halt output promptly; the returned error is context.Canceled in that
// case. The production implementation is OtoPlayer; tests use fakes.
type Player interface {
	Play(ctx context.Context, item AudioItem) error
}

// PlaybackQueue buffers synthesized-speech chunks and plays them strictly one
// at a time, in arrival order. At most one item is in flight at any instant;
// items are removed only after playback completes or fails. A failed chunk is
// dropped and the queue continues with the next one.
type PlaybackQueue struct {
	player  Player
	logger  *slog.Logger
	metrics *Metrics

	mu        sync.Mutex
	cond      *sync.Cond
	items     []AudioItem
	inFlight  bool
	interrupt context.CancelFunc
	closed    bool
	done      chan struct{}

	// gen increments whenever the pending slice is cleared wholesale, so the
	// worker can tell its interrupted head apart from speech enqueued after a
	// barge-in.
	gen uint64
}

// NewPlaybackQueue creates a queue draining into player. The queue owns a
// single worker; Close releases it.
func NewPlaybackQueue(player Player, logger *slog.Logger, metrics *Metrics) *PlaybackQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &PlaybackQueue{
		player:  player,
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

// Enqueue appends an item to the tail. Playback of the head starts
// autonomously whenever nothing is currently playing.
func (q *PlaybackQueue) Enqueue(item AudioItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, item)
	q.cond.Signal()
}

// StopAndClear halts any in-progress playback immediately and discards all
// pending items. This is the barge-in operation: it guarantees the agent's
// voice never overlaps the user's.
func (q *PlaybackQueue) StopAndClear() {
	q.mu.Lock()
	discarded := len(q.items)
	q.items = nil
	q.gen++
	interrupt := q.interrupt
	q.mu.Unlock()

	if interrupt != nil {
		interrupt()
	}
	for i := 0; i < discarded; i++ {
		q.metrics.incPlayback("discarded")
	}
}

// Len reports the number of queued items, excluding any in-flight one.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InFlight reports whether an item is currently playing.
func (q *PlaybackQueue) InFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Close halts playback and releases the worker. The queue cannot be reused.
func (q *PlaybackQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	q.gen++
	interrupt := q.interrupt
	q.cond.Broadcast()
	q.mu.Unlock()

	if interrupt != nil {
		interrupt()
	}
	<-q.done
}

func (q *PlaybackQueue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		gen := q.gen
		ctx, cancel := context.WithCancel(context.Background())
		q.interrupt = cancel
		q.inFlight = true
		q.mu.Unlock()

		err := q.player.Play(ctx, item)
		cancel()

		q.mu.Lock()
		q.inFlight = false
		q.interrupt = nil
		// Pop the head only if it is still ours. StopAndClear may have
		// emptied the slice mid-play, and anything there now is fresh speech
		// enqueued after the barge-in.
		if gen == q.gen && len(q.items) > 0 {
			q.items = q.items[1:]
		}
		q.mu.Unlock()

		switch {
		case err == nil:
			q.metrics.incPlayback("played")
		case errors.Is(err, context.Canceled):
			q.metrics.incPlayback("interrupted")
		default:
			// One bad chunk must not stall the queue: drop it and continue.
			q.logger.Warn("audio playback failed, dropping chunk", "format", item.Format, "bytes", len(item.Payload), "error", err)
			q.metrics.incPlayback("failed")
		}
	}
}
