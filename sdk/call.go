package callkit

import (
	"context"
	"sync"
	"time"
)

// SessionState is the lifecycle state of a call session. Transitions run
// idle → starting → active → ending → idle; entering idle cancels any pending
// keepalive and reconnect timers.
type SessionState string

const (
	SessionIdle     SessionState = "idle"
	SessionStarting SessionState = "starting"
	SessionActive   SessionState = "active"
	SessionEnding   SessionState = "ending"
)

// CallSession is one live call. It owns its connection manager, playback
// queue, and dispatcher; callers compose sessions instead of sharing a
// global.
type CallSession struct {
	calls  *CallsService
	client *Client
	id     string

	// local marks a degraded, server-unaware call whose id was minted
	// locally; lifecycle calls for it never reach the peer.
	local bool

	mu    sync.Mutex
	state SessionState

	bus   *eventBus
	conn  *connManager
	queue *PlaybackQueue
	disp  *dispatcher
}

func newCallSession(calls *CallsService, id string, local bool) *CallSession {
	client := calls.client
	s := &CallSession{
		calls:  calls,
		client: client,
		id:     id,
		local:  local,
		state:  SessionIdle,
		bus:    newEventBus(),
	}

	s.conn = newConnManager(client.dialer, client.logger, client.metrics, client.reconnect, client.keepaliveInterval)
	s.conn.notify = s.bus.publishConnState
	s.conn.onFrame = s.handleFrame
	s.conn.onUnexpectedClose = s.notifyPeerEnded

	s.queue = NewPlaybackQueue(client.playbackPlayer(), client.logger, client.metrics)
	s.disp = newDispatcher(s.conn, s.queue, client.logger, client.metrics, client.dedupeWindow)
	return s
}

// ID returns the call identifier. It is immutable for the session's lifetime.
func (s *CallSession) ID() string {
	return s.id
}

// State returns the session lifecycle state.
func (s *CallSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnectionState returns the connection sub-state.
func (s *CallSession) ConnectionState() ConnState {
	return s.conn.State()
}

// OnMessage registers a listener for classified inbound messages.
func (s *CallSession) OnMessage(fn func(Message)) *Subscription {
	return s.bus.onMessage(fn)
}

// OnConnectionState registers a listener for connection-state transitions.
func (s *CallSession) OnConnectionState(fn func(ConnState)) *Subscription {
	return s.bus.onConnState(fn)
}

// SendText sends a user utterance. Any agent speech in progress is superseded
// first (barge-in), and a duplicate inside the de-duplication window is
// absorbed silently.
func (s *CallSession) SendText(content string) error {
	return s.disp.SendText(content)
}

// SendAudioChunk sends one raw microphone audio chunk.
func (s *CallSession) SendAudioChunk(data []byte, format string) error {
	return s.disp.SendAudioChunk(data, format)
}

// StopPlayback discards any queued or in-flight agent audio. Invoke it when
// the user starts speaking so the agent's voice never overlaps theirs.
func (s *CallSession) StopPlayback() {
	s.queue.StopAndClear()
}

// End closes the call: a best-effort notification to the peer, then
// unconditional local teardown. The peer call failing never blocks the local
// cleanup.
func (s *CallSession) End(ctx context.Context) error {
	s.mu.Lock()
	if s.state != SessionActive {
		s.mu.Unlock()
		return nil
	}
	s.state = SessionEnding
	s.mu.Unlock()

	if !s.local {
		endCtx := ctx
		var cancel context.CancelFunc
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			endCtx, cancel = context.WithTimeout(ctx, bestEffortTimeout)
			defer cancel()
		}
		if err := s.calls.endRemote(endCtx, s.id); err != nil {
			s.client.logger.Warn("peer end call failed, tearing down locally", "call_id", s.id, "error", err)
		}
	}

	s.teardown()
	return nil
}

// Leave detaches from a joined call. Semantics match End: advisory peer
// notification, unconditional local teardown.
func (s *CallSession) Leave(ctx context.Context) error {
	return s.End(ctx)
}

func (s *CallSession) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// teardown cancels timers, closes the socket and the playback queue, and
// returns the session to idle.
func (s *CallSession) teardown() {
	s.conn.Disconnect()
	s.queue.Close()
	s.setState(SessionIdle)
	s.calls.clearActive(s)
}

// handleFrame classifies one inbound frame and routes it: every surfaced
// message goes to observers, and synthesized speech additionally feeds the
// playback queue.
func (s *CallSession) handleFrame(messageType int, data []byte) {
	msg, ok := classifyFrame(s.id, messageType, data, time.Now())
	if !ok {
		return
	}
	s.client.metrics.incFrame(msg.Kind)
	if msg.Kind == MessageTTSAudio {
		s.client.metrics.addAudioBytes("in", len(msg.AudioPayload))
		s.queue.Enqueue(AudioItem{Payload: msg.AudioPayload, Format: msg.AudioFormat})
	}
	s.bus.publishMessage(msg)
}

// notifyPeerEnded is invoked on an unexpected close while the call is active:
// a best-effort request asks the peer to mark the call ended, independent of
// whether reconnection succeeds.
func (s *CallSession) notifyPeerEnded() {
	if s.local {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), bestEffortTimeout)
	defer cancel()
	if err := s.calls.endRemote(ctx, s.id); err != nil {
		s.client.logger.Warn("best-effort end after unexpected close failed", "call_id", s.id, "error", err)
	}
}
