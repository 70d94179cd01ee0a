package callkit

import "sync"

// ConnState is the observable connection status of a call session.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateError        ConnState = "error"
)

// Subscription is a handle to a registered listener. Unsubscribe detaches the
// listener without affecting other subscribers.
type Subscription struct {
	bus  *eventBus
	kind eventKind
	id   uint64
}

// Unsubscribe removes the listener. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s.kind, s.id)
}

type eventKind int

const (
	kindConnState eventKind = iota
	kindMessage
)

// eventBus fans events out to independent listeners keyed by event kind.
// Listeners are invoked synchronously in registration order; callbacks must
// not block.
type eventBus struct {
	mu     sync.Mutex
	nextID uint64
	conn   map[uint64]func(ConnState)
	msg    map[uint64]func(Message)
	order  map[eventKind][]uint64
}

func newEventBus() *eventBus {
	return &eventBus{
		conn:  make(map[uint64]func(ConnState)),
		msg:   make(map[uint64]func(Message)),
		order: make(map[eventKind][]uint64),
	}
}

func (b *eventBus) onConnState(fn func(ConnState)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.conn[id] = fn
	b.order[kindConnState] = append(b.order[kindConnState], id)
	return &Subscription{bus: b, kind: kindConnState, id: id}
}

func (b *eventBus) onMessage(fn func(Message)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.msg[id] = fn
	b.order[kindMessage] = append(b.order[kindMessage], id)
	return &Subscription{bus: b, kind: kindMessage, id: id}
}

func (b *eventBus) remove(kind eventKind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch kind {
	case kindConnState:
		delete(b.conn, id)
	case kindMessage:
		delete(b.msg, id)
	}
	ids := b.order[kind]
	for i, existing := range ids {
		if existing == id {
			b.order[kind] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
}

func (b *eventBus) publishConnState(state ConnState) {
	for _, fn := range b.connListeners() {
		fn(state)
	}
}

func (b *eventBus) publishMessage(msg Message) {
	for _, fn := range b.msgListeners() {
		fn(msg)
	}
}

func (b *eventBus) connListeners() []func(ConnState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]func(ConnState), 0, len(b.conn))
	for _, id := range b.order[kindConnState] {
		if fn, ok := b.conn[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (b *eventBus) msgListeners() []func(Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]func(Message), 0, len(b.msg))
	for _, id := range b.order[kindMessage] {
		if fn, ok := b.msg[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
