package callkit

import (
	"bytes"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestClassifyFrame_PongConsumedSilently(t *testing.T) {
	t.Parallel()

	_, ok := classifyFrame("call_1", websocket.TextMessage, []byte("pong"), time.Now())
	if ok {
		t.Fatalf("keepalive ack must not surface as a message")
	}
}

func TestClassifyFrame_JSONEventBecomesSystemMessage(t *testing.T) {
	t.Parallel()

	now := time.Now()
	msg, ok := classifyFrame("call_1", websocket.TextMessage, []byte(`{"type":"user_joined","data":{"user":"u_42"}}`), now)
	if !ok {
		t.Fatalf("expected a surfaced message")
	}
	if msg.Kind != MessageSystem {
		t.Fatalf("kind=%q, want %q", msg.Kind, MessageSystem)
	}
	if msg.Event == nil || msg.Event.Type != "user_joined" {
		t.Fatalf("event=%+v, want type user_joined", msg.Event)
	}
	if msg.Content != "user_joined" {
		t.Fatalf("content=%q, want %q", msg.Content, "user_joined")
	}
	if !msg.Timestamp.Equal(now) {
		t.Fatalf("timestamp=%v, want %v", msg.Timestamp, now)
	}
	if msg.SessionID != "call_1" {
		t.Fatalf("session=%q, want call_1", msg.SessionID)
	}
}

func TestClassifyFrame_PlainTextBecomesAgentText(t *testing.T) {
	t.Parallel()

	msg, ok := classifyFrame("call_1", websocket.TextMessage, []byte("hello there"), time.Now())
	if !ok {
		t.Fatalf("expected a surfaced message")
	}
	if msg.Kind != MessageAgentText {
		t.Fatalf("kind=%q, want %q", msg.Kind, MessageAgentText)
	}
	if msg.Content != "hello there" {
		t.Fatalf("content=%q", msg.Content)
	}
}

func TestClassifyFrame_MalformedJSONFallsBackToAgentText(t *testing.T) {
	t.Parallel()

	for _, text := range []string{`{"type":`, `{"data":{}}`, `{}`} {
		msg, ok := classifyFrame("call_1", websocket.TextMessage, []byte(text), time.Now())
		if !ok {
			t.Fatalf("frame %q should surface", text)
		}
		if msg.Kind != MessageAgentText {
			t.Fatalf("frame %q: kind=%q, want %q", text, msg.Kind, MessageAgentText)
		}
	}
}

func TestClassifyFrame_BinaryBecomesTTSAudioWithDefaultFormat(t *testing.T) {
	t.Parallel()

	payload := []byte{0x01, 0x02, 0x03}
	msg, ok := classifyFrame("call_1", websocket.BinaryMessage, payload, time.Now())
	if !ok {
		t.Fatalf("expected a surfaced message")
	}
	if msg.Kind != MessageTTSAudio {
		t.Fatalf("kind=%q, want %q", msg.Kind, MessageTTSAudio)
	}
	if msg.AudioFormat != DefaultTTSAudioFormat {
		t.Fatalf("format=%q, want %q", msg.AudioFormat, DefaultTTSAudioFormat)
	}
	if !bytes.Equal(msg.AudioPayload, payload) {
		t.Fatalf("payload=%v, want %v", msg.AudioPayload, payload)
	}

	// The classifier copies; mutating the source frame must not leak through.
	payload[0] = 0xFF
	if msg.AudioPayload[0] == 0xFF {
		t.Fatalf("classifier must copy the binary payload")
	}
}

func TestClassifyFrame_UnsupportedMessageTypeDropped(t *testing.T) {
	t.Parallel()

	_, ok := classifyFrame("call_1", websocket.PingMessage, []byte("x"), time.Now())
	if ok {
		t.Fatalf("control frame types must be dropped")
	}
}

func TestClassifyFrame_KeepalivePongCheckedBeforeJSON(t *testing.T) {
	t.Parallel()

	// A literal pong wins even though a JSON event with type "pong" would
	// classify as system.
	msg, ok := classifyFrame("call_1", websocket.TextMessage, []byte(`{"type":"pong"}`), time.Now())
	if !ok {
		t.Fatalf("JSON pong event should surface as system")
	}
	if msg.Kind != MessageSystem {
		t.Fatalf("kind=%q, want %q", msg.Kind, MessageSystem)
	}
}
