package callkit

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// Keepalive tokens exchanged over the socket. The client sends the ping; any
// matching pong frame is consumed and never surfaced as a Message.
const (
	keepalivePing = "ping"
	keepalivePong = "pong"
)

// DefaultTTSAudioFormat is assumed for binary audio frames when the transport
// does not name a format.
const DefaultTTSAudioFormat = "audio/mpeg"

// MessageKind tags the closed set of Message variants produced by frame
// classification.
type MessageKind string

const (
	MessageUserText   MessageKind = "user_text"
	MessageAgentText  MessageKind = "agent_text"
	MessageSystem     MessageKind = "system"
	MessageAudioChunk MessageKind = "audio_chunk"
	MessageTTSAudio   MessageKind = "tts_audio"
)

// SystemEvent is the structured payload carried by a system Message. The peer
// sends these as JSON text frames for presence-style events.
type SystemEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is one classified inbound or outbound conversation item. Messages
// are immutable once constructed and are emitted to observers, never mutated.
type Message struct {
	Kind      MessageKind
	Content   string
	Timestamp time.Time
	SessionID string

	// AudioPayload and AudioFormat are set for tts_audio messages only.
	AudioPayload []byte
	AudioFormat  string

	// Event is set for system messages only.
	Event *SystemEvent
}

// classifyFrame converts one inbound socket frame into exactly one Message.
//
// Classification order is a contract: keepalive before JSON, JSON before
// plain text, so that a pong is never misread as an agent reply and a JSON
// event is never surfaced as raw text. It returns ok=false for frames that
// are consumed silently (the keepalive ack and unsupported frame types).
func classifyFrame(sessionID string, messageType int, data []byte, now time.Time) (Message, bool) {
	switch messageType {
	case websocket.TextMessage:
		text := string(data)
		if text == keepalivePong {
			return Message{}, false
		}
		if event, ok := decodeSystemEvent(data); ok {
			return Message{
				Kind:      MessageSystem,
				Content:   event.Type,
				Timestamp: now,
				SessionID: sessionID,
				Event:     event,
			}, true
		}
		return Message{
			Kind:      MessageAgentText,
			Content:   text,
			Timestamp: now,
			SessionID: sessionID,
		}, true
	case websocket.BinaryMessage:
		return Message{
			Kind:         MessageTTSAudio,
			Timestamp:    now,
			SessionID:    sessionID,
			AudioPayload: append([]byte(nil), data...),
			AudioFormat:  DefaultTTSAudioFormat,
		}, true
	default:
		return Message{}, false
	}
}

// decodeSystemEvent reports whether data is a JSON object carrying a
// recognized type field.
func decodeSystemEvent(data []byte) (*SystemEvent, bool) {
	if len(data) == 0 || data[0] != '{' {
		return nil, false
	}
	var event SystemEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, false
	}
	if event.Type == "" {
		return nil, false
	}
	return &event, true
}
