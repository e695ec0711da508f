package stream

import (
	"encoding/json"

	"github.com/patrickspencer/chatbat/internal/store"
)

// Event types written to the stream.
const (
	TypeConnected  = "connected"
	TypeHistory    = "history"
	TypeRefresh    = "refresh"
	TypeNewMessage = "newMessage"
)

// Event is one pushed event. History and refresh carry the full log,
// newMessage carries one message and connected carries a text notice.
type Event struct {
	Type     string
	Messages []store.Message
	Message  *store.Message
	Text     string
}

type logPayload struct {
	Type     string          `json:"type"`
	Messages []store.Message `json:"messages"`
}

type messagePayload struct {
	Type    string         `json:"type"`
	Message *store.Message `json:"message"`
}

type noticePayload struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// MarshalJSON encodes the event in its wire shape, e.g.
// {"type":"history","messages":[...]} or {"type":"newMessage","message":{...}}.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypeHistory, TypeRefresh:
		messages := e.Messages
		if messages == nil {
			messages = []store.Message{}
		}
		return json.Marshal(logPayload{Type: e.Type, Messages: messages})
	case TypeNewMessage:
		return json.Marshal(messagePayload{Type: e.Type, Message: e.Message})
	default:
		return json.Marshal(noticePayload{Type: e.Type, Message: e.Text})
	}
}

// UnmarshalJSON decodes any of the wire shapes produced by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string          `json:"type"`
		Messages []store.Message `json:"messages"`
		Message  json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Event{Type: raw.Type, Messages: raw.Messages}
	if len(raw.Message) == 0 || string(raw.Message) == "null" {
		return nil
	}
	if raw.Message[0] == '"' {
		return json.Unmarshal(raw.Message, &e.Text)
	}
	var m store.Message
	if err := json.Unmarshal(raw.Message, &m); err != nil {
		return err
	}
	e.Message = &m
	return nil
}

func logEvent(typ string, messages []store.Message) Event {
	return Event{Type: typ, Messages: messages}
}

func messageEvent(m store.Message) Event {
	return Event{Type: TypeNewMessage, Message: &m}
}

// Sink receives the events of one session. Send and Keepalive must flush so
// the peer sees the event immediately.
type Sink interface {
	Send(evt Event) error
	Keepalive() error
}
