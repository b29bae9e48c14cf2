package ws

import (
	"encoding/json"

	"github.com/Strob0t/tideway/internal/domain/event"
)

// Message type constants for WebSocket frames.
const (
	TypeConnected = "connected"
	TypeEvent     = "event"
)

// Message is the envelope for all WebSocket frames.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ConnectedPayload is the first frame of every connection.
type ConnectedPayload struct {
	SubscriberID string `json:"subscriberId"`
	Topic        string `json:"topic"`
}

// EventPayload carries one delivered envelope. The payload bytes are sent
// as a string since they need not be JSON.
type EventPayload struct {
	ID          string `json:"id"`
	Topic       string `json:"topic"`
	Data        string `json:"data"`
	PublishedAt string `json:"publishedAt"`
}

func newMessage(typ string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Payload: data}, nil
}

func eventMessage(env event.Envelope) (Message, error) {
	return newMessage(TypeEvent, EventPayload{
		ID:          env.ID(),
		Topic:       env.Topic(),
		Data:        string(env.Payload()),
		PublishedAt: env.CreatedAt().Format(timeLayout),
	})
}
