// Package event defines the Envelope, the immutable unit of published data.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/tideway/internal/domain"
)

// Envelope is a single published event. It is immutable once constructed:
// every subscriber channel shares the same value and must treat Payload as
// read-only.
type Envelope struct {
	id        string
	topic     string
	payload   []byte
	createdAt time.Time
}

// New validates topic and payload and returns an Envelope. An empty id is
// replaced with a generated UUID. maxPayload <= 0 disables the size check.
func New(topic, id string, payload []byte, maxPayload int64) (Envelope, error) {
	if err := ValidateTopic(topic); err != nil {
		return Envelope{}, err
	}
	if maxPayload > 0 && int64(len(payload)) > maxPayload {
		return Envelope{}, fmt.Errorf("%d bytes exceeds limit of %d: %w", len(payload), maxPayload, domain.ErrPayloadTooLarge)
	}
	if id == "" {
		id = uuid.NewString()
	}
	if strings.ContainsAny(id, "\r\n") {
		return Envelope{}, fmt.Errorf("event id contains a line break: %w", domain.ErrValidation)
	}

	p := make([]byte, len(payload))
	copy(p, payload)

	return Envelope{
		id:        id,
		topic:     topic,
		payload:   p,
		createdAt: time.Now().UTC(),
	}, nil
}

// ID returns the event identifier.
func (e Envelope) ID() string { return e.id }

// Topic returns the topic the event was published to.
func (e Envelope) Topic() string { return e.topic }

// Payload returns the raw payload bytes. Callers must not modify the slice.
func (e Envelope) Payload() []byte { return e.payload }

// CreatedAt returns the arrival time at the gateway.
func (e Envelope) CreatedAt() time.Time { return e.createdAt }

// WithTopic returns a copy of e addressed to another topic. The payload is
// shared, not copied.
func (e Envelope) WithTopic(topic string) (Envelope, error) {
	if err := ValidateTopic(topic); err != nil {
		return Envelope{}, err
	}
	e.topic = topic
	return e, nil
}

type envelopeJSON struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalJSON encodes the envelope with its payload as a string.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeJSON{
		ID:        e.id,
		Topic:     e.topic,
		Data:      string(e.payload),
		CreatedAt: e.createdAt,
	})
}
