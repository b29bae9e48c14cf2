package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/tideway/internal/adapter/otel"
	"github.com/Strob0t/tideway/internal/domain"
	"github.com/Strob0t/tideway/internal/domain/event"
)

// StatusAccepted is the only status a successful publish reports.
const StatusAccepted = "accepted"

// Delivery is the fan-out outcome for one envelope.
type Delivery struct {
	Subscribers int
	Enqueued    int
	Dropped     int
}

// PublishResult is the response body of an accepted publish.
type PublishResult struct {
	Status        string   `json:"status"`
	ID            string   `json:"id"`
	Delivered     int      `json:"delivered"`
	DroppedTopics []string `json:"droppedTopics"`
}

// BrokerService fans published envelopes out to the subscriber channels of
// their topic.
type BrokerService struct {
	registry   *Registry
	maxPayload int64
	metrics    *otel.Metrics
}

// NewBrokerService creates a broker over registry. maxPayload <= 0 disables
// the size check. metrics may be nil.
func NewBrokerService(registry *Registry, maxPayload int64, metrics *otel.Metrics) *BrokerService {
	return &BrokerService{registry: registry, maxPayload: maxPayload, metrics: metrics}
}

// Publish enqueues env to every current subscriber of its topic. Each
// enqueue is independent: a full or closed subscriber never affects the
// others or the caller. Publish does not wait for delivery. A topic without
// subscribers is not an error.
func (s *BrokerService) Publish(ctx context.Context, env event.Envelope) (Delivery, error) {
	if err := event.ValidateTopic(env.Topic()); err != nil {
		return Delivery{}, err
	}
	if s.maxPayload > 0 && int64(len(env.Payload())) > s.maxPayload {
		return Delivery{}, fmt.Errorf("payload %d bytes exceeds %d: %w", len(env.Payload()), s.maxPayload, domain.ErrPayloadTooLarge)
	}

	ctx, span := otel.StartPublishSpan(ctx, env.ID(), env.Topic(), len(env.Payload()))
	defer span.End()

	entry := s.registry.lookup(env.Topic())
	if entry == nil {
		return Delivery{}, nil
	}

	entry.pubMu.Lock()
	entry.tail.add(env)
	targets := entry.snapshot()
	var d Delivery
	d.Subscribers = len(targets)
	for _, ch := range targets {
		evicted, err := ch.Enqueue(env)
		switch {
		case err == nil:
			d.Enqueued++
			if evicted {
				d.Dropped++
			}
		case errors.Is(err, domain.ErrSubscriberOverflow):
			d.Dropped++
			slog.Warn("subscriber overflow", "topic", env.Topic(), "subscriber_id", ch.ID(), "event_id", env.ID())
		case errors.Is(err, domain.ErrConnectionClosed):
			// Disconnected between snapshot and enqueue.
		default:
			slog.Error("enqueue failed", "topic", env.Topic(), "subscriber_id", ch.ID(), "error", err)
		}
	}
	entry.pubMu.Unlock()

	s.metrics.Delivered(ctx, d.Enqueued, d.Dropped)
	return d, nil
}

// PublishTopics builds one envelope per topic sharing the same id and
// publishes each. All topics and the payload are validated before anything
// is delivered. Topics without subscribers are reported in DroppedTopics.
func (s *BrokerService) PublishTopics(ctx context.Context, topics []string, id string, payload []byte) (PublishResult, error) {
	if len(topics) == 0 {
		s.metrics.Rejected(ctx, "invalid_topic")
		return PublishResult{}, fmt.Errorf("no topics: %w", domain.ErrInvalidTopic)
	}

	base, err := event.New(topics[0], id, payload, s.maxPayload)
	if err != nil {
		s.metrics.Rejected(ctx, rejectReason(err))
		return PublishResult{}, err
	}
	envs := make([]event.Envelope, 0, len(topics))
	envs = append(envs, base)
	for _, topic := range topics[1:] {
		env, err := base.WithTopic(topic)
		if err != nil {
			s.metrics.Rejected(ctx, rejectReason(err))
			return PublishResult{}, err
		}
		envs = append(envs, env)
	}

	result := PublishResult{Status: StatusAccepted, ID: base.ID(), DroppedTopics: []string{}}
	for _, env := range envs {
		d, err := s.Publish(ctx, env)
		if err != nil {
			s.metrics.Rejected(ctx, rejectReason(err))
			return PublishResult{}, err
		}
		result.Delivered += d.Enqueued
		if d.Subscribers == 0 {
			result.DroppedTopics = append(result.DroppedTopics, env.Topic())
		}
	}

	s.metrics.Accepted(ctx, len(payload))
	slog.Debug("event published",
		"event_id", result.ID,
		"topics", len(envs),
		"delivered", result.Delivered,
	)
	return result, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidTopic):
		return "invalid_topic"
	case errors.Is(err, domain.ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}
