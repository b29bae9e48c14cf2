package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/tideway/internal/domain"
	"github.com/Strob0t/tideway/internal/domain/event"
	"github.com/Strob0t/tideway/internal/service"
	"github.com/Strob0t/tideway/internal/sse"
)

const transportSSE = "sse"

// StreamTarget extracts the topic and subscriber id of a stream request.
// Headers take precedence over the topic and id query parameters, which
// exist for browser EventSource clients. A missing id is generated.
func StreamTarget(r *http.Request) (topic, subscriberID string, err error) {
	raw := r.Header.Get(HeaderTopic)
	if raw == "" {
		raw = r.URL.Query().Get("topic")
	}
	topic, err = event.ParseStreamTopic(raw)
	if err != nil {
		return "", "", err
	}

	subscriberID = r.Header.Get(HeaderID)
	if subscriberID == "" {
		subscriberID = r.URL.Query().Get("id")
	}
	if subscriberID == "" {
		subscriberID = uuid.NewString()
	}
	if err := event.ValidateSubscriberID(subscriberID); err != nil {
		return "", "", err
	}
	return topic, subscriberID, nil
}

// Stream handles GET /v1/stream. It subscribes the caller to one topic and
// writes every delivered envelope as an SSE event until the client goes
// away, the channel is closed or the stream lifetime ends.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	topic, subscriberID, err := StreamTarget(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)

	ch, err := h.Registry.Subscribe(topic, subscriberID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	defer h.Registry.Release(ch)

	ctx := r.Context()
	if h.StreamConfig.MaxLifetime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.StreamConfig.MaxLifetime)
		defer cancel()
	}

	hdr := w.Header()
	hdr.Set("Content-Type", sse.ContentType)
	hdr.Set("Cache-Control", "no-cache, no-transform")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// The server-wide write timeout would cut the stream.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Warn("failed to clear stream write deadline", "subscriber_id", subscriberID, "error", err)
	}

	if err := sse.WriteComment(w, "connected "+subscriberID); err != nil {
		return
	}
	if h.StreamConfig.RetryHint > 0 {
		if err := sse.WriteRetry(w, h.StreamConfig.RetryHint); err != nil {
			return
		}
	}
	if err := rc.Flush(); err != nil {
		slog.Error("stream does not support flushing", "subscriber_id", subscriberID, "error", err)
		return
	}

	h.Metrics.StreamOpened(ctx, transportSSE)
	defer h.Metrics.StreamClosed(context.WithoutCancel(ctx), transportSSE)

	slog.InfoContext(ctx, "stream opened", "topic", topic, "subscriber_id", subscriberID)
	err = h.sendLoop(ctx, w, rc, ch)
	logStreamEnd(ctx, ch, err)
}

// sendLoop dequeues envelopes and writes them until an error ends the
// stream. Idle periods longer than the keepalive interval produce a
// keepalive comment.
func (h *Handlers) sendLoop(ctx context.Context, w http.ResponseWriter, rc *http.ResponseController, ch *service.Channel) error {
	for {
		env, err := h.dequeue(ctx, ch)
		switch {
		case err == nil:
			if err := sse.WriteEvent(w, env); err != nil {
				return err
			}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if err := sse.WriteComment(w, "keepalive"); err != nil {
				return err
			}
		default:
			return err
		}
		if err := rc.Flush(); err != nil {
			return err
		}
	}
}

func (h *Handlers) dequeue(ctx context.Context, ch *service.Channel) (event.Envelope, error) {
	if h.StreamConfig.KeepaliveInterval <= 0 {
		return ch.Dequeue(ctx)
	}
	idleCtx, cancel := context.WithTimeout(ctx, h.StreamConfig.KeepaliveInterval)
	defer cancel()
	return ch.Dequeue(idleCtx)
}

func logStreamEnd(ctx context.Context, ch *service.Channel, err error) {
	stats := ch.Stats()
	attrs := []any{
		"topic", stats.Topic,
		"subscriber_id", stats.ConnectionID,
		"delivered", stats.Delivered,
		"dropped", stats.Dropped,
	}
	switch {
	case errors.Is(err, domain.ErrSubscriberOverflow):
		slog.WarnContext(ctx, "stream closed on overflow", attrs...)
	case errors.Is(err, domain.ErrConnectionClosed):
		slog.InfoContext(ctx, "stream closed by server", attrs...)
	case errors.Is(err, context.DeadlineExceeded):
		slog.InfoContext(ctx, "stream lifetime reached", attrs...)
	case errors.Is(err, context.Canceled):
		slog.InfoContext(ctx, "stream closed by client", attrs...)
	default:
		slog.InfoContext(ctx, "stream write failed", append(attrs, "error", err)...)
	}
}
