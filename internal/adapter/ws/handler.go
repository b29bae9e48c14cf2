// Package ws implements the WebSocket stream transport. It serves the same
// subscriber channels as the SSE endpoint, framed as JSON messages.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	twhttp "github.com/Strob0t/tideway/internal/adapter/http"
	"github.com/Strob0t/tideway/internal/adapter/otel"
	"github.com/Strob0t/tideway/internal/domain"
	"github.com/Strob0t/tideway/internal/domain/event"
	"github.com/Strob0t/tideway/internal/service"
)

const (
	transportWS         = "ws"
	timeLayout          = time.RFC3339Nano
	defaultWriteTimeout = 10 * time.Second
)

// Handler upgrades GET /v1/ws requests and streams one topic per
// connection.
type Handler struct {
	Registry *service.Registry
	Metrics  *otel.Metrics

	// AllowedOrigin is the configured CORS origin. "*" or empty accepts any
	// origin.
	AllowedOrigin string

	// KeepaliveInterval is the idle time after which a ping is sent. Zero
	// disables pings.
	KeepaliveInterval time.Duration
	// MaxLifetime closes a connection after this long. Zero means unlimited.
	MaxLifetime time.Duration
	// WriteTimeout bounds every frame write. Zero uses 10s.
	WriteTimeout time.Duration
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic, subscriberID, err := twhttp.StreamTarget(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ch, err := h.Registry.Subscribe(topic, subscriberID)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrConnectionClosed) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	defer h.Registry.Release(ch)

	c, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		slog.Error("websocket accept failed", "subscriber_id", subscriberID, "error", err)
		return
	}
	defer c.CloseNow()

	// Clients only send control frames; CloseRead consumes them and
	// cancels ctx once the peer goes away.
	ctx := c.CloseRead(r.Context())
	if h.MaxLifetime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.MaxLifetime)
		defer cancel()
	}

	h.Metrics.StreamOpened(ctx, transportWS)
	defer h.Metrics.StreamClosed(context.WithoutCancel(ctx), transportWS)

	hello, err := newMessage(TypeConnected, ConnectedPayload{SubscriberID: subscriberID, Topic: topic})
	if err != nil {
		return
	}
	if err := h.write(ctx, c, hello); err != nil {
		return
	}

	slog.InfoContext(ctx, "websocket connected", "topic", topic, "subscriber_id", subscriberID, "remote", r.RemoteAddr)
	err = h.sendLoop(ctx, c, ch)
	h.close(c, ch, err)
}

func (h *Handler) acceptOptions() *websocket.AcceptOptions {
	if h.AllowedOrigin == "" || h.AllowedOrigin == "*" {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	host := h.AllowedOrigin
	if u, err := url.Parse(h.AllowedOrigin); err == nil && u.Host != "" {
		host = u.Host
	}
	return &websocket.AcceptOptions{OriginPatterns: []string{host}}
}

func (h *Handler) sendLoop(ctx context.Context, c *websocket.Conn, ch *service.Channel) error {
	for {
		env, err := h.dequeue(ctx, ch)
		switch {
		case err == nil:
			msg, err := eventMessage(env)
			if err != nil {
				return err
			}
			if err := h.write(ctx, c, msg); err != nil {
				return err
			}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			pingCtx, cancel := context.WithTimeout(ctx, h.writeTimeout())
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		default:
			return err
		}
	}
}

func (h *Handler) dequeue(ctx context.Context, ch *service.Channel) (event.Envelope, error) {
	if h.KeepaliveInterval <= 0 {
		return ch.Dequeue(ctx)
	}
	idleCtx, cancel := context.WithTimeout(ctx, h.KeepaliveInterval)
	defer cancel()
	return ch.Dequeue(idleCtx)
}

func (h *Handler) write(ctx context.Context, c *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout())
	defer cancel()
	return wsjson.Write(ctx, c, msg)
}

func (h *Handler) writeTimeout() time.Duration {
	if h.WriteTimeout > 0 {
		return h.WriteTimeout
	}
	return defaultWriteTimeout
}

// close sends a close frame naming why the stream ended.
func (h *Handler) close(c *websocket.Conn, ch *service.Channel, err error) {
	stats := ch.Stats()
	attrs := []any{
		"topic", stats.Topic,
		"subscriber_id", stats.ConnectionID,
		"delivered", stats.Delivered,
		"dropped", stats.Dropped,
	}

	switch {
	case errors.Is(err, domain.ErrSubscriberOverflow):
		slog.Warn("websocket closed on overflow", attrs...)
		_ = c.Close(websocket.StatusPolicyViolation, "subscriber overflow")
	case errors.Is(err, domain.ErrConnectionClosed):
		slog.Info("websocket closed by server", attrs...)
		_ = c.Close(websocket.StatusGoingAway, "connection closed")
	case errors.Is(err, context.DeadlineExceeded):
		slog.Info("websocket lifetime reached", attrs...)
		_ = c.Close(websocket.StatusNormalClosure, "lifetime reached")
	default:
		slog.Info("websocket disconnected", append(attrs, "error", err)...)
	}
}
