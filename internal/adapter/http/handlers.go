package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Strob0t/tideway/internal/adapter/otel"
	"github.com/Strob0t/tideway/internal/domain/event"
	"github.com/Strob0t/tideway/internal/service"
)

// StreamConfig holds the per-connection settings of the stream endpoint.
type StreamConfig struct {
	// KeepaliveInterval is the idle time after which a keepalive comment is
	// written. Zero disables keepalives.
	KeepaliveInterval time.Duration
	// RetryHint is sent once as the reconnection delay. Zero omits it.
	RetryHint time.Duration
	// MaxLifetime closes a stream after this long. Zero means unlimited.
	MaxLifetime time.Duration
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Broker       *service.BrokerService
	Registry     *service.Registry
	Admin        *service.AdminService
	Metrics      *otel.Metrics
	StreamConfig StreamConfig
	MaxPayload   int64
}

// Publish handles POST /v1/publish. The raw body is delivered as the
// payload to every topic named in the x-sse-topic header.
func (h *Handlers) Publish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	topics, err := event.ParseTopics(r.Header.Get(HeaderTopic))
	if err != nil {
		h.Metrics.Rejected(ctx, "invalid_topic")
		writeDomainError(w, r, err)
		return
	}

	if h.MaxPayload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxPayload)
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Metrics.Rejected(ctx, "payload_too_large")
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	result, err := h.Broker.PublishTopics(ctx, topics, r.Header.Get(HeaderID), payload)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// Healthz handles GET /healthz.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Admin.Health())
}
