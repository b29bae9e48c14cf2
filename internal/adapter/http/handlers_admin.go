package http

import (
	_ "embed"
	"net/http"

	"github.com/Strob0t/tideway/internal/domain/event"
	"github.com/Strob0t/tideway/internal/service"
)

type tailResponse struct {
	Topic  string              `json:"topic"`
	Events []service.TailEvent `json:"events"`
}

// ListTopics handles GET /v1/admin/topics.
func (h *Handlers) ListTopics(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	size := queryInt(r, "pageSize", service.DefaultPageSize)
	writeJSON(w, http.StatusOK, h.Admin.Topics(page, size))
}

// ListConnections handles GET /v1/admin/connections.
func (h *Handlers) ListConnections(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	size := queryInt(r, "pageSize", service.DefaultPageSize)
	writeJSON(w, http.StatusOK, h.Admin.Connections(page, size))
}

// TopicTail handles GET /v1/admin/topics/{topic}/tail.
func (h *Handlers) TopicTail(w http.ResponseWriter, r *http.Request) {
	topic := urlParam(r, "topic")
	if err := event.ValidateTopic(topic); err != nil {
		writeDomainError(w, r, err)
		return
	}
	limit := queryInt(r, "limit", service.DefaultTailLimit)
	writeJSON(w, http.StatusOK, tailResponse{
		Topic:  topic,
		Events: h.Admin.Tail(topic, limit),
	})
}

//go:embed assets/admin.html
var adminPage []byte

// AdminUI serves the admin dashboard. The page carries no data; it calls
// the authenticated admin API with a key entered in the browser.
func (h *Handlers) AdminUI(w http.ResponseWriter, _ *http.Request) {
	hdr := w.Header()
	hdr.Set("Content-Type", "text/html; charset=utf-8")
	hdr.Set("Cache-Control", "no-store")
	hdr.Set("Content-Security-Policy",
		"default-src 'none'; script-src 'unsafe-inline'; style-src 'unsafe-inline'; connect-src 'self'")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(adminPage)
}
