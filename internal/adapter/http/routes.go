package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/tideway/internal/middleware"
	"github.com/Strob0t/tideway/internal/port/auth"
	"github.com/Strob0t/tideway/internal/port/cache"
)

// RouteOptions configures the middleware applied per route group.
type RouteOptions struct {
	// Authorizer guards publish and admin routes, and the stream routes
	// when ProtectStream is set.
	Authorizer    auth.Authorizer
	ProtectStream bool

	// RequestTimeout bounds non-streaming requests. Zero disables it.
	RequestTimeout time.Duration

	// RateLimiter throttles publish requests. Nil disables it.
	RateLimiter *middleware.RateLimiter

	// IdempotencyCache stores publish responses for replay. Nil disables it.
	IdempotencyCache cache.Cache
	IdempotencyTTL   time.Duration

	// WebSocket serves GET /v1/ws. Nil leaves the route unmounted.
	WebSocket http.Handler
}

// MountRoutes registers all gateway routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	authenticate := middleware.Auth(opts.Authorizer)

	r.Get("/healthz", h.Healthz)
	r.Get("/admin", h.AdminUI)

	r.Route("/v1", func(r chi.Router) {
		// Streams are long-lived and never get a request timeout.
		r.Group(func(r chi.Router) {
			if opts.ProtectStream {
				r.Use(authenticate)
			}
			r.Get("/stream", h.Stream)
			if opts.WebSocket != nil {
				r.Method(http.MethodGet, "/ws", opts.WebSocket)
			}
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			if opts.RequestTimeout > 0 {
				r.Use(chimw.Timeout(opts.RequestTimeout))
			}

			r.Group(func(r chi.Router) {
				if opts.RateLimiter != nil {
					r.Use(opts.RateLimiter.Handler)
				}
				if opts.IdempotencyCache != nil {
					r.Use(middleware.Idempotency(opts.IdempotencyCache, opts.IdempotencyTTL))
				}
				r.Post("/publish", h.Publish)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Get("/topics", h.ListTopics)
				r.Get("/topics/{topic}/tail", h.TopicTail)
				r.Get("/connections", h.ListConnections)
			})
		})
	})
}
