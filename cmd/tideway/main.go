package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/tideway/internal/adapter/apikey"
	twhttp "github.com/Strob0t/tideway/internal/adapter/http"
	"github.com/Strob0t/tideway/internal/adapter/jwtauth"
	twnats "github.com/Strob0t/tideway/internal/adapter/nats"
	"github.com/Strob0t/tideway/internal/adapter/natskv"
	twotel "github.com/Strob0t/tideway/internal/adapter/otel"
	"github.com/Strob0t/tideway/internal/adapter/ristretto"
	"github.com/Strob0t/tideway/internal/adapter/tiered"
	"github.com/Strob0t/tideway/internal/adapter/ws"
	"github.com/Strob0t/tideway/internal/config"
	"github.com/Strob0t/tideway/internal/logger"
	"github.com/Strob0t/tideway/internal/middleware"
	"github.com/Strob0t/tideway/internal/port/auth"
	"github.com/Strob0t/tideway/internal/port/cache"
	"github.com/Strob0t/tideway/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", cfgPath,
		"addr", cfg.Server.Addr(),
		"log_level", cfg.Logging.Level,
		"queue_capacity", cfg.Gateway.QueueCapacity,
		"overflow_policy", cfg.Gateway.OverflowPolicy,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownOTEL, err := twotel.Setup(ctx, twotel.Options{
		Endpoint:    cfg.OTEL.Endpoint,
		ServiceName: cfg.OTEL.ServiceName,
		Insecure:    cfg.OTEL.Insecure,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(flushCtx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	metrics, err := twotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Services ---

	policy, err := service.ParseOverflowPolicy(cfg.Gateway.OverflowPolicy)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	registry := service.NewRegistry(service.RegistryConfig{
		QueueCapacity:  cfg.Gateway.QueueCapacity,
		OverflowPolicy: policy,
		TailSize:       cfg.Gateway.TailSize,
	})
	broker := service.NewBrokerService(registry, cfg.Gateway.MaxPayloadBytes, metrics)
	admin := service.NewAdminService(registry)

	authorizer, err := buildAuthorizer(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// --- HTTP ---

	handlers := &twhttp.Handlers{
		Broker:   broker,
		Registry: registry,
		Admin:    admin,
		Metrics:  metrics,
		StreamConfig: twhttp.StreamConfig{
			KeepaliveInterval: cfg.Gateway.KeepaliveInterval,
			RetryHint:         cfg.Gateway.RetryHint,
			MaxLifetime:       cfg.Gateway.MaxStreamLifetime,
		},
		MaxPayload: cfg.Gateway.MaxPayloadBytes,
	}

	rateLimiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	routeOpts := twhttp.RouteOptions{
		Authorizer:     authorizer,
		ProtectStream:  cfg.Auth.ProtectStream,
		RequestTimeout: cfg.Server.RequestTimeout,
		RateLimiter:    rateLimiter,
		WebSocket: &ws.Handler{
			Registry:          registry,
			Metrics:           metrics,
			AllowedOrigin:     cfg.Server.CORSOrigin,
			KeepaliveInterval: cfg.Gateway.KeepaliveInterval,
			MaxLifetime:       cfg.Gateway.MaxStreamLifetime,
		},
	}

	var ingress *twnats.Ingress
	if cfg.NATS.URL != "" {
		ingress, err = twnats.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return err
		}
		defer ingress.Close()
	}

	if cfg.Idempotency.Enabled {
		local, err := ristretto.New(cfg.Idempotency.MaxCostBytes)
		if err != nil {
			return fmt.Errorf("idempotency cache: %w", err)
		}
		defer local.Close()
		var idemCache cache.Cache = local
		if cfg.Idempotency.NATSBucket != "" {
			shared, err := natskv.Open(ctx, ingress.Conn(), cfg.Idempotency.NATSBucket, cfg.Idempotency.TTL)
			if err != nil {
				return fmt.Errorf("idempotency cache: %w", err)
			}
			idemCache = tiered.New(local, shared, time.Minute)
			slog.Info("idempotency replays shared", "bucket", cfg.Idempotency.NATSBucket)
		}
		routeOpts.IdempotencyCache = idemCache
		routeOpts.IdempotencyTTL = cfg.Idempotency.TTL
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(twhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(twhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(twhttp.SecurityHeaders)
	r.Use(twotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	twhttp.MountRoutes(r, handlers, routeOpts)

	// No WriteTimeout: streams are unbounded. Non-streaming routes get
	// RequestTimeout from the router.
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
	}
	// Hijacked WebSocket connections are not tracked by Shutdown.
	srv.RegisterOnShutdown(registry.CloseAll)

	// --- Lifecycle ---

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		rateLimiter.RunCleanup(gctx, cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
		return nil
	})

	if ingress != nil {
		g.Go(func() error { return ingress.Run(gctx, broker) })
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		// Close every channel first so stream handlers return and the
		// server can go idle.
		registry.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildAuthorizer combines the configured API keys and, when a secret is
// set, HS256 JWT validation.
func buildAuthorizer(cfg config.Auth) (auth.Authorizer, error) {
	keys := apikey.New(cfg.APIKeys)
	authorizers := []auth.Authorizer{keys}

	if cfg.JWTSecret != "" {
		jwt, err := jwtauth.New(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			return nil, err
		}
		authorizers = append(authorizers, jwt)
	}

	if keys.Len() == 0 && cfg.JWTSecret == "" {
		slog.Warn("no publisher credentials configured; publish and admin requests will be rejected")
	}
	slog.Info("auth configured", "api_keys", keys.Len(), "jwt", cfg.JWTSecret != "", "protect_stream", cfg.ProtectStream)
	return auth.Any(authorizers...), nil
}
