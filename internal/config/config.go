// Package config provides hierarchical configuration loading for Tideway.
// Precedence: defaults < YAML file < environment variables < CLI flags.
package config

import "time"

// Config holds all runtime configuration for the gateway.
type Config struct {
	Server      Server      `yaml:"server"`
	Gateway     Gateway     `yaml:"gateway"`
	Auth        Auth        `yaml:"auth"`
	Rate        Rate        `yaml:"rate"`
	Idempotency Idempotency `yaml:"idempotency"`
	NATS        NATS        `yaml:"nats"`
	OTEL        OTEL        `yaml:"otel"`
	Logging     Logging     `yaml:"logging"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host              string        `yaml:"host"`
	Port              string        `yaml:"port"`
	CORSOrigin        string        `yaml:"cors_origin"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"` // applies to non-streaming routes only
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s Server) Addr() string {
	return s.Host + ":" + s.Port
}

// Gateway holds publish and subscriber channel configuration.
type Gateway struct {
	MaxPayloadBytes   int64         `yaml:"max_payload_bytes"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	OverflowPolicy    string        `yaml:"overflow_policy"` // "drop_oldest" | "reject"
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	RetryHint         time.Duration `yaml:"retry_hint"`
	MaxStreamLifetime time.Duration `yaml:"max_stream_lifetime"` // 0 = unlimited
	TailSize          int           `yaml:"tail_size"`
}

// Auth holds publisher and admin authentication configuration.
type Auth struct {
	APIKeys       []string `yaml:"api_keys"` // plain keys or bcrypt hashes
	JWTSecret     string   `yaml:"jwt_secret"`
	JWTIssuer     string   `yaml:"jwt_issuer"`
	ProtectStream bool     `yaml:"protect_stream"`
}

// Rate holds rate limiter configuration for the publish route.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// Idempotency holds Idempotency-Key replay configuration.
type Idempotency struct {
	Enabled      bool          `yaml:"enabled"`
	TTL          time.Duration `yaml:"ttl"`
	MaxCostBytes int64         `yaml:"max_cost_bytes"`
	// NATSBucket names a JetStream KV bucket shared by all replicas.
	// Requires nats.url; empty keeps replays local to the process.
	NATSBucket string `yaml:"nats_bucket"`
}

// NATS holds the publish ingress configuration. An empty URL disables it.
type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// OTEL holds OpenTelemetry exporter configuration. An empty endpoint
// disables the exporters.
type OTEL struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Host:              "0.0.0.0",
			Port:              "8080",
			CORSOrigin:        "*",
			ReadHeaderTimeout: 10 * time.Second,
			RequestTimeout:    30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Gateway: Gateway{
			MaxPayloadBytes:   1 << 20,
			QueueCapacity:     256,
			OverflowPolicy:    "drop_oldest",
			KeepaliveInterval: 15 * time.Second,
			RetryHint:         3 * time.Second,
			TailSize:          200,
		},
		Rate: Rate{
			RequestsPerSecond: 50,
			Burst:             100,
			CleanupInterval:   5 * time.Minute,
			MaxIdleTime:       10 * time.Minute,
		},
		Idempotency: Idempotency{
			Enabled:      true,
			TTL:          24 * time.Hour,
			MaxCostBytes: 32 << 20,
		},
		NATS: NATS{
			SubjectPrefix: "tideway.",
		},
		OTEL: OTEL{
			ServiceName: "tideway",
			Insecure:    true,
		},
		Logging: Logging{
			Level:   "info",
			Service: "tideway",
		},
	}
}
