package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "tideway.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// CLIFlags holds command-line overrides. Nil fields were not given.
type CLIFlags struct {
	ConfigPath *string
	Host       *string
	Port       *string
	LogLevel   *string
	NatsURL    *string
}

// ParseFlags parses args (without the program name) into CLIFlags.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("tideway", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configPath, host, port, logLevel, natsURL string
	)
	fs.StringVar(&configPath, "config", "", "path to YAML config")
	fs.StringVar(&configPath, "c", "", "shorthand for --config")
	fs.StringVar(&host, "host", "", "listen host")
	fs.StringVar(&port, "port", "", "listen port")
	fs.StringVar(&port, "p", "", "shorthand for --port")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&natsURL, "nats-url", "", "NATS URL for the publish ingress")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, err
	}

	var flags CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = &configPath
		case "host":
			flags.Host = &host
		case "port", "p":
			flags.Port = &port
		case "log-level":
			flags.LogLevel = &logLevel
		case "nats-url":
			flags.NatsURL = &natsURL
		}
	})
	return flags, nil
}

// LoadWithCLI loads configuration with CLI flags applied last. It returns
// the YAML path that was used.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if v := os.Getenv("TIDEWAY_CONFIG"); v != "" {
		path = v
	}
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Host != nil {
		cfg.Server.Host = *flags.Host
	}
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from flags or env
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	// Platform conventions first so TIDEWAY_* wins when both are set.
	setString(&cfg.Server.Host, "HOST")
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.Host, "TIDEWAY_HOST")
	setString(&cfg.Server.Port, "TIDEWAY_PORT")
	setString(&cfg.Server.CORSOrigin, "TIDEWAY_CORS_ORIGIN")
	setDuration(&cfg.Server.ReadHeaderTimeout, "TIDEWAY_READ_HEADER_TIMEOUT")
	setDuration(&cfg.Server.RequestTimeout, "TIDEWAY_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "TIDEWAY_SHUTDOWN_TIMEOUT")

	// Gateway
	setInt64(&cfg.Gateway.MaxPayloadBytes, "TIDEWAY_MAX_PAYLOAD_BYTES")
	setInt(&cfg.Gateway.QueueCapacity, "TIDEWAY_QUEUE_CAPACITY")
	setString(&cfg.Gateway.OverflowPolicy, "TIDEWAY_OVERFLOW_POLICY")
	setDuration(&cfg.Gateway.KeepaliveInterval, "TIDEWAY_KEEPALIVE_INTERVAL")
	setDuration(&cfg.Gateway.RetryHint, "TIDEWAY_RETRY_HINT")
	setDuration(&cfg.Gateway.MaxStreamLifetime, "TIDEWAY_MAX_STREAM_LIFETIME")
	setInt(&cfg.Gateway.TailSize, "TIDEWAY_TAIL_SIZE")

	// Auth
	setList(&cfg.Auth.APIKeys, "SSE_PUBLISHER_API_KEYS")
	setList(&cfg.Auth.APIKeys, "TIDEWAY_API_KEYS")
	setString(&cfg.Auth.JWTSecret, "TIDEWAY_JWT_SECRET")
	setString(&cfg.Auth.JWTIssuer, "TIDEWAY_JWT_ISSUER")
	setBool(&cfg.Auth.ProtectStream, "TIDEWAY_PROTECT_STREAM")

	// Rate
	setFloat64(&cfg.Rate.RequestsPerSecond, "TIDEWAY_RATE_RPS")
	setInt(&cfg.Rate.Burst, "TIDEWAY_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "TIDEWAY_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "TIDEWAY_RATE_MAX_IDLE_TIME")

	// Idempotency
	setBool(&cfg.Idempotency.Enabled, "TIDEWAY_IDEMPOTENCY_ENABLED")
	setDuration(&cfg.Idempotency.TTL, "TIDEWAY_IDEMPOTENCY_TTL")
	setInt64(&cfg.Idempotency.MaxCostBytes, "TIDEWAY_IDEMPOTENCY_MAX_COST_BYTES")
	setString(&cfg.Idempotency.NATSBucket, "TIDEWAY_IDEMPOTENCY_NATS_BUCKET")

	// NATS
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "TIDEWAY_NATS_SUBJECT_PREFIX")

	// OTEL
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "TIDEWAY_OTEL_INSECURE")

	// Logging
	setString(&cfg.Logging.Level, "TIDEWAY_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TIDEWAY_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TIDEWAY_LOG_ASYNC")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be > 0")
	}
	if cfg.Gateway.QueueCapacity < 1 {
		return errors.New("gateway.queue_capacity must be >= 1")
	}
	if cfg.Gateway.MaxPayloadBytes < 1 {
		return errors.New("gateway.max_payload_bytes must be >= 1")
	}
	switch cfg.Gateway.OverflowPolicy {
	case "drop_oldest", "reject":
	default:
		return fmt.Errorf("gateway.overflow_policy %q must be drop_oldest or reject", cfg.Gateway.OverflowPolicy)
	}
	if cfg.Gateway.KeepaliveInterval <= 0 {
		return errors.New("gateway.keepalive_interval must be > 0")
	}
	if cfg.Gateway.TailSize < 0 {
		return errors.New("gateway.tail_size must be >= 0")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Idempotency.Enabled && cfg.Idempotency.TTL <= 0 {
		return errors.New("idempotency.ttl must be > 0 when enabled")
	}
	if cfg.Idempotency.NATSBucket != "" && cfg.NATS.URL == "" {
		return errors.New("idempotency.nats_bucket requires nats.url")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setList splits a comma-separated value, dropping empty members.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for part := range strings.SplitSeq(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
