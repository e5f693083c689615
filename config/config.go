package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jetdream/webhook-nats-gateway/errors"
)

// Defaults
const (
	DefaultNATSURL        = "nats://localhost:4222"
	DefaultPort           = 8080
	DefaultWebhookPath    = "/webhook"
	DefaultHealthPath     = "/health"
	DefaultMetricsPath    = "/metrics"
	DefaultMaxRequestSize = 1 << 20
	DefaultFailuresLimit  = 3
	DefaultBucketSuffix   = "-endpoints"
)

// MaxHeartbeatInterval keeps heartbeats inside the liveness window of
// the service's monitors.
const MaxHeartbeatInterval = 15 * time.Second

// Config is the complete gateway configuration.
type Config struct {
	Service   ServiceConfig   `json:"service" yaml:"service"`
	NATS      NATSConfig      `json:"nats" yaml:"nats"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	Endpoints EndpointsConfig `json:"endpoints" yaml:"endpoints"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// ServiceConfig identifies the service and tunes its runtime.
type ServiceConfig struct {
	// ID names the stream namespace, the durable consumers, the envelope
	// origin and the broker connection.
	ID                string   `json:"id" yaml:"id"`
	AllowCreateStream bool     `json:"allow_create_stream" yaml:"allow_create_stream"`
	FailuresLimit     int      `json:"failures_limit" yaml:"failures_limit"`
	AckWait           Duration `json:"ack_wait" yaml:"ack_wait"`
	HeartbeatInterval Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	StopTimeout       Duration `json:"stop_timeout" yaml:"stop_timeout"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls" yaml:"urls"`
	MaxReconnects int           `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait Duration      `json:"reconnect_wait" yaml:"reconnect_wait"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls" yaml:"tls"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
}

// HTTPConfig is the webhook surface.
type HTTPConfig struct {
	Port        int    `json:"port" yaml:"port"`
	WebhookPath string `json:"webhook_path" yaml:"webhook_path"`
	HealthPath  string `json:"health_path" yaml:"health_path"`
	// MetricsPath serves Prometheus metrics; empty disables it.
	MetricsPath    string `json:"metrics_path" yaml:"metrics_path"`
	MaxRequestSize int64  `json:"max_request_size" yaml:"max_request_size"`
}

// EndpointsConfig locates the endpoint descriptors.
type EndpointsConfig struct {
	// Bucket defaults to "{service id}-endpoints".
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the configuration used before any file or environment
// override.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			FailuresLimit:     DefaultFailuresLimit,
			AckWait:           Duration(10 * time.Second),
			HeartbeatInterval: Duration(5 * time.Second),
			StopTimeout:       Duration(30 * time.Second),
		},
		NATS: NATSConfig{
			URLs:          []string{DefaultNATSURL},
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		HTTP: HTTPConfig{
			Port:           DefaultPort,
			WebhookPath:    DefaultWebhookPath,
			HealthPath:     DefaultHealthPath,
			MetricsPath:    DefaultMetricsPath,
			MaxRequestSize: DefaultMaxRequestSize,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// EndpointsBucket returns the KV bucket holding endpoint descriptors.
func (c *Config) EndpointsBucket() string {
	if c.Endpoints.Bucket != "" {
		return c.Endpoints.Bucket
	}
	return c.Service.ID + DefaultBucketSuffix
}

// ListenAddr is the address the HTTP server binds.
func (c *Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.HTTP.Port)
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Service.ID == "" {
		return invalid(errors.ErrMissingConfig, "service.id is required")
	}
	if !isValidServiceID(c.Service.ID) {
		return invalid(errors.ErrInvalidConfig, fmt.Sprintf(
			"service.id '%s' must be alphanumeric with dashes or underscores", c.Service.ID))
	}
	if c.Service.FailuresLimit < 1 {
		return invalid(errors.ErrInvalidConfig, "service.failures_limit must be at least 1")
	}
	for name, d := range map[string]Duration{
		"service.ack_wait":           c.Service.AckWait,
		"service.heartbeat_interval": c.Service.HeartbeatInterval,
		"service.stop_timeout":       c.Service.StopTimeout,
	} {
		if d <= 0 {
			return invalid(errors.ErrInvalidConfig, name+" must be positive")
		}
	}
	if c.Service.HeartbeatInterval.Std() > MaxHeartbeatInterval {
		return invalid(errors.ErrInvalidConfig, "service.heartbeat_interval must not exceed "+MaxHeartbeatInterval.String())
	}

	if len(c.NATS.URLs) == 0 {
		return invalid(errors.ErrMissingConfig, "nats.urls is required")
	}
	for _, url := range c.NATS.URLs {
		if strings.TrimSpace(url) == "" {
			return invalid(errors.ErrInvalidConfig, "nats.urls contains an empty entry")
		}
	}
	if c.NATS.TLS.Enabled && (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
		return invalid(errors.ErrInvalidConfig, "nats.tls needs both cert_file and key_file")
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return invalid(errors.ErrInvalidConfig, fmt.Sprintf("invalid http.port: %d", c.HTTP.Port))
	}
	if !strings.HasPrefix(c.HTTP.WebhookPath, "/") {
		return invalid(errors.ErrInvalidConfig, "http.webhook_path must start with /")
	}
	if !strings.HasPrefix(c.HTTP.HealthPath, "/") || c.HTTP.HealthPath == "/" {
		return invalid(errors.ErrInvalidConfig, "http.health_path must be a path below /")
	}
	if c.HTTP.MetricsPath != "" && !strings.HasPrefix(c.HTTP.MetricsPath, "/") {
		return invalid(errors.ErrInvalidConfig, "http.metrics_path must start with /")
	}
	if c.HTTP.MaxRequestSize < 1 {
		return invalid(errors.ErrInvalidConfig, "http.max_request_size must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid(errors.ErrInvalidConfig, fmt.Sprintf("invalid log.level: %s", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return invalid(errors.ErrInvalidConfig, fmt.Sprintf("invalid log.format: %s", c.Log.Format))
	}
	return nil
}

func invalid(sentinel error, detail string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", sentinel, detail), "Config", "Validate", "validate configuration")
}

// isValidServiceID accepts names usable both as a stream name and as a
// subject token.
func isValidServiceID(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return s != ""
}

// String renders the config as JSON with credentials redacted.
func (c *Config) String() string {
	redacted := *c
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "[REDACTED]"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "[REDACTED]"
	}
	data, err := json.Marshal(redacted)
	if err != nil {
		return "<invalid config>"
	}
	return string(data)
}

// Duration is a time.Duration written as a Go duration string ("10s") or a
// day count ("2d").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	return d.set(s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d *Duration) set(s string) error {
	parsed, err := parseDurationWithDays(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
