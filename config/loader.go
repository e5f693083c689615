package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jetdream/webhook-nats-gateway/errors"
)

// Loader builds a Config from defaults, an optional file and the
// environment, in that order.
type Loader struct {
	lookupEnv  func(string) (string, bool)
	validation bool
}

// NewLoader creates a loader reading the process environment, with
// validation enabled.
func NewLoader() *Loader {
	return &Loader{
		lookupEnv:  os.LookupEnv,
		validation: true,
	}
}

// WithEnv replaces the environment lookup, mostly for tests.
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) *Loader {
	l.validation = enable
	return l
}

// Load reads path, when not empty, over the defaults and applies the
// environment overrides. JSON or YAML is chosen by extension.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := l.loadFile(path, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (l *Loader) loadFile(path string, cfg *Config) error {
	data, err := readConfigFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	}
	return nil
}

type envBinding struct {
	name  string
	apply func(cfg *Config, value string) error
	// keepEmpty applies a variable that is set but empty
	keepEmpty bool
}

var envBindings = []envBinding{
	{name: "SERVICE_ID", apply: func(c *Config, v string) error {
		c.Service.ID = v
		return nil
	}},
	{name: "ALLOW_CREATE_SERVICE_STREAM", apply: func(c *Config, v string) error {
		b, err := parseBool(v)
		c.Service.AllowCreateStream = b
		return err
	}},
	{name: "SERVICE_FAILURES_LIMIT", apply: func(c *Config, v string) error {
		return setInt(&c.Service.FailuresLimit, v)
	}},
	{name: "ACK_WAIT", apply: func(c *Config, v string) error {
		return c.Service.AckWait.set(v)
	}},
	{name: "HEARTBEAT_INTERVAL", apply: func(c *Config, v string) error {
		return c.Service.HeartbeatInterval.set(v)
	}},
	{name: "STOP_TIMEOUT", apply: func(c *Config, v string) error {
		return c.Service.StopTimeout.set(v)
	}},
	{name: "NATS_SERVERS_CONFIG", apply: func(c *Config, v string) error {
		var urls []string
		for _, url := range strings.Split(v, ",") {
			if url = strings.TrimSpace(url); url != "" {
				urls = append(urls, url)
			}
		}
		c.NATS.URLs = urls
		return nil
	}},
	{name: "NATS_USER", apply: func(c *Config, v string) error {
		c.NATS.Username = v
		return nil
	}},
	{name: "NATS_PASSWORD", apply: func(c *Config, v string) error {
		c.NATS.Password = v
		return nil
	}},
	{name: "NATS_TOKEN", apply: func(c *Config, v string) error {
		c.NATS.Token = v
		return nil
	}},
	{name: "LISTEN_PORT", apply: func(c *Config, v string) error {
		return setInt(&c.HTTP.Port, v)
	}},
	{name: "WEBHOOK_ENDPOINT", apply: func(c *Config, v string) error {
		c.HTTP.WebhookPath = v
		return nil
	}},
	{name: "HEALTH_ENDPOINT", apply: func(c *Config, v string) error {
		c.HTTP.HealthPath = v
		return nil
	}},
	{name: "METRICS_ENDPOINT", keepEmpty: true, apply: func(c *Config, v string) error {
		c.HTTP.MetricsPath = v
		return nil
	}},
	{name: "MAX_REQUEST_SIZE", apply: func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.HTTP.MaxRequestSize = n
		return nil
	}},
	{name: "ENDPOINTS_BUCKET", apply: func(c *Config, v string) error {
		c.Endpoints.Bucket = v
		return nil
	}},
	{name: "LOG_LEVEL", apply: func(c *Config, v string) error {
		c.Log.Level = v
		return nil
	}},
	{name: "LOG_FORMAT", apply: func(c *Config, v string) error {
		c.Log.Format = v
		return nil
	}},
}

// EnvNames lists the environment variables the loader reads.
func EnvNames() []string {
	names := make([]string, len(envBindings))
	for i, b := range envBindings {
		names[i] = b.name
	}
	return names
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	for _, b := range envBindings {
		value, ok := l.lookupEnv(b.name)
		if !ok || (value == "" && !b.keepEmpty) {
			continue
		}
		if err := validateEnvVar(b.name, value); err != nil {
			return err
		}
		if err := b.apply(cfg, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, b.name, err)
		}
	}
	return nil
}

// parseBool accepts true/yes/1 and false/no/0, case-insensitively.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

func setInt(dst *int, s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

