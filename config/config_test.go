package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetdream/webhook-nats-gateway/errors"
)

func envMap(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_DefaultsWithEnvOnly(t *testing.T) {
	cfg, err := NewLoader().WithEnv(envMap(map[string]string{
		"SERVICE_ID": "billing",
	})).Load("")
	require.NoError(t, err)

	assert.Equal(t, "billing", cfg.Service.ID)
	assert.False(t, cfg.Service.AllowCreateStream)
	assert.Equal(t, DefaultFailuresLimit, cfg.Service.FailuresLimit)
	assert.Equal(t, 10*time.Second, cfg.Service.AckWait.Std())
	assert.Equal(t, []string{DefaultNATSURL}, cfg.NATS.URLs)
	assert.Equal(t, ":8080", cfg.ListenAddr())
	assert.Equal(t, "billing-endpoints", cfg.EndpointsBucket())
	assert.Equal(t, DefaultMetricsPath, cfg.HTTP.MetricsPath)
}

func TestLoader_MissingServiceID(t *testing.T) {
	_, err := NewLoader().WithEnv(envMap(nil)).Load("")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestLoader_EnvOverrides(t *testing.T) {
	cfg, err := NewLoader().WithEnv(envMap(map[string]string{
		"SERVICE_ID":                  "billing",
		"ALLOW_CREATE_SERVICE_STREAM": "yes",
		"SERVICE_FAILURES_LIMIT":      "5",
		"HEALTH_ENDPOINT":             "/healthz",
		"NATS_SERVERS_CONFIG":         "nats://a:4222, nats://b:4222,",
		"LISTEN_PORT":                 "3000",
		"WEBHOOK_ENDPOINT":            "/hooks",
		"ENDPOINTS_BUCKET":            "billing-routes",
		"NATS_USER":                   "svc",
		"NATS_PASSWORD":               "secret",
		"ACK_WAIT":                    "20s",
		"HEARTBEAT_INTERVAL":          "2s",
		"STOP_TIMEOUT":                "1m",
		"MAX_REQUEST_SIZE":            "2048",
		"METRICS_ENDPOINT":            "",
		"LOG_LEVEL":                   "debug",
		"LOG_FORMAT":                  "text",
	})).Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Service.AllowCreateStream)
	assert.Equal(t, 5, cfg.Service.FailuresLimit)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "/healthz", cfg.HTTP.HealthPath)
	assert.Equal(t, 3000, cfg.HTTP.Port)
	assert.Equal(t, "/hooks", cfg.HTTP.WebhookPath)
	assert.Equal(t, "billing-routes", cfg.EndpointsBucket())
	assert.Equal(t, 20*time.Second, cfg.Service.AckWait.Std())
	assert.Equal(t, 2*time.Second, cfg.Service.HeartbeatInterval.Std())
	assert.Equal(t, time.Minute, cfg.Service.StopTimeout.Std())
	assert.Equal(t, int64(2048), cfg.HTTP.MaxRequestSize)
	assert.Empty(t, cfg.HTTP.MetricsPath)
	assert.Equal(t, "debug", cfg.Log.Level)

	assert.NotContains(t, cfg.String(), "secret")
	assert.Contains(t, cfg.String(), "[REDACTED]")
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "TRUE", "yes", "1"} {
		b, err := parseBool(v)
		require.NoError(t, err, v)
		assert.True(t, b, v)
	}
	for _, v := range []string{"false", "No", "0"} {
		b, err := parseBool(v)
		require.NoError(t, err, v)
		assert.False(t, b, v)
	}
	_, err := parseBool("maybe")
	assert.Error(t, err)
}

func TestLoader_InvalidEnv(t *testing.T) {
	tests := map[string]string{
		"ALLOW_CREATE_SERVICE_STREAM": "maybe",
		"SERVICE_FAILURES_LIMIT":      "three",
		"LISTEN_PORT":                 "http",
		"ACK_WAIT":                    "soon",
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewLoader().WithEnv(envMap(map[string]string{
				"SERVICE_ID": "billing",
				name:         value,
			})).Load("")
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestLoader_JSONFile(t *testing.T) {
	path := writeFile(t, "gateway.json", `{
		"service": {"id": "orders", "allow_create_stream": true, "ack_wait": "15s"},
		"nats": {"urls": ["nats://broker:4222"]},
		"http": {"port": 9000, "webhook_path": "/in"},
		"endpoints": {"bucket": "routes"}
	}`)

	cfg, err := NewLoader().WithEnv(envMap(map[string]string{"LISTEN_PORT": "9100"})).Load(path)
	require.NoError(t, err)

	assert.Equal(t, "orders", cfg.Service.ID)
	assert.True(t, cfg.Service.AllowCreateStream)
	assert.Equal(t, 15*time.Second, cfg.Service.AckWait.Std())
	// unset fields keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Service.HeartbeatInterval.Std())
	assert.Equal(t, DefaultHealthPath, cfg.HTTP.HealthPath)
	assert.Equal(t, []string{"nats://broker:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "/in", cfg.HTTP.WebhookPath)
	assert.Equal(t, "routes", cfg.EndpointsBucket())
	// the environment wins over the file
	assert.Equal(t, 9100, cfg.HTTP.Port)
}

func TestLoader_YAMLFile(t *testing.T) {
	path := writeFile(t, "gateway.yaml", strings.Join([]string{
		"service:",
		"  id: orders",
		"  failures_limit: 7",
		"  stop_timeout: 1d",
		"http:",
		"  metrics_path: \"\"",
		"log:",
		"  format: text",
	}, "\n"))

	cfg, err := NewLoader().WithEnv(envMap(nil)).Load(path)
	require.NoError(t, err)

	assert.Equal(t, "orders", cfg.Service.ID)
	assert.Equal(t, 7, cfg.Service.FailuresLimit)
	assert.Equal(t, 24*time.Hour, cfg.Service.StopTimeout.Std())
	assert.Empty(t, cfg.HTTP.MetricsPath)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoader_FileErrors(t *testing.T) {
	t.Run("malformed json", func(t *testing.T) {
		path := writeFile(t, "bad.json", `{"service": {"id": }`)
		_, err := NewLoader().WithEnv(envMap(nil)).Load(path)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("bad duration", func(t *testing.T) {
		path := writeFile(t, "bad.json", `{"service": {"id": "x", "ack_wait": 10}}`)
		_, err := NewLoader().WithEnv(envMap(nil)).Load(path)
		assert.Error(t, err)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := writeFile(t, "gateway.toml", `id = "x"`)
		_, err := NewLoader().WithEnv(envMap(nil)).Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "only JSON or YAML")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewLoader().WithEnv(envMap(nil)).Load(filepath.Join(t.TempDir(), "none.json"))
		assert.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Service.ID = "billing"
		return cfg
	}

	require.NoError(t, valid().Validate())

	atBound := valid()
	atBound.Service.HeartbeatInterval = Duration(MaxHeartbeatInterval)
	require.NoError(t, atBound.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"service id with dot", func(c *Config) { c.Service.ID = "billing.v2" }},
		{"service id with wildcard", func(c *Config) { c.Service.ID = "bill*" }},
		{"failures limit zero", func(c *Config) { c.Service.FailuresLimit = 0 }},
		{"ack wait zero", func(c *Config) { c.Service.AckWait = 0 }},
		{"heartbeat above 15s", func(c *Config) { c.Service.HeartbeatInterval = Duration(20 * time.Second) }},
		{"no nats urls", func(c *Config) { c.NATS.URLs = nil }},
		{"tls key without cert", func(c *Config) {
			c.NATS.TLS = NATSTLSConfig{Enabled: true, KeyFile: "key.pem"}
		}},
		{"port out of range", func(c *Config) { c.HTTP.Port = 70000 }},
		{"relative webhook path", func(c *Config) { c.HTTP.WebhookPath = "webhook" }},
		{"root health path", func(c *Config) { c.HTTP.HealthPath = "/" }},
		{"relative metrics path", func(c *Config) { c.HTTP.MetricsPath = "metrics" }},
		{"request size zero", func(c *Config) { c.HTTP.MaxRequestSize = 0 }},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": [1, {"b": "]"}]}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": [1]`)))
	assert.Error(t, validateJSONDepth([]byte(strings.Repeat("[", maxJSONDepth+1))))
}

func TestEnvNames(t *testing.T) {
	names := EnvNames()
	for _, want := range []string{
		"SERVICE_ID", "ALLOW_CREATE_SERVICE_STREAM", "SERVICE_FAILURES_LIMIT",
		"HEALTH_ENDPOINT", "NATS_SERVERS_CONFIG", "LISTEN_PORT", "WEBHOOK_ENDPOINT",
	} {
		assert.Contains(t, names, want)
	}
}
