package natsclient

import (
	"log/slog"
	"time"
)

// ClientOption configures a Client before it connects.
type ClientOption func(*Client) error

// WithName sets the connection name shown by the server. The gateway uses
// its service id.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithLogger replaces the default component logger. nil is ignored.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMaxReconnects bounds reconnection attempts; -1 retries forever.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the pause between reconnection attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.reconnectWait = d
		return nil
	}
}

// WithTimeout bounds the initial dial.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout bounds the drain performed by Close before it forces
// the connection shut.
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.drainTimeout = d
		return nil
	}
}

// WithHealthChangeCallback is called with true on connect or reconnect and
// false on disconnect or close.
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}

// WithCredentials authenticates with a user and password.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username, c.password = username, password
		return nil
	}
}

// WithToken authenticates with a token.
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithTLS enables TLS. An empty cert and key skip the client certificate,
// an empty caFile keeps the system roots.
func WithTLS(certFile, keyFile, caFile string) ClientOption {
	return func(c *Client) error {
		c.tlsEnabled = true
		c.tlsCertFile, c.tlsKeyFile, c.tlsCAFile = certFile, keyFile, caFile
		return nil
	}
}

// WithJetStreamMetrics reports streams and consumers touched by this client
// into m. A nil m disables metrics.
func WithJetStreamMetrics(m *JetStreamMetrics) ClientOption {
	return func(c *Client) error {
		c.jsMetrics = m
		return nil
	}
}
