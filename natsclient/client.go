package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/jetdream/webhook-nats-gateway/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrClosed       = stderrors.New("client closed")
)

// Client owns one NATS connection and its JetStream context for the lifetime
// of a gateway runtime. A paused runtime closes its client; the next runtime
// builds a fresh one.
type Client struct {
	urls   []string
	status atomic.Value // stores ConnectionStatus
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Authentication - sensitive fields cleared on close
	username string
	password string
	token    string

	// TLS
	tlsEnabled  bool
	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string

	clientName string

	jsMetrics     *JetStreamMetrics
	metricsCancel context.CancelFunc

	onHealthChange func(bool)

	// closedCh is closed by the connection's closed handler
	closedCh   chan struct{}
	closedOnce sync.Once

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client for the given server URLs
func NewClient(urls []string, opts ...ClientOption) (*Client, error) {
	if len(urls) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "validate server urls")
	}

	c := &Client{
		urls:          urls,
		logger:        slog.Default().With("component", "natsclient"),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		pingInterval:  30 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.closedCh = make(chan struct{})
	return c, nil
}

// URL returns the server list as passed to nats.Connect
func (c *Client) URL() string {
	return strings.Join(c.urls, ",")
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
}

// IsHealthy returns true if the connection is healthy
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

func (c *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}

	if c.tlsEnabled {
		if c.tlsCertFile != "" && c.tlsKeyFile != "" {
			opts = append(opts, nats.ClientCert(c.tlsCertFile, c.tlsKeyFile))
		}
		if c.tlsCAFile != "" {
			opts = append(opts, nats.RootCAs(c.tlsCAFile))
		}
	}

	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	return opts
}

// Connect establishes connection to NATS server
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "servers", c.URL())

	opts := c.buildConnectionOptions()

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.URL(), opts...)
		if err != nil {
			connectDone <- err
			return
		}

		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			connectDone <- err
			return
		}

		c.mu.Lock()
		c.conn = conn
		c.js = js
		c.mu.Unlock()

		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			c.setStatus(StatusDisconnected)
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.logger.Info("Connected to NATS", "servers", c.URL())

	if c.jsMetrics != nil {
		c.metricsCancel = c.jsMetrics.startPoller(context.Background())
	}

	if c.onHealthChange != nil {
		c.onHealthChange(true)
	}

	return nil
}

// Close unsubscribes, drains and closes the connection. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	if c.metricsCancel != nil {
		c.metricsCancel()
	}

	c.mu.Lock()
	subs := c.subs
	conn := c.conn
	closedCh := c.closedCh
	c.subs = nil
	c.conn = nil
	c.js = nil
	c.username = ""
	c.password = ""
	c.token = ""
	c.mu.Unlock()

	var errs []error

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) &&
			!stderrors.Is(err, nats.ErrBadSubscription) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}

	if conn != nil {
		drainTimeout := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		if err := conn.Drain(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
		} else {
			// Drain is asynchronous; the closed handler fires once it completes.
			select {
			case <-closedCh:
			case <-time.After(drainTimeout):
				errs = append(errs, errors.WrapTransient(
					fmt.Errorf("drain timeout after %v", drainTimeout),
					"Client", "Close", "drain connection"))
				c.logger.Error("Drain timeout, force closing", "timeout", drainTimeout)
			case <-ctx.Done():
				errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "drain connection"))
			}
		}

		conn.Close()
	}

	c.setStatus(StatusClosed)

	return stderrors.Join(errs...)
}

// Subscription is a core NATS subscription owned by the client
type Subscription struct {
	client *Client
	sub    *nats.Subscription
}

// Unsubscribe removes the subscription. Calling it twice is harmless.
func (s *Subscription) Unsubscribe() error {
	s.client.mu.Lock()
	for i, sub := range s.client.subs {
		if sub == s.sub {
			s.client.subs = append(s.client.subs[:i], s.client.subs[i+1:]...)
			break
		}
	}
	s.client.mu.Unlock()

	err := s.sub.Unsubscribe()
	if stderrors.Is(err, nats.ErrBadSubscription) || stderrors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return err
}

// Subscribe subscribes to a core NATS subject. Each handler call receives a
// context derived from ctx with a 30-second processing budget.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(ctx context.Context, subject string, data []byte)) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		handler(msgCtx, msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}

	c.subs = append(c.subs, sub)
	return &Subscription{client: c, sub: sub}, nil
}

// Publish publishes a message to a core NATS subject
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}

	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish "+subject)
	}
	return nil
}

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}

	return c.js, nil
}

// PublishToStream publishes to a JetStream stream and waits for the ack
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		c.jsMetrics.recordError("publish")
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish "+subject)
	}
	return nil
}

// StreamNameBySubject returns the stream covering subject, or
// errors.ErrStreamNotFound if no stream does.
func (c *Client) StreamNameBySubject(ctx context.Context, subject string) (string, error) {
	js, err := c.JetStream()
	if err != nil {
		return "", err
	}

	name, err := js.StreamNameBySubject(ctx, subject)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrStreamNotFound) {
			return "", errors.ErrStreamNotFound
		}
		c.jsMetrics.recordError("stream_lookup")
		return "", errors.WrapTransient(err, "Client", "StreamNameBySubject", "look up stream for "+subject)
	}
	return name, nil
}

// StreamExists reports whether a stream with the given name exists
func (c *Client) StreamExists(ctx context.Context, name string) (bool, error) {
	js, err := c.JetStream()
	if err != nil {
		return false, err
	}

	stream, err := js.Stream(ctx, name)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrStreamNotFound) {
			return false, nil
		}
		return false, errors.WrapTransient(err, "Client", "StreamExists", "get stream "+name)
	}

	c.jsMetrics.trackStream(name, stream)
	return true, nil
}

// CreateStream creates a file-backed stream over subjects
func (c *Client) CreateStream(ctx context.Context, name string, subjects []string) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}

	stream, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		c.jsMetrics.recordError("create_stream")
		if isAlreadyExistsError(err) {
			return errors.WrapFatal(errors.ErrStreamConflict, "Client", "CreateStream", "create stream "+name)
		}
		return errors.WrapTransient(err, "Client", "CreateStream", "create stream "+name)
	}

	c.jsMetrics.trackStream(name, stream)
	return nil
}

// GetKeyValueBucket gets an existing KV bucket
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	kv, err := js.KeyValue(ctx, name)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, errors.WrapFatal(errors.ErrBucketNotFound, "Client", "GetKeyValueBucket", "open bucket "+name)
		}
		return nil, errors.WrapTransient(err, "Client", "GetKeyValueBucket", "open bucket "+name)
	}
	return kv, nil
}

// CreateKeyValueBucket creates a KV bucket, returning the existing one if present
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	kv, err := js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if isAlreadyExistsError(err) {
			return js.KeyValue(ctx, cfg.Bucket)
		}
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "create bucket "+cfg.Bucket)
	}
	return kv, nil
}

func (c *Client) healthCallback() func(bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.onHealthChange
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	c.logger.Warn("NATS disconnected", "error", err)
	if fn := c.healthCallback(); fn != nil {
		go fn(false)
	}
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.setStatus(StatusConnected)
	c.logger.Info("NATS reconnected", "server", conn.ConnectedUrl())
	if fn := c.healthCallback(); fn != nil {
		go fn(true)
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.closedOnce.Do(func() { close(c.closedCh) })
	if !c.closed.Load() {
		c.setStatus(StatusDisconnected)
	}
	if fn := c.healthCallback(); fn != nil {
		go fn(false)
	}
}

func (c *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	c.logger.Error("NATS error", "error", err)
}

// isAlreadyExistsError checks if an error indicates a stream or bucket already exists
func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "bucket name already in use") ||
		strings.Contains(errStr, "already exists") ||
		strings.Contains(errStr, "stream name already in use")
}
