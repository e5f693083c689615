package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jetdream/webhook-nats-gateway/errors"
	"github.com/jetdream/webhook-nats-gateway/health"
	"github.com/jetdream/webhook-nats-gateway/message"
	"github.com/jetdream/webhook-nats-gateway/metric"
	"github.com/jetdream/webhook-nats-gateway/natsclient"
)

// State is the run state of a gateway runtime.
type State int

// Run states. Paused and Stopped both mean no consumer is active; a paused
// runtime ends with a restart, a stopped one does not.
const (
	StateStarting State = iota
	StateRunning
	StatePaused
	StateStopping
	StateStopped
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome tells the process loop what to do once a runtime is done.
type Outcome int

const (
	// OutcomeStopped ends the process.
	OutcomeStopped Outcome = iota
	// OutcomeRestart rebuilds the runtime from scratch.
	OutcomeRestart
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	if o == OutcomeRestart {
		return "restart"
	}
	return "stopped"
}

// Handler consumes the messages addressed to the service.
type Handler interface {
	SubjectsOfInterest() []string
	Init(ctx context.Context, publisher message.Publisher) error
	// Handle processes one message. An error classified invalid refuses the
	// message; any other error counts as a processing failure.
	Handle(ctx context.Context, subject string, env *message.Envelope) error
	Stop(ctx context.Context) error
}

// Config holds the runtime settings.
type Config struct {
	ServiceID                string
	AllowCreateServiceStream bool
	FailuresLimit            int
	AckWait                  time.Duration
	HeartbeatInterval        time.Duration
	SessionRetryDelay        time.Duration
	StopTimeout              time.Duration
}

// Defaults
const (
	DefaultAckWait           = 10 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultSessionRetryDelay = time.Second
	DefaultStopTimeout       = 30 * time.Second
	DefaultFailuresLimit     = 3

	// missedHeartbeatLimit stops a session after this many misses.
	missedHeartbeatLimit = 2
)

func (c *Config) applyDefaults() {
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.SessionRetryDelay <= 0 {
		c.SessionRetryDelay = DefaultSessionRetryDelay
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.FailuresLimit <= 0 {
		c.FailuresLimit = DefaultFailuresLimit
	}
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics records runtime metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithHealthMonitor reports the run state as the "runtime" component.
func WithHealthMonitor(m *health.Monitor) Option {
	return func(g *Gateway) {
		g.monitor = m
	}
}

// WithCodec overrides the envelope codec, mostly for tests.
func WithCodec(codec *message.Codec) Option {
	return func(g *Gateway) {
		if codec != nil {
			g.codec = codec
		}
	}
}

type consumerSlot struct {
	id       ulid.ULID
	consumer natsclient.Consumer
	// session is guarded by Gateway.sessionsMu
	session natsclient.Session
}

// Gateway is one runtime of the service: from a fresh connection to either
// an explicit stop or a pause ended by the resume command. The process
// builds a new Gateway for every restart.
type Gateway struct {
	cfg       Config
	transport Transport
	handler   Handler
	codec     *message.Codec
	subjects  lifecycleSubjects
	interest  map[string]struct{}
	logger    *slog.Logger
	metrics   *metric.Metrics
	monitor   *health.Monitor

	mu             sync.Mutex
	state          State
	started        bool
	failures       int
	pauseTriggered bool
	tearingDown    bool
	supervisors    int
	stoppedCount   int
	telemetry      Unsubscriber

	terminated atomic.Bool
	haltCh     chan struct{}
	haltOnce   sync.Once

	sessionsMu sync.Mutex
	slots      map[ulid.ULID]*consumerSlot

	allStopped     chan struct{}
	allStoppedOnce sync.Once

	stopCh   chan struct{}
	stopOnce sync.Once

	runCtx    context.Context
	cancelRun context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
	outcome  Outcome
}

// New creates a runtime that owns transport: it is closed when the runtime
// ends, whichever way.
func New(cfg Config, transport Transport, handler Handler, opts ...Option) (*Gateway, error) {
	if cfg.ServiceID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Gateway", "New", "service id is required")
	}
	if transport == nil || handler == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "New", "transport and handler are required")
	}
	cfg.applyDefaults()

	interest := make(map[string]struct{})
	for _, subject := range handler.SubjectsOfInterest() {
		interest[subject] = struct{}{}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:        cfg,
		transport:  transport,
		handler:    handler,
		codec:      message.NewCodec(cfg.ServiceID),
		subjects:   newLifecycleSubjects(cfg.ServiceID),
		interest:   interest,
		logger:     slog.Default().With("component", "gateway-runtime"),
		state:      StateStarting,
		haltCh:     make(chan struct{}),
		slots:      make(map[ulid.ULID]*consumerSlot),
		allStopped: make(chan struct{}),
		stopCh:     make(chan struct{}),
		runCtx:     runCtx,
		cancelRun:  cancel,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.reportState(StateStarting)
	return g, nil
}

// ServiceID returns the service identity the runtime publishes as.
func (g *Gateway) ServiceID() string {
	return g.cfg.ServiceID
}

// State returns the current run state.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// ConsecutiveFailures returns the current failure counter.
func (g *Gateway) ConsecutiveFailures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures
}

// Done is closed once the runtime has ended and released its connection.
func (g *Gateway) Done() <-chan struct{} {
	return g.done
}

// Outcome is valid once Done is closed.
func (g *Gateway) Outcome() Outcome {
	<-g.done
	return g.outcome
}

// Wait blocks until the runtime ends.
func (g *Gateway) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-g.done:
		return g.outcome, nil
	case <-ctx.Done():
		return OutcomeStopped, ctx.Err()
	}
}

// setStateLocked requires g.mu.
func (g *Gateway) setStateLocked(s State) {
	if g.state == s {
		return
	}
	g.logger.Info("Runtime state changed", "from", g.state.String(), "to", s.String())
	g.state = s
	g.reportState(s)
}

func (g *Gateway) reportState(s State) {
	if g.metrics != nil {
		g.metrics.RecordServiceState(g.cfg.ServiceID, int(s))
	}
	if g.monitor == nil {
		return
	}
	switch s {
	case StateRunning:
		g.monitor.UpdateHealthy("runtime", "Consuming")
	case StateStopped:
		g.monitor.UpdateUnhealthy("runtime", "Stopped")
	case StatePaused:
		g.monitor.UpdateDegraded("runtime", "Paused, waiting for "+g.subjects.resume)
	default:
		g.monitor.UpdateDegraded("runtime", s.String())
	}
}

func (g *Gateway) finish(outcome Outcome) {
	g.doneOnce.Do(func() {
		g.mu.Lock()
		g.outcome = outcome
		if outcome == OutcomeStopped {
			g.setStateLocked(StateStopped)
		}
		g.mu.Unlock()
		g.logger.Info("Runtime ended", "outcome", outcome.String())
		close(g.done)
	})
}
