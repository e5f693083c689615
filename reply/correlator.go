// Package reply correlates a request published on the bus with the single
// reply published on its response subject.
package reply

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jetdream/webhook-nats-gateway/errors"
	"github.com/jetdream/webhook-nats-gateway/message"
	"github.com/jetdream/webhook-nats-gateway/natsclient"
)

// Opener creates the ephemeral listener a pending reply waits on.
// *natsclient.Client implements it.
type Opener interface {
	OpenReplyListener(ctx context.Context, subject string, inactive time.Duration) (natsclient.Listener, error)
}

// Correlator hands out Pending replies.
type Correlator struct {
	opener   Opener
	inactive time.Duration
	logger   *slog.Logger
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithInactiveThreshold sets how long the server keeps an abandoned reply
// consumer before removing it on its own.
func WithInactiveThreshold(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.inactive = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Correlator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCorrelator creates a correlator opening listeners through opener.
func NewCorrelator(opener Opener, opts ...Option) *Correlator {
	c := &Correlator{
		opener:   opener,
		inactive: 5 * time.Minute,
		logger:   slog.Default().With("component", "reply"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Await starts listening on subject and returns once the listener exists, so
// a request published afterwards cannot race its reply. The returned Pending
// resolves with the first reply, or fails after timeout.
func (c *Correlator) Await(ctx context.Context, subject string, timeout time.Duration) (*Pending, error) {
	listener, err := c.opener.OpenReplyListener(ctx, subject, c.inactive)
	if err != nil {
		return nil, errors.Wrap(err, "Correlator", "Await", "open listener on "+subject)
	}

	p := &Pending{
		subject:  subject,
		listener: listener,
		logger:   c.logger,
		done:     make(chan struct{}),
	}

	go p.listen()
	go p.expire(timeout)

	return p, nil
}

// Pending is a single-shot reply. It resolves exactly once, and its listener
// is released exactly once, whichever of reply, timeout or cancellation
// comes first.
type Pending struct {
	subject  string
	listener natsclient.Listener
	logger   *slog.Logger

	once sync.Once
	done chan struct{}
	env  *message.Envelope
	err  error
}

// Subject returns the response subject being listened on.
func (p *Pending) Subject() string {
	return p.subject
}

func (p *Pending) listen() {
	for {
		msg, err := p.listener.Next()
		if err != nil {
			p.finish(nil, errors.Wrap(err, "Pending", "listen", "receive reply"))
			return
		}

		if err := msg.Ack(); err != nil {
			p.logger.Warn("Failed to ack reply", "subject", p.subject, "error", err)
		}
		if len(msg.Data()) == 0 {
			continue
		}

		env, err := message.Decode(msg.Data())
		p.finish(env, err)
		return
	}
}

func (p *Pending) expire(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		p.finish(nil, errors.WrapTimeout(errors.ErrTimeout, "Pending", "expire",
			"wait "+timeout.String()+" for reply on "+p.subject))
	case <-p.done:
	}
}

func (p *Pending) finish(env *message.Envelope, err error) {
	p.once.Do(func() {
		p.env = env
		p.err = err

		// released before done closes, so a resolved reply holds no consumer
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if closeErr := p.listener.Close(ctx); closeErr != nil {
			p.logger.Warn("Failed to release reply listener", "subject", p.subject, "error", closeErr)
		}
		close(p.done)
	})
}

// Wait blocks until the reply resolves. Cancelling ctx abandons the reply and
// returns the context error.
func (p *Pending) Wait(ctx context.Context) (*message.Envelope, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.finish(nil, ctx.Err())
	}
	return p.env, p.err
}

// Cancel abandons the reply. Safe to call after resolution.
func (p *Pending) Cancel() {
	p.finish(nil, context.Canceled)
}

// Done is closed once the reply resolved.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}
