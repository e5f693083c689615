package natsclient

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/jetdream/webhook-nats-gateway/errors"
)

// ErrSessionClosed is returned by Session.Next once the session was stopped.
var ErrSessionClosed = stderrors.New("consumption session closed")

// Msg is a JetStream message delivered to a pull session.
// jetstream.Msg satisfies it.
type Msg interface {
	Subject() string
	Data() []byte
	Ack() error
}

// Session pulls messages one at a time from a consumer.
type Session interface {
	// Next blocks until a message arrives or the session ends.
	Next() (Msg, error)
	// Stop ends the session; a blocked Next returns ErrSessionClosed.
	Stop()
	// MissedHeartbeats signals every heartbeat the server failed to deliver.
	MissedHeartbeats() <-chan struct{}
}

// Consumer is a durable pull consumer that sessions are opened against.
type Consumer interface {
	Stream() string
	Name() string
	Open(heartbeat time.Duration) (Session, error)
}

// Listener is a single-use ephemeral consumer waiting on one subject.
type Listener interface {
	Next() (Msg, error)
	// Close stops the listener and deletes its consumer from the server.
	Close(ctx context.Context) error
}

type pullSession struct {
	it     jetstream.MessagesContext
	missed chan struct{}
	once   sync.Once
}

func openSession(c jetstream.Consumer, opts ...jetstream.PullMessagesOpt) (*pullSession, error) {
	it, err := c.Messages(opts...)
	if err != nil {
		return nil, err
	}
	return &pullSession{it: it, missed: make(chan struct{}, 4)}, nil
}

func (s *pullSession) Next() (Msg, error) {
	for {
		msg, err := s.it.Next()
		switch {
		case err == nil:
			return msg, nil
		case stderrors.Is(err, jetstream.ErrNoHeartbeat):
			select {
			case s.missed <- struct{}{}:
			default:
			}
		case stderrors.Is(err, jetstream.ErrMsgIteratorClosed):
			return nil, ErrSessionClosed
		default:
			return nil, errors.WrapTransient(err, "Session", "Next", "pull message")
		}
	}
}

func (s *pullSession) Stop() {
	s.once.Do(s.it.Stop)
}

func (s *pullSession) MissedHeartbeats() <-chan struct{} {
	return s.missed
}

type durableConsumer struct {
	stream   string
	name     string
	consumer jetstream.Consumer
}

func (d *durableConsumer) Stream() string { return d.stream }
func (d *durableConsumer) Name() string   { return d.name }

func (d *durableConsumer) Open(heartbeat time.Duration) (Session, error) {
	session, err := openSession(d.consumer,
		jetstream.PullMaxMessages(1),
		jetstream.PullHeartbeat(heartbeat),
		jetstream.WithMessagesErrOnMissingHeartbeat(true),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "Consumer", "Open", "open session on "+d.stream)
	}
	return session, nil
}

// EnsureDurable creates or updates the explicit-ack durable pull consumer
// named durable on stream. Reusing the same name resumes from the last
// acknowledged position.
func (c *Client) EnsureDurable(ctx context.Context, stream, durable string, ackWait time.Duration) (Consumer, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:   durable,
		AckPolicy: jetstream.AckExplicitPolicy,
		AckWait:   ackWait,
	})
	if err != nil {
		c.jsMetrics.recordError("create_consumer")
		return nil, errors.WrapTransient(err, "Client", "EnsureDurable", "create consumer on "+stream)
	}

	c.jsMetrics.trackConsumer(stream, durable, consumer)
	return &durableConsumer{stream: stream, name: durable, consumer: consumer}, nil
}

type replyListener struct {
	js        jetstream.JetStream
	stream    string
	name      string
	session   *pullSession
	closeOnce sync.Once
	closeErr  error
}

func (l *replyListener) Next() (Msg, error) {
	return l.session.Next()
}

func (l *replyListener) Close(ctx context.Context) error {
	l.closeOnce.Do(func() {
		l.session.Stop()
		err := l.js.DeleteConsumer(ctx, l.stream, l.name)
		if err != nil && !stderrors.Is(err, jetstream.ErrConsumerNotFound) {
			l.closeErr = errors.WrapTransient(err, "Listener", "Close", "delete consumer "+l.name)
		}
	})
	return l.closeErr
}

// OpenReplyListener creates an ephemeral consumer delivering only messages
// published on subject after this call returns. The server removes the
// consumer after inactive of disuse if Close is never reached.
func (c *Client) OpenReplyListener(ctx context.Context, subject string, inactive time.Duration) (Listener, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	stream, err := c.StreamNameBySubject(ctx, subject)
	if err != nil {
		return nil, errors.Wrap(err, "Client", "OpenReplyListener", "resolve stream for "+subject)
	}

	consumer, err := js.CreateConsumer(ctx, stream, jetstream.ConsumerConfig{
		FilterSubject:     subject,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		InactiveThreshold: inactive,
	})
	if err != nil {
		c.jsMetrics.recordError("create_ephemeral")
		return nil, errors.WrapTransient(err, "Client", "OpenReplyListener", "create consumer on "+stream)
	}

	name := consumer.CachedInfo().Name
	listener := &replyListener{js: js, stream: stream, name: name}

	session, err := openSession(consumer, jetstream.PullMaxMessages(1))
	if err != nil {
		if delErr := js.DeleteConsumer(ctx, stream, name); delErr != nil {
			c.logger.Warn("Failed to delete reply consumer", "consumer", name, "error", delErr)
		}
		return nil, errors.WrapTransient(err, "Client", "OpenReplyListener", "open session")
	}
	listener.session = session

	return listener, nil
}
