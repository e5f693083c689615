package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jetdream/webhook-nats-gateway/errors"
	"github.com/jetdream/webhook-nats-gateway/message"
	"github.com/jetdream/webhook-nats-gateway/natsclient"
)

type published struct {
	subject string
	data    []byte
}

type subscription struct {
	t       *fakeTransport
	pattern string
	handler func(ctx context.Context, subject string, data []byte)
	gone    atomic.Bool
}

func (s *subscription) Unsubscribe() error {
	s.gone.Store(true)
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	for i, sub := range s.t.subs {
		if sub == s {
			s.t.subs = append(s.t.subs[:i], s.t.subs[i+1:]...)
			break
		}
	}
	return nil
}

// fakeTransport is an in-memory broker.
type fakeTransport struct {
	mu        sync.Mutex
	streams   map[string]string // subject -> stream
	existing  map[string]bool
	created   map[string][]string
	consumers map[string]*fakeConsumer
	streamPub []published
	corePub   []published
	subs      []*subscription
	closed    int

	lookupErr    error
	subscribeErr error
	// beforePublish runs ahead of every stream publish, outside the lock
	beforePublish func(subject string)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		streams:   make(map[string]string),
		existing:  make(map[string]bool),
		created:   make(map[string][]string),
		consumers: make(map[string]*fakeConsumer),
	}
}

func (f *fakeTransport) addStream(name string, subjects ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existing[name] = true
	for _, s := range subjects {
		f.streams[s] = name
	}
}

func (f *fakeTransport) StreamNameBySubject(_ context.Context, subject string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return "", f.lookupErr
	}
	if name, ok := f.streams[subject]; ok {
		return name, nil
	}
	return "", errors.ErrStreamNotFound
}

func (f *fakeTransport) StreamExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[name], nil
}

func (f *fakeTransport) CreateStream(_ context.Context, name string, subjects []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existing[name] = true
	f.created[name] = subjects
	return nil
}

func (f *fakeTransport) EnsureDurable(_ context.Context, stream, durable string, _ time.Duration) (natsclient.Consumer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.consumers[stream]
	if !ok {
		c = &fakeConsumer{stream: stream, name: durable, opened: make(chan *fakeSession, 16)}
		f.consumers[stream] = c
	}
	return c, nil
}

func (f *fakeTransport) PublishToStream(_ context.Context, subject string, data []byte) error {
	if f.beforePublish != nil {
		f.beforePublish(subject)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamPub = append(f.streamPub, published{subject: subject, data: data})
	return nil
}

func (f *fakeTransport) Publish(_ context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.corePub = append(f.corePub, published{subject: subject, data: data})
	return nil
}

func (f *fakeTransport) Subscribe(_ context.Context, subject string,
	handler func(ctx context.Context, subject string, data []byte),
) (Unsubscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := &subscription{t: f, pattern: subject, handler: handler}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeTransport) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// deliver hands a core message to every matching subscription.
func (f *fakeTransport) deliver(subject string, data []byte) int {
	f.mu.Lock()
	var targets []*subscription
	for _, sub := range f.subs {
		if matches(sub.pattern, subject) {
			targets = append(targets, sub)
		}
	}
	f.mu.Unlock()

	for _, sub := range targets {
		sub.handler(context.Background(), subject, data)
	}
	return len(targets)
}

func (f *fakeTransport) subscribed(pattern string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.pattern == pattern {
			return true
		}
	}
	return false
}

func (f *fakeTransport) streamPublished(subject string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.streamPub {
		if p.subject == subject {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeTransport) corePublished(subject string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.corePub {
		if p.subject == subject {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) consumer(t *testing.T, stream string) *fakeConsumer {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.consumers[stream]
	require.True(t, ok, "no consumer on stream %s", stream)
	return c
}

func matches(pattern, subject string) bool {
	if prefix, ok := strings.CutSuffix(pattern, ">"); ok {
		return strings.HasPrefix(subject, prefix)
	}
	return pattern == subject
}

type fakeConsumer struct {
	stream  string
	name    string
	opened  chan *fakeSession
	openErr atomic.Pointer[error]
	opens   atomic.Int32
}

func (c *fakeConsumer) Stream() string { return c.stream }
func (c *fakeConsumer) Name() string   { return c.name }

func (c *fakeConsumer) Open(time.Duration) (natsclient.Session, error) {
	c.opens.Add(1)
	if err := c.openErr.Load(); err != nil {
		return nil, *err
	}
	s := &fakeSession{
		msgs:    make(chan natsclient.Msg, 16),
		missed:  make(chan struct{}, 4),
		stopped: make(chan struct{}),
	}
	c.opened <- s
	return s, nil
}

// nextSession waits for the consumer to open a session.
func (c *fakeConsumer) nextSession(t *testing.T) *fakeSession {
	t.Helper()
	select {
	case s := <-c.opened:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no session opened")
		return nil
	}
}

type fakeSession struct {
	msgs    chan natsclient.Msg
	missed  chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func (s *fakeSession) Next() (natsclient.Msg, error) {
	select {
	case <-s.stopped:
		return nil, natsclient.ErrSessionClosed
	default:
	}
	select {
	case msg := <-s.msgs:
		return msg, nil
	case <-s.stopped:
		return nil, natsclient.ErrSessionClosed
	}
}

func (s *fakeSession) Stop() {
	s.once.Do(func() { close(s.stopped) })
}

func (s *fakeSession) MissedHeartbeats() <-chan struct{} {
	return s.missed
}

func (s *fakeSession) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

type fakeMsg struct {
	subject string
	data    []byte
	acks    atomic.Int32
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Ack() error {
	m.acks.Add(1)
	return nil
}

type fakeHandler struct {
	subjects []string
	initErr  error
	handle   func(subject string, env *message.Envelope) error

	mu      sync.Mutex
	handled []string
	stopped int
}

func (h *fakeHandler) SubjectsOfInterest() []string { return h.subjects }

func (h *fakeHandler) Init(context.Context, message.Publisher) error { return h.initErr }

func (h *fakeHandler) Handle(_ context.Context, subject string, env *message.Envelope) error {
	h.mu.Lock()
	h.handled = append(h.handled, subject)
	h.mu.Unlock()
	if h.handle != nil {
		return h.handle(subject, env)
	}
	return nil
}

func (h *fakeHandler) Stop(context.Context) error {
	h.mu.Lock()
	h.stopped++
	h.mu.Unlock()
	return nil
}

func (h *fakeHandler) handledCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

// envelope encodes payload the way a peer service would.
func envelope(t *testing.T, payload any) []byte {
	t.Helper()
	data, err := message.NewCodec("peer").Encode(payload)
	require.NoError(t, err)
	return data
}

func testConfig() Config {
	return Config{
		ServiceID:                "hooks",
		AllowCreateServiceStream: true,
		FailuresLimit:            3,
		HeartbeatInterval:        50 * time.Millisecond,
		SessionRetryDelay:        10 * time.Millisecond,
		StopTimeout:              2 * time.Second,
	}
}
