package reply

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetdream/webhook-nats-gateway/errors"
	"github.com/jetdream/webhook-nats-gateway/message"
	"github.com/jetdream/webhook-nats-gateway/natsclient"
)

type fakeMsg struct {
	subject string
	data    []byte
	acked   atomic.Bool
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Ack() error {
	m.acked.Store(true)
	return nil
}

type fakeListener struct {
	msgs      chan natsclient.Msg
	stopped   chan struct{}
	stopOnce  sync.Once
	closes    atomic.Int32
	deletions atomic.Int32
}

func newFakeListener() *fakeListener {
	return &fakeListener{msgs: make(chan natsclient.Msg, 4), stopped: make(chan struct{})}
}

func (l *fakeListener) Next() (natsclient.Msg, error) {
	select {
	case msg := <-l.msgs:
		return msg, nil
	case <-l.stopped:
		return nil, natsclient.ErrSessionClosed
	}
}

func (l *fakeListener) Close(context.Context) error {
	l.closes.Add(1)
	l.stopOnce.Do(func() {
		l.deletions.Add(1)
		close(l.stopped)
	})
	return nil
}

type fakeOpener struct {
	listener *fakeListener
	subject  string
	err      error
}

func (o *fakeOpener) OpenReplyListener(_ context.Context, subject string, _ time.Duration) (natsclient.Listener, error) {
	o.subject = subject
	if o.err != nil {
		return nil, o.err
	}
	return o.listener, nil
}

func encodeReply(t *testing.T, payload any) []byte {
	t.Helper()
	data, err := message.NewCodec("billing").Encode(payload)
	require.NoError(t, err)
	return data
}

func TestCorrelator_ResolvesWithFirstReply(t *testing.T) {
	listener := newFakeListener()
	opener := &fakeOpener{listener: listener}
	correlator := NewCorrelator(opener)

	pending, err := correlator.Await(context.Background(), "svc.response.quote.send.1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "svc.response.quote.send.1", opener.subject)
	assert.Equal(t, "svc.response.quote.send.1", pending.Subject())

	empty := &fakeMsg{subject: pending.Subject()}
	reply := &fakeMsg{subject: pending.Subject(), data: encodeReply(t, map[string]any{"body": "ok"})}
	listener.msgs <- empty
	listener.msgs <- reply

	env, err := pending.Wait(context.Background())
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.JSONEq(t, `{"body":"ok"}`, string(env.Payload))

	assert.True(t, empty.acked.Load(), "empty messages are acked and skipped")
	assert.True(t, reply.acked.Load())
	assert.Equal(t, int32(1), listener.deletions.Load())
}

func TestCorrelator_Timeout(t *testing.T) {
	listener := newFakeListener()
	correlator := NewCorrelator(&fakeOpener{listener: listener})

	pending, err := correlator.Await(context.Background(), "svc.response.quote.send.2", 20*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	env, err := pending.Wait(context.Background())
	require.Error(t, err)
	assert.Nil(t, env)
	assert.True(t, errors.IsTimeout(err))
	assert.ErrorIs(t, err, errors.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)

	// cancelling a resolved reply releases nothing twice
	pending.Cancel()
	assert.Equal(t, int32(1), listener.deletions.Load())
	assert.Equal(t, int32(1), listener.closes.Load())
}

func TestCorrelator_DecodeFailure(t *testing.T) {
	listener := newFakeListener()
	correlator := NewCorrelator(&fakeOpener{listener: listener})

	pending, err := correlator.Await(context.Background(), "s", time.Second)
	require.NoError(t, err)

	listener.msgs <- &fakeMsg{data: []byte(`{"payload":1}`)}

	_, err = pending.Wait(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.False(t, errors.IsTimeout(err))
	assert.Equal(t, int32(1), listener.deletions.Load())
}

func TestCorrelator_CallerCancellation(t *testing.T) {
	listener := newFakeListener()
	correlator := NewCorrelator(&fakeOpener{listener: listener})

	pending, err := correlator.Await(context.Background(), "s", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = pending.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	<-pending.Done()
	assert.Equal(t, int32(1), listener.deletions.Load())
}

func TestCorrelator_OpenFailure(t *testing.T) {
	correlator := NewCorrelator(&fakeOpener{err: errors.ErrStreamNotFound})

	pending, err := correlator.Await(context.Background(), "s", time.Second)
	require.Error(t, err)
	assert.Nil(t, pending)
	assert.ErrorIs(t, err, errors.ErrStreamNotFound)
	assert.False(t, errors.IsTimeout(err))
}

func TestCorrelator_ConcurrentResolutionReleasesOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		listener := newFakeListener()
		correlator := NewCorrelator(&fakeOpener{listener: listener})

		pending, err := correlator.Await(context.Background(), "s", time.Millisecond)
		require.NoError(t, err)
		listener.msgs <- &fakeMsg{data: encodeReply(t, "x")}

		var wg sync.WaitGroup
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = pending.Wait(context.Background())
			}()
		}
		pending.Cancel()
		wg.Wait()

		assert.Equal(t, int32(1), listener.closes.Load())
	}
}
