package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetdream/webhook-nats-gateway/errors"
	"github.com/jetdream/webhook-nats-gateway/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient([]string{"nats://a:4222", "nats://b:4222"},
		WithName("billing"),
		WithTimeout(time.Second),
		WithDrainTimeout(3*time.Second),
		WithCredentials("user", "pass"),
	)
	require.NoError(t, err)

	assert.Equal(t, "nats://a:4222,nats://b:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, "billing", client.clientName)
	assert.Equal(t, 3*time.Second, client.drainTimeout)
}

func TestNewClient_RequiresServers(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestConnectionStatus_String(t *testing.T) {
	tests := map[ConnectionStatus]string{
		StatusDisconnected:  "disconnected",
		StatusConnecting:    "connecting",
		StatusConnected:     "connected",
		StatusReconnecting:  "reconnecting",
		StatusClosed:        "closed",
		ConnectionStatus(9): "unknown",
	}
	for status, expected := range tests {
		assert.Equal(t, expected, status.String())
	}
}

func TestClient_OperationsWithoutConnection(t *testing.T) {
	client, err := NewClient([]string{"nats://localhost:4222"})
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, client.Publish(ctx, "a.b", []byte("x")), ErrNotConnected)
	assert.ErrorIs(t, client.PublishToStream(ctx, "a.b", []byte("x")), ErrNotConnected)

	_, err = client.Subscribe(ctx, "a.>", func(context.Context, string, []byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.StreamNameBySubject(ctx, "a.b")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.EnsureDurable(ctx, "a", "a", time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.OpenReplyListener(ctx, "a.response.x", time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	client, err := NewClient([]string{"nats://localhost:4222"})
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))
	assert.Equal(t, StatusClosed, client.Status())

	// a closed client cannot be reused
	assert.ErrorIs(t, client.Connect(context.Background()), ErrClosed)
}

func TestNewJetStreamMetrics(t *testing.T) {
	m, err := NewJetStreamMetrics(nil, time.Second)
	require.NoError(t, err)
	assert.Nil(t, m)

	// nil metrics are safe to use
	m.recordError("x")
	m.trackStream("s", nil)

	registry := metric.NewMetricsRegistry()
	m, err = NewJetStreamMetrics(registry, 0)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, m.interval)

	// a second set on the same registry collides
	_, err = NewJetStreamMetrics(registry, 0)
	assert.Error(t, err)
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.False(t, isAlreadyExistsError(nil))
	assert.False(t, isAlreadyExistsError(assert.AnError))
	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.False(t, IsKVNotFoundError(nil))
}
