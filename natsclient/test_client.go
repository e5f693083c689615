package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testNATSImage = "nats:2.11.7-alpine"

// TestClient is a NATS server in a container plus one client connected to
// it. Both are torn down with the test.
type TestClient struct {
	Client *Client
	URL    string
}

type testConfig struct {
	jetstream bool
	kvBuckets []string
}

// TestOption configures NewTestClient.
type TestOption func(*testConfig)

// WithJetStream starts the server with JetStream enabled.
func WithJetStream() TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
	}
}

// WithKVBuckets enables JetStream and creates the named buckets.
func WithKVBuckets(buckets ...string) TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
		cfg.kvBuckets = append(cfg.kvBuckets, buckets...)
	}
}

// NewTestClient starts a server and connects a client to it.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()

	cfg := &testConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	url, err := startNATSContainer(t, cfg.jetstream)
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}

	tc := &TestClient{URL: url}
	tc.Client = tc.NewConnectedClient(t)

	for _, bucket := range cfg.kvBuckets {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: bucket})
		cancel()
		if err != nil {
			t.Fatalf("Failed to create KV bucket %s: %v", bucket, err)
		}
	}
	return tc
}

func startNATSContainer(t testing.TB, js bool) (string, error) {
	ctx := context.Background()

	args := []string{"--port", "4222", "--http_port", "8222"}
	if js {
		args = append(args, "--js")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        testNATSImage,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          args,
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(30*time.Second),
			),
		},
		Started: true,
	})
	if err != nil {
		return "", err
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		return "", fmt.Errorf("mapped port: %w", err)
	}
	return fmt.Sprintf("nats://%s:%s", host, port.Port()), nil
}

// NewConnectedClient returns an additional client on the same server, closed
// at test end. The gateway runtime closes its own client, so tests hand it one
// of these instead of the shared one.
func (tc *TestClient) NewConnectedClient(t testing.TB, opts ...ClientOption) *Client {
	t.Helper()

	client, err := NewClient([]string{tc.URL}, append([]ClientOption{
		WithMaxReconnects(0),
		WithDrainTimeout(2 * time.Second),
	}, opts...)...)
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect to NATS: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return client
}
