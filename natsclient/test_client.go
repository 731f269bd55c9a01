package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testImage          = "nats:2.11.7-alpine"
	testClientPort     = "4222/tcp"
	testMonitorPort    = "8222/tcp"
	testStartupTimeout = 30 * time.Second
	testConnectTimeout = 5 * time.Second
)

// TestClient is a connected Client backed by a throwaway NATS container.
// Used by the integration tests of this package and of output/natssink.
type TestClient struct {
	Client *Client
	URL    string
}

// TestOption configures NewTestClient
type TestOption func(*[]string)

// WithJetStream starts the server with JetStream enabled
func WithJetStream() TestOption {
	return func(args *[]string) { *args = append(*args, "--js") }
}

// NewTestClient starts a NATS container and connects a Client to it. The
// client is closed and the container removed when the test ends.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()
	ctx := context.Background()

	args := []string{"--port", "4222", "--http_port", "8222"}
	for _, opt := range opts {
		opt(&args)
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        testImage,
			ExposedPorts: []string{testClientPort, testMonitorPort},
			Cmd:          args,
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(testClientPort),
				wait.ForHTTP("/healthz").WithPort(testMonitorPort),
			).WithDeadline(testStartupTimeout),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start NATS container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := containerURL(ctx, container)
	if err != nil {
		t.Fatalf("resolve NATS endpoint: %v", err)
	}

	client, err := NewClient(url, WithName(t.Name()), WithTimeout(testConnectTimeout), WithMaxReconnects(0))
	if err != nil {
		t.Fatalf("create NATS client: %v", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, testConnectTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		t.Fatalf("connect to NATS at %s: %v", url, err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	return &TestClient{Client: client, URL: url}
}

func containerURL(ctx context.Context, container testcontainers.Container) (string, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}
	port, err := container.MappedPort(ctx, testClientPort)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("nats://%s:%s", host, port.Port()), nil
}
