//go:build integration

package natssink

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/paramstream/engine"
	"github.com/c360/paramstream/natsclient"
)

func TestIntegration_CoreAndJetStream(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := make(chan []byte, 1)
	require.NoError(t, tc.Client.Subscribe(ctx, "paramstream.events.>", func(_ context.Context, data []byte) {
		received <- data
	}))

	sink, err := New(DefaultConfig(), tc.Client, nil)
	require.NoError(t, err)
	require.NoError(t, sink.Start(ctx))
	require.NoError(t, sink.Publish(ctx, testEvent("CORE")))

	select {
	case data := <-received:
		var ev engine.EmittedEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		assert.Equal(t, "CORE", ev.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("event not received")
	}

	cfg := DefaultConfig()
	cfg.JetStream = true
	jsSink, err := New(cfg, tc.Client, nil)
	require.NoError(t, err)
	require.NoError(t, jsSink.Start(ctx))
	require.NoError(t, jsSink.Publish(ctx, testEvent("DURABLE")))

	js, err := tc.Client.JetStream()
	require.NoError(t, err)
	stream, err := js.Stream(ctx, cfg.Stream)
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs)
}
