// Package natsclient manages the NATS connection used to publish emitted
// events.
//
// The client wraps nats.go with a circuit breaker: after a run of failed
// connects or JetStream operations (default 5) the circuit opens and calls
// fail fast with ErrCircuitOpen until the backoff elapses. The backoff doubles
// each time the circuit opens, up to WithMaxBackoff, and resets after a
// success. Once connected, reconnection is left to nats.go.
//
// Status moves through Disconnected → Connecting → Connected, with
// Reconnecting while nats.go recovers a dropped connection.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("paramstream"),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	// core NATS, fire and forget
//	err = client.Publish(ctx, "paramstream.events.SHOCK_EVENT", data)
//
//	// JetStream, acknowledged
//	_, err = client.EnsureStream(ctx, jetstream.StreamConfig{
//	    Name:     "PARAMSTREAM_EVENTS",
//	    Subjects: []string{"paramstream.events.>"},
//	})
//	err = client.PublishToStream(ctx, "paramstream.events.SHOCK_EVENT", data)
//
// # Testing
//
// NewTestClient starts a NATS server in a container with testcontainers-go
// and returns a connected Client. Tests that use it carry the integration
// build tag.
package natsclient
