// Package channel maintains one resilient websocket subscription to the telemetry feed.
//
// # Overview
//
// A Channel owns a single connection to one feed path (for example
// ws://host/VPCA). On every (re)connection it first sends the group
// subscribe request, then flushes any queued outbound payloads in the order
// they were sent, then decodes inbound frames into envelope.Sample values.
//
// # State Machine
//
//	Disconnected ──► Connecting ──► Subscribed ──► Streaming
//	      ▲               │              │              │
//	      └───────────────┴──────────────┴──────────────┘   (failure)
//
//	any state ──► Terminated   (retry budget exhausted, or Stop)
//
// Terminated is final: the sample stream is closed, Done is closed and Send
// returns ErrChannelClosed.
//
// # Reconnection
//
// Each connect phase gets MaxRetries+1 attempts with a fixed RetryDelay
// between them. A successful subscribe ends the phase; a later drop starts a
// new phase with a full budget after waiting RetryDelay. When a phase runs out
// of attempts the channel logs a warning, increments
// paramstream_channel_retry_exhausted_total and terminates; Err then wraps
// errors.ErrMaxRetriesExceeded.
//
// # Outbound Queue
//
// Send never touches the socket. Payloads are held in a bounded FIFO
// (pkg/buffer) and written by the connection's writer goroutine. A payload is
// removed only after its write succeeded, so a failed write stays at the head
// and is retried first on the next connection.
//
// # Transport
//
// The socket is abstracted behind Dialer and Conn. WebsocketDialer, the
// default, uses gorilla/websocket with text frames; tests may inject a fake.
//
// # Usage
//
//	ch, err := channel.New(channel.DefaultConfig("primary", "ws://feed/VPCA", "G1"),
//	    channel.WithLogger(logger),
//	    channel.WithMetrics(registry))
//	if err != nil {
//	    return err
//	}
//	if err := ch.Start(ctx); err != nil {
//	    return err
//	}
//	defer ch.Stop(5 * time.Second)
//
//	for sample := range ch.Samples() {
//	    fmt.Println(sample.Label, sample.Value)
//	}
//	if err := ch.Err(); err != nil {
//	    logger.Warn("channel gave up", "error", err)
//	}
package channel
