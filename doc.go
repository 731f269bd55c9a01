// Package paramstream aggregates live telemetry parameters into derived events.
//
// A telemetry host publishes parameter readings over two WebSocket feeds.
// paramstream subscribes to the configured parameter groups on both, merges
// the samples into one stream, evaluates a catalog of event definitions
// against it and publishes every emitted event to the enabled outputs. A
// definition may also write its result back to the feed as a parameter.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│   Telemetry host (primary, second)  │  WPUSHG subscribe,
//	│         WebSocket feeds             │  WSP parameter writes
//	└─────────────────────────────────────┘
//	           ↓ samples
//	┌─────────────────────────────────────┐
//	│   channel → ingest                  │  Reconnect with retry,
//	│   (decode, merge, fan out)          │  bounded queues
//	└─────────────────────────────────────┘
//	           ↓ merged stream
//	┌─────────────────────────────────────┐
//	│   engine                            │  Per-definition lanes,
//	│   (gather, calculate, emit)         │  state, write-back
//	└─────────────────────────────────────┘
//	           ↓ emitted events
//	┌─────────────────────────────────────┐
//	│   outputs                           │  file, httppost,
//	│   (sink worker pool)                │  websocket, nats
//	└─────────────────────────────────────┘
//
// The catalog package loads definitions from YAML, JSON or TOML files and
// keeps the engine in line with them while the files change.
//
// # Packages
//
// Protocol:
//   - envelope: feed wire format, subscribe and write requests
//   - channel: one reconnecting WebSocket feed
//   - ingest: both feeds merged into one stream with fan-out
//
// Evaluation:
//   - engine: definitions, per-definition state, evaluation rounds
//   - catalog: declarative definitions with hot reload
//
// Outputs:
//   - output/file, output/httppost, output/websocket, output/natssink
//
// Infrastructure:
//   - config: layered JSON configuration with environment overrides
//   - errors: classified errors (transient, invalid, fatal)
//   - health, metric: health aggregation and Prometheus metrics
//   - natsclient: NATS connection with circuit breaker and JetStream
//   - pkg/buffer, pkg/retry, pkg/worker, pkg/timestamp, pkg/tlsutil
//
// # Binary
//
//	go build -o bin/paramstream ./cmd/paramstream
//
//	# validate config and definitions without connecting
//	./bin/paramstream --config configs/base.json --validate
//
//	# run with a site overlay
//	./bin/paramstream --config configs/base.json --config /etc/paramstream/site.json
package paramstream
