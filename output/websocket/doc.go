// Package websocket provides an engine sink that broadcasts emitted events
// to WebSocket clients.
//
// Clients connect to the configured path (default /events) and receive one
// text message per event:
//
//	{"type":"event","id":"...","timestamp":1700000000000,
//	 "payload":{"id":"...","name":"SHOCK_EVENT","value":42.5,"timestamp":1700000000000}}
//
// A client can narrow the stream with a query parameter, for example
// /events?names=SHOCK_EVENT,SPEED_SUM. Clients that cannot accept a write
// within WriteTimeout are disconnected. The server pings clients every
// PingInterval and drops those that stop answering.
//
// The sink can run its own listener (Start/Stop, optional TLS) or be mounted
// on an existing server through Handler.
package websocket
