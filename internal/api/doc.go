// Package api implements the HTTP and WebSocket surface of the Pi relay.
//
// This package provides:
//   - REST endpoints for LED commands, photo capture, device listing and the audit trail
//   - A WebSocket hub whose clients are the relay's bidirectional channels
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for deployments exposed beyond the local network
//
// # Architecture
//
// Devices and dashboards both connect to the WebSocket endpoint. Each
// connection is one channel: inbound event frames are handed to the relay
// router, and the router fans frames back out through the hub's clients.
// HTTP commands take the same path into the router, so a dashboard without a
// socket can still drive the LED.
//
// # Client metadata
//
// The client address recorded in the audit log is the first X-Forwarded-For
// hop, then X-Real-IP, then the TCP peer address.
package api
