// Package server implements the HTTP and WebSocket side of the chat relay.
//
// The Relay owns all chat state and applies connection and command events
// one at a time from a single goroutine. Each WebSocket connection is a
// Client with its own read and write pumps; the relay only ever enqueues
// frames onto a client's buffered send channel and never performs network
// I/O itself. Configuration, origin policy, rate limiting, routing and the
// HTTP server helpers live alongside.
package server
