// Package transport provides the raw bidirectional channel to the broker.
// It knows nothing about payloads: frames go out as bytes, frames come in as
// bytes. The session manager is the only writer.
package transport

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no traffic)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// Message wraps raw frame bytes with a receive timestamp.
type Message struct {
	Data       []byte
	ReceivedAt time.Time
}

// Transport is a single connection to the broker endpoint.
//
// The connection is assumed to deliver each frame at most once and in order
// only within its own lifetime; nothing is guaranteed across reconnects.
type Transport interface {
	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// Close tears the connection down. Safe to call more than once.
	Close() error

	// Send writes one frame to the connection.
	Send(data []byte) error

	// Messages returns the channel of inbound frames.
	Messages() <-chan Message

	// Errors returns the channel of connection failures. A transport that
	// reported an error is dead; the caller must dial a fresh one.
	Errors() <-chan error

	// IsConnected reports the current connection state.
	IsConnected() bool
}

// Config configures a connection.
type Config struct {
	URL          string        // Endpoint (e.g. wss://demo.ctraderapi.com:5036)
	StaleTimeout time.Duration // Max silence before the connection is torn down
	WriteTimeout time.Duration // Write deadline per frame
	BufferSize   int           // Inbound message channel buffer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		StaleTimeout: 60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// Dialer produces a fresh Transport for each connection attempt. The session
// manager dials a new transport on every reconnect.
type Dialer func() Transport
