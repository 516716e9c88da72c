package session

import (
	"errors"
	"fmt"
	"time"
)

// State is the session lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateReconnecting
	StateExhausted // Terminal until an explicit Connect
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Errors
var (
	// ErrNotReady rejects requests issued while the session is not Ready.
	ErrNotReady = errors.New("session not ready")

	// ErrShutdown rejects operations after Shutdown.
	ErrShutdown = errors.New("session shut down")

	// ErrExhausted is the fatal condition after the reconnect attempt budget
	// runs out. Cleared only by an explicit Connect.
	ErrExhausted = errors.New("reconnect attempts exhausted")
)

// AuthError reports rejected credentials or an invalidated account session.
// Retried like a transport failure but surfaced distinctly to callers.
type AuthError struct {
	Code        string
	Description string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected: %s: %s", e.Code, e.Description)
}

// ServerError reports a request the server answered with an error frame.
type ServerError struct {
	Code        string
	Description string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s: %s", e.Code, e.Description)
}

// Config configures a session.
type Config struct {
	ClientID     string // Application credentials
	ClientSecret string
	AccountID    int64  // Trading account id
	AccessToken  string // Account access token

	RequestTimeout    time.Duration // Deadline per correlated request
	HeartbeatInterval time.Duration // Client heartbeat cadence while connected
	ConnectTimeout    time.Duration // Deadline per dial+auth attempt
}

// DefaultConfig returns sensible defaults for the non-credential fields.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:    10 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		ConnectTimeout:    30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.RequestTimeout == 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
}
