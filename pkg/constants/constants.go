// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteWait is the deadline for a single WebSocket write
	WebSocketWriteWait = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Signaling constants
const (
	// DefaultRingTimeout is how long a call may ring before it is resolved as missed
	DefaultRingTimeout = 45 * time.Second

	// MaxSignalMessageSize is the maximum accepted inbound WebSocket frame in bytes
	MaxSignalMessageSize = 4 * 1024

	// SendBufferSize is the per-connection outbound message buffer
	SendBufferSize = 256
)

// Presence constants
const (
	// PresenceTTL is how long a presence mirror entry lives without a refresh
	PresenceTTL = 5 * time.Minute

	// PresenceRefreshInterval is the heartbeat period for the presence mirror
	PresenceRefreshInterval = 1 * time.Minute
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute
)
