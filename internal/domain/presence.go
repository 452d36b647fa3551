package domain

import (
	"time"

	"github.com/google/uuid"
)

// Connection is one live transport session between a client and the gateway.
// A user may hold several connections at once (multi-device).
type Connection struct {
	ConnectionID  uuid.UUID `json:"connection_id"`
	UserID        uuid.UUID `json:"user_id"`
	EstablishedAt time.Time `json:"established_at"`
}

// Presence status values mirrored to other platform services
const (
	UserStatusOnline  = "online"
	UserStatusOffline = "offline"
)
