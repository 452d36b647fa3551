package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallState is the lifecycle state of a call session
type CallState string

const (
	CallStateRinging  CallState = "ringing"
	CallStateAccepted CallState = "accepted"
	CallStateActive   CallState = "active"
	CallStateDeclined CallState = "declined"
	CallStateEnded    CallState = "ended"
)

// IsTerminal reports whether the state permits no further transitions
func (s CallState) IsTerminal() bool {
	return s == CallStateDeclined || s == CallStateEnded
}

// CallType distinguishes audio-only and video calls
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// IsValid reports whether the call type is one of the supported kinds
func (t CallType) IsValid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// EndReason records why a session reached a terminal state
type EndReason string

const (
	EndReasonHangup           EndReason = "hangup"
	EndReasonTimeout          EndReason = "timeout"
	EndReasonPeerDisconnected EndReason = "peer_disconnected"
)

// CallSession represents one call attempt from ring to a terminal state.
// SessionID doubles as the media channel id and is supplied by the caller.
type CallSession struct {
	SessionID    string     `json:"session_id"`
	CallerID     uuid.UUID  `json:"caller_id"`
	ReceiverID   uuid.UUID  `json:"receiver_id"`
	CallerName   string     `json:"caller_name,omitempty"`
	CallerAvatar string     `json:"caller_avatar,omitempty"`
	CallType     CallType   `json:"call_type"`
	State        CallState  `json:"state"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	EndedBy      uuid.UUID  `json:"ended_by,omitempty"`
	EndReason    EndReason  `json:"end_reason,omitempty"`
}

// OtherParty returns the peer of the given participant, or uuid.Nil
// if the user is not a party to the session
func (c *CallSession) OtherParty(userID uuid.UUID) uuid.UUID {
	switch userID {
	case c.CallerID:
		return c.ReceiverID
	case c.ReceiverID:
		return c.CallerID
	}
	return uuid.Nil
}

// IsParty reports whether the user is the caller or the receiver
func (c *CallSession) IsParty(userID uuid.UUID) bool {
	return userID == c.CallerID || userID == c.ReceiverID
}
