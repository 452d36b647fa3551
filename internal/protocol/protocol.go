// Package protocol defines the signaling wire vocabulary: the JSON envelope
// and the payloads exchanged between clients and the gateway.
package protocol

import "encoding/json"

// Inbound events (client -> server)
const (
	EventUserJoin     = "user:join"
	EventCallInitiate = "call:initiate"
	EventCallAccept   = "call:accept"
	EventCallDecline  = "call:decline"
	EventCallEnd      = "call:end"
)

// Outbound events (server -> client)
const (
	EventUserOnline    = "user:online"
	EventUserOffline   = "user:offline"
	EventPresenceState = "presence:state"
	EventCallIncoming  = "call:incoming"
	EventCallStatus    = "call:status"
	EventCallAccepted  = "call:accepted"
	EventCallStart     = "call:start"
	EventCallDeclined  = "call:declined"
	EventCallEnded     = "call:ended"
	EventError         = "error"
)

// Call status values carried by EventCallStatus
const (
	CallStatusRinging = "ringing"
	CallStatusOffline = "offline"
	CallStatusBusy    = "busy"
)

// Envelope wraps every frame on the wire
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound payloads

// JoinPayload binds a verified user id to the connection
type JoinPayload struct {
	UserID string `json:"userId"`
}

// InitiatePayload starts a call attempt toward a receiver
type InitiatePayload struct {
	CallerID     string `json:"callerId"`
	ReceiverID   string `json:"receiverId"`
	CallerName   string `json:"callerName"`
	CallerAvatar string `json:"callerAvatar"`
	CallType     string `json:"callType"`
	SessionID    string `json:"sessionId"`
}

// AcceptPayload answers a ringing call
type AcceptPayload struct {
	CallerID   string `json:"callerId"`
	ReceiverID string `json:"receiverId"`
	SessionID  string `json:"sessionId"`
}

// DeclinePayload rejects a ringing call. The session is resolved through the
// user pair; at most one live session exists per user.
type DeclinePayload struct {
	CallerID   string `json:"callerId"`
	ReceiverID string `json:"receiverId"`
}

// EndPayload hangs up a call, from either side
type EndPayload struct {
	CallerID   string `json:"callerId"`
	ReceiverID string `json:"receiverId"`
}

// Outbound payloads

// PresencePayload announces a user presence transition
type PresencePayload struct {
	UserID string `json:"userId"`
}

// PresenceStatePayload is the snapshot sent to a freshly joined connection
// listing which of the user's friends are currently online
type PresenceStatePayload struct {
	Online []string `json:"online"`
}

// IncomingPayload rings the receiver's connections
type IncomingPayload struct {
	CallerID     string `json:"callerId"`
	CallerName   string `json:"callerName"`
	CallerAvatar string `json:"callerAvatar"`
	CallType     string `json:"callType"`
	SessionID    string `json:"sessionId"`
}

// StatusPayload reports the initiate outcome to the caller
type StatusPayload struct {
	Status     string `json:"status"`
	ReceiverID string `json:"receiverId"`
}

// AcceptedPayload tells the caller the receiver picked up
type AcceptedPayload struct {
	ReceiverID string `json:"receiverId"`
	SessionID  string `json:"sessionId"`
}

// StartPayload hands the session over to the media layer on both sides
type StartPayload struct {
	SessionID string `json:"sessionId"`
}

// DeclinedPayload tells the caller the receiver rejected the call
type DeclinedPayload struct {
	ReceiverID string `json:"receiverId"`
}

// EndedPayload tells both parties the session reached a terminal state
type EndedPayload struct {
	EndedBy string `json:"endedBy"`
	Reason  string `json:"reason,omitempty"`
}

// ErrorPayload is sent to the offending connection only
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode marshals an event and its payload into a wire frame
func Encode(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
