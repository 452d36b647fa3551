package ws

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linguaconnect-signaling/internal/protocol"
	"linguaconnect-signaling/internal/registry"
	"linguaconnect-signaling/internal/session"
	apperrors "linguaconnect-signaling/pkg/errors"
)

// newTestHub wires a hub to a real registry and session manager, with auth
// disabled and no presence snapshot. Frames are pushed straight through
// handleMessage; no sockets are involved.
func newTestHub(t *testing.T) (*Hub, *registry.Registry, *session.Manager) {
	t.Helper()

	reg := registry.New(nil)
	sessions := session.NewManager(nil, reg, time.Minute, nil)
	hub := NewHub(reg, sessions, nil, nil, nil, Options{MaxConnections: 16})
	sessions.SetSink(hub)
	reg.SetCallListener(sessions)
	return hub, reg, sessions
}

// newTestClient registers a fake connection with the hub the way ServeWS
// would, minus the socket
func newTestClient(hub *Hub) *Client {
	c := &Client{
		hub:    hub,
		send:   make(chan []byte, 16),
		connID: uuid.New(),
	}
	hub.semaphore <- struct{}{}
	hub.mu.Lock()
	hub.clients[c.connID] = c
	hub.mu.Unlock()
	return c
}

func frame(t *testing.T, event string, payload any) []byte {
	t.Helper()
	raw, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	return raw
}

func join(t *testing.T, c *Client, userID uuid.UUID) {
	t.Helper()
	c.handleMessage(frame(t, protocol.EventUserJoin, protocol.JoinPayload{UserID: userID.String()}))
}

// drain decodes every frame currently queued on the client's send buffer
func drain(t *testing.T, c *Client) []protocol.Envelope {
	t.Helper()
	var out []protocol.Envelope
	for {
		select {
		case raw := <-c.send:
			var env protocol.Envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func eventNames(envs []protocol.Envelope) []string {
	names := make([]string, 0, len(envs))
	for _, e := range envs {
		names = append(names, e.Event)
	}
	return names
}

func TestJoinBindsIdentity(t *testing.T) {
	hub, reg, _ := newTestHub(t)
	c := newTestClient(hub)
	userID := uuid.New()

	join(t, c, userID)

	assert.True(t, reg.IsOnline(userID))
	assert.Equal(t, []uuid.UUID{c.connID}, reg.ConnectionsFor(userID))
}

func TestJoinRejectsIdentityMismatch(t *testing.T) {
	hub, reg, _ := newTestHub(t)
	c := newTestClient(hub)
	c.authID = uuid.New()
	other := uuid.New()

	join(t, c, other)

	assert.False(t, reg.IsOnline(other))
	envs := drain(t, c)
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.EventError, envs[0].Event)

	var errPayload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(envs[0].Data, &errPayload))
	assert.Equal(t, string(apperrors.ErrCodeUnauthorized), errPayload.Code)
}

func TestEventsBeforeJoinAreDropped(t *testing.T) {
	hub, _, sessions := newTestHub(t)
	c := newTestClient(hub)

	c.handleMessage(frame(t, protocol.EventCallInitiate, protocol.InitiatePayload{
		CallerID:   uuid.New().String(),
		ReceiverID: uuid.New().String(),
		CallType:   "audio",
		SessionID:  "sess-1",
	}))

	assert.Equal(t, 0, sessions.LiveSessions())
	assert.Empty(t, drain(t, c))
}

func TestMalformedFrameIsDropped(t *testing.T) {
	hub, _, _ := newTestHub(t)
	c := newTestClient(hub)
	join(t, c, uuid.New())

	c.handleMessage([]byte(`{not json`))
	c.handleMessage([]byte(`{"event":"call:initiate","data":"not-an-object"}`))
	c.handleMessage(frame(t, "no:such:event", struct{}{}))

	assert.Empty(t, drain(t, c))
}

func TestInitiateToOfflineReceiver(t *testing.T) {
	hub, _, sessions := newTestHub(t)
	c := newTestClient(hub)
	callerID := uuid.New()
	join(t, c, callerID)

	receiverID := uuid.New()
	c.handleMessage(frame(t, protocol.EventCallInitiate, protocol.InitiatePayload{
		CallerID:   callerID.String(),
		ReceiverID: receiverID.String(),
		CallerName: "Alice",
		CallType:   "video",
		SessionID:  "sess-1",
	}))

	envs := drain(t, c)
	require.Equal(t, []string{protocol.EventCallStatus}, eventNames(envs))

	var status protocol.StatusPayload
	require.NoError(t, json.Unmarshal(envs[0].Data, &status))
	assert.Equal(t, protocol.CallStatusOffline, status.Status)
	assert.Equal(t, receiverID.String(), status.ReceiverID)
	assert.Equal(t, 0, sessions.LiveSessions())
}

func TestInitiateSpoofedCallerID(t *testing.T) {
	hub, _, sessions := newTestHub(t)
	caller := newTestClient(hub)
	victim := newTestClient(hub)
	callerID := uuid.New()
	victimID := uuid.New()
	join(t, caller, callerID)
	join(t, victim, victimID)

	// Claiming someone else's id as the caller is dropped outright
	caller.handleMessage(frame(t, protocol.EventCallInitiate, protocol.InitiatePayload{
		CallerID:   victimID.String(),
		ReceiverID: callerID.String(),
		CallType:   "audio",
		SessionID:  "sess-1",
	}))

	assert.Equal(t, 0, sessions.LiveSessions())
	assert.Empty(t, drain(t, caller))
	assert.Empty(t, drain(t, victim))
}

func TestCallFlowAcceptHappyPath(t *testing.T) {
	hub, _, _ := newTestHub(t)
	caller := newTestClient(hub)
	receiver := newTestClient(hub)
	callerID := uuid.New()
	receiverID := uuid.New()
	join(t, caller, callerID)
	join(t, receiver, receiverID)

	caller.handleMessage(frame(t, protocol.EventCallInitiate, protocol.InitiatePayload{
		CallerID:     callerID.String(),
		ReceiverID:   receiverID.String(),
		CallerName:   "Alice",
		CallerAvatar: "a.png",
		CallType:     "video",
		SessionID:    "sess-1",
	}))

	recvEnvs := drain(t, receiver)
	require.Equal(t, []string{protocol.EventCallIncoming}, eventNames(recvEnvs))
	var incoming protocol.IncomingPayload
	require.NoError(t, json.Unmarshal(recvEnvs[0].Data, &incoming))
	assert.Equal(t, callerID.String(), incoming.CallerID)
	assert.Equal(t, "Alice", incoming.CallerName)
	assert.Equal(t, "sess-1", incoming.SessionID)

	callerEnvs := drain(t, caller)
	require.Equal(t, []string{protocol.EventCallStatus}, eventNames(callerEnvs))
	var status protocol.StatusPayload
	require.NoError(t, json.Unmarshal(callerEnvs[0].Data, &status))
	assert.Equal(t, protocol.CallStatusRinging, status.Status)

	receiver.handleMessage(frame(t, protocol.EventCallAccept, protocol.AcceptPayload{
		CallerID:   callerID.String(),
		ReceiverID: receiverID.String(),
		SessionID:  "sess-1",
	}))

	assert.Equal(t, []string{protocol.EventCallAccepted, protocol.EventCallStart},
		eventNames(drain(t, caller)))
	assert.Equal(t, []string{protocol.EventCallStart},
		eventNames(drain(t, receiver)))
}

func TestDeclineWithoutSessionGetsErrorFrame(t *testing.T) {
	hub, _, _ := newTestHub(t)
	c := newTestClient(hub)
	userID := uuid.New()
	join(t, c, userID)

	c.handleMessage(frame(t, protocol.EventCallDecline, protocol.DeclinePayload{
		CallerID:   uuid.New().String(),
		ReceiverID: userID.String(),
	}))

	envs := drain(t, c)
	require.Equal(t, []string{protocol.EventError}, eventNames(envs))

	var errPayload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(envs[0].Data, &errPayload))
	assert.Equal(t, string(apperrors.ErrCodeStaleState), errPayload.Code)
}

func TestEndIsIdempotentAtTheProtocol(t *testing.T) {
	hub, _, sessions := newTestHub(t)
	caller := newTestClient(hub)
	receiver := newTestClient(hub)
	callerID := uuid.New()
	receiverID := uuid.New()
	join(t, caller, callerID)
	join(t, receiver, receiverID)

	caller.handleMessage(frame(t, protocol.EventCallInitiate, protocol.InitiatePayload{
		CallerID:   callerID.String(),
		ReceiverID: receiverID.String(),
		CallType:   "audio",
		SessionID:  "sess-1",
	}))
	receiver.handleMessage(frame(t, protocol.EventCallAccept, protocol.AcceptPayload{
		CallerID:   callerID.String(),
		ReceiverID: receiverID.String(),
		SessionID:  "sess-1",
	}))
	drain(t, caller)
	drain(t, receiver)

	end := protocol.EndPayload{CallerID: callerID.String(), ReceiverID: receiverID.String()}
	caller.handleMessage(frame(t, protocol.EventCallEnd, end))
	caller.handleMessage(frame(t, protocol.EventCallEnd, end))
	receiver.handleMessage(frame(t, protocol.EventCallEnd, end))

	assert.Equal(t, []string{protocol.EventCallEnded}, eventNames(drain(t, caller)))
	assert.Equal(t, []string{protocol.EventCallEnded}, eventNames(drain(t, receiver)))
	assert.Equal(t, 0, sessions.LiveSessions())
}

func TestMultiDeviceFanOut(t *testing.T) {
	hub, _, _ := newTestHub(t)
	callerClient := newTestClient(hub)
	phone := newTestClient(hub)
	laptop := newTestClient(hub)
	callerID := uuid.New()
	receiverID := uuid.New()
	join(t, callerClient, callerID)
	join(t, phone, receiverID)
	join(t, laptop, receiverID)

	callerClient.handleMessage(frame(t, protocol.EventCallInitiate, protocol.InitiatePayload{
		CallerID:   callerID.String(),
		ReceiverID: receiverID.String(),
		CallType:   "audio",
		SessionID:  "sess-1",
	}))

	// Every device of the receiver rings
	assert.Equal(t, []string{protocol.EventCallIncoming}, eventNames(drain(t, phone)))
	assert.Equal(t, []string{protocol.EventCallIncoming}, eventNames(drain(t, laptop)))
}

func TestHandlerPanicIsContained(t *testing.T) {
	hub, _, _ := newTestHub(t)
	c := newTestClient(hub)

	assert.NotPanics(t, func() {
		// An envelope whose data triggers a decode of a nil message
		c.handleMessage([]byte(`{"event":"user:join"}`))
	})
}

func TestSendToUserUnknownUserIsNoOp(t *testing.T) {
	hub, _, _ := newTestHub(t)

	assert.NotPanics(t, func() {
		hub.SendToUser(uuid.New(), protocol.EventCallStatus, protocol.StatusPayload{
			Status: protocol.CallStatusOffline,
		})
	})
}

func TestSendToUserDropsOnFullBuffer(t *testing.T) {
	hub, _, _ := newTestHub(t)
	c := newTestClient(hub)
	userID := uuid.New()
	join(t, c, userID)

	for i := 0; i < cap(c.send)+10; i++ {
		hub.SendToUser(userID, protocol.EventUserOnline, protocol.PresencePayload{
			UserID: fmt.Sprintf("peer-%d", i),
		})
	}

	// The buffer capped out; nothing blocked or panicked
	assert.Len(t, drain(t, c), cap(c.send))
}
