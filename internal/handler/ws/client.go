package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"linguaconnect-signaling/internal/domain"
	"linguaconnect-signaling/internal/protocol"
	"linguaconnect-signaling/pkg/constants"
	apperrors "linguaconnect-signaling/pkg/errors"
	"linguaconnect-signaling/pkg/logger"
)

// Client represents one WebSocket connection to the signaling gateway
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	connID uuid.UUID
	authID uuid.UUID // verified identity from the access token; Nil when auth is disabled

	// Bound at join time; guarded by hub.mu
	userID uuid.UUID
	joined bool

	closeOnce sync.Once
}

// readPump reads frames from the WebSocket and dispatches them
func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(constants.MaxSignalMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("connection_id", c.connID.String()),
					zap.Error(err))
			}
			break
		}

		c.handleMessage(message)
	}
}

// writePump writes frames to the WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage validates and dispatches one inbound frame. A panic in a
// handler is contained to this frame; the connection and other sessions
// keep working.
func (c *Client) handleMessage(raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			c.hub.metrics.RecordWebSocketError("handler_panic")
			logger.Error("recovered from signaling handler panic",
				zap.String("connection_id", c.connID.String()),
				zap.Any("panic", rec))
		}
	}()

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.dropInvalid("malformed envelope", err)
		return
	}

	c.hub.metrics.RecordWebSocketMessage(env.Event, "inbound")

	switch env.Event {
	case protocol.EventUserJoin:
		c.handleJoin(env.Data)
	case protocol.EventCallInitiate:
		c.handleInitiate(env.Data)
	case protocol.EventCallAccept:
		c.handleAccept(env.Data)
	case protocol.EventCallDecline:
		c.handleDecline(env.Data)
	case protocol.EventCallEnd:
		c.handleEnd(env.Data)
	default:
		c.dropInvalid("unknown event "+env.Event, nil)
	}
}

func (c *Client) handleJoin(data json.RawMessage) {
	var payload protocol.JoinPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.dropInvalid("malformed user:join payload", err)
		return
	}

	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		c.dropInvalid("user:join with invalid userId", err)
		return
	}

	// The id presented at join must match the verified token identity.
	if c.authID != uuid.Nil && userID != c.authID {
		c.hub.metrics.RecordWebSocketError("identity_mismatch")
		logger.Warn("user:join identity mismatch",
			zap.String("connection_id", c.connID.String()),
			zap.String("token_user_id", c.authID.String()),
			zap.String("join_user_id", userID.String()))
		c.sendError(apperrors.UnauthorizedError("Join user id does not match token identity"))
		return
	}

	c.hub.mu.Lock()
	alreadyJoined := c.joined
	if !alreadyJoined {
		c.userID = userID
		c.joined = true
	}
	c.hub.mu.Unlock()
	if alreadyJoined {
		return
	}

	c.hub.registry.Register(context.Background(), userID, c.connID)

	logger.Info("user joined",
		zap.String("user_id", userID.String()),
		zap.String("connection_id", c.connID.String()))

	c.sendPresenceSnapshot(userID)
}

// sendPresenceSnapshot tells a fresh connection which friends are online
func (c *Client) sendPresenceSnapshot(userID uuid.UUID) {
	if c.hub.snapshot == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	online, err := c.hub.snapshot.OnlineFriends(ctx, userID)
	if err != nil {
		logger.Warn("presence snapshot unavailable",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}

	ids := make([]string, 0, len(online))
	for _, id := range online {
		ids = append(ids, id.String())
	}
	c.enqueue(protocol.EventPresenceState, protocol.PresenceStatePayload{Online: ids})
}

func (c *Client) handleInitiate(data json.RawMessage) {
	if !c.requireJoined() {
		return
	}

	var payload protocol.InitiatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.dropInvalid("malformed call:initiate payload", err)
		return
	}

	callerID, err := uuid.Parse(payload.CallerID)
	if err != nil || callerID != c.userID {
		c.dropInvalid("call:initiate callerId does not match connection", err)
		return
	}
	receiverID, err := uuid.Parse(payload.ReceiverID)
	if err != nil {
		c.dropInvalid("call:initiate with invalid receiverId", err)
		return
	}
	callType := domain.CallType(payload.CallType)
	if !callType.IsValid() {
		c.dropInvalid("call:initiate with invalid callType "+payload.CallType, nil)
		return
	}
	if payload.SessionID == "" {
		c.dropInvalid("call:initiate without sessionId", nil)
		return
	}

	err = c.hub.sessions.Initiate(callerID, receiverID, payload.CallerName, payload.CallerAvatar, callType, payload.SessionID)
	switch {
	case err == nil:
	case apperrors.IsCode(err, apperrors.ErrCodeReceiverOffline),
		apperrors.IsCode(err, apperrors.ErrCodeReceiverBusy):
		// The manager already resolved these with a call:status to the caller.
	default:
		c.sendError(apperrors.GetAppError(err))
	}
}

func (c *Client) handleAccept(data json.RawMessage) {
	if !c.requireJoined() {
		return
	}

	var payload protocol.AcceptPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.dropInvalid("malformed call:accept payload", err)
		return
	}

	receiverID, err := uuid.Parse(payload.ReceiverID)
	if err != nil || receiverID != c.userID {
		c.dropInvalid("call:accept receiverId does not match connection", err)
		return
	}
	callerID, err := uuid.Parse(payload.CallerID)
	if err != nil {
		c.dropInvalid("call:accept with invalid callerId", err)
		return
	}
	if payload.SessionID == "" {
		c.dropInvalid("call:accept without sessionId", nil)
		return
	}

	if err := c.hub.sessions.Accept(receiverID, callerID, payload.SessionID); err != nil {
		c.sendError(apperrors.GetAppError(err))
	}
}

func (c *Client) handleDecline(data json.RawMessage) {
	if !c.requireJoined() {
		return
	}

	var payload protocol.DeclinePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.dropInvalid("malformed call:decline payload", err)
		return
	}

	receiverID, err := uuid.Parse(payload.ReceiverID)
	if err != nil || receiverID != c.userID {
		c.dropInvalid("call:decline receiverId does not match connection", err)
		return
	}
	callerID, err := uuid.Parse(payload.CallerID)
	if err != nil {
		c.dropInvalid("call:decline with invalid callerId", err)
		return
	}

	if err := c.hub.sessions.Decline(receiverID, callerID); err != nil {
		c.sendError(apperrors.GetAppError(err))
	}
}

func (c *Client) handleEnd(data json.RawMessage) {
	if !c.requireJoined() {
		return
	}

	var payload protocol.EndPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.dropInvalid("malformed call:end payload", err)
		return
	}

	// Either side may hang up; the connection identity picks the session.
	if payload.CallerID != c.userID.String() && payload.ReceiverID != c.userID.String() {
		c.dropInvalid("call:end from a non-party connection", nil)
		return
	}

	// Idempotent: unknown or already-terminal sessions are a no-op.
	c.hub.sessions.End(c.userID)
}

// requireJoined drops events that arrive before user:join bound an identity
func (c *Client) requireJoined() bool {
	c.hub.mu.RLock()
	joined := c.joined
	c.hub.mu.RUnlock()
	if !joined {
		c.dropInvalid("event before user:join", nil)
	}
	return joined
}

// dropInvalid logs a validation failure and drops the frame; the connection
// stays open and nothing propagates to other clients
func (c *Client) dropInvalid(reason string, err error) {
	c.hub.metrics.RecordWebSocketError("validation")
	logger.Warn("dropping invalid signaling frame",
		zap.String("connection_id", c.connID.String()),
		zap.String("reason", reason),
		zap.Error(err))
}

// sendError delivers a rejection to this connection only
func (c *Client) sendError(appErr *apperrors.AppError) {
	c.enqueue(protocol.EventError, protocol.ErrorPayload{
		Code:    string(appErr.Code),
		Message: appErr.Message,
	})
}

// enqueue sends a frame to this connection, dropping it if the buffer is full
func (c *Client) enqueue(event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		logger.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case c.send <- frame:
		c.hub.metrics.RecordWebSocketMessage(event, "outbound")
	default:
		c.hub.metrics.RecordWebSocketError("send_buffer_full")
	}
}
