// Package session owns the call state machine: every in-flight call session,
// the legal transitions between states, and the ringing deadline.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"linguaconnect-signaling/internal/domain"
	"linguaconnect-signaling/internal/protocol"
	apperrors "linguaconnect-signaling/pkg/errors"
	"linguaconnect-signaling/pkg/logger"
	"linguaconnect-signaling/pkg/metrics"
)

// EventSink delivers an outbound event to every live connection of a user.
// Delivery is best-effort; a failed send must not fail the state transition.
type EventSink interface {
	SendToUser(userID uuid.UUID, event string, payload any)
}

// PresenceSource answers whether a user currently has live connections
type PresenceSource interface {
	IsOnline(userID uuid.UUID) bool
}

// session pairs the domain state with its serialization lock and ring timer
type session struct {
	mu    sync.Mutex
	state domain.CallSession
	timer *time.Timer
}

// Manager tracks every live call session and serializes racing events per
// session: concurrent accept/decline/timeout take the session lock in turn,
// the first one wins and the losers observe a stale state.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	byUser   map[uuid.UUID]string // party (caller or receiver) -> live session id

	sink        EventSink
	presence    PresenceSource
	ringTimeout time.Duration
	metrics     *metrics.Metrics
}

// NewManager creates a session manager. ringTimeout bounds how long a call
// may stay in the ringing state. sink may be nil at construction and wired
// later with SetSink; the gateway and the manager reference each other.
func NewManager(sink EventSink, presence PresenceSource, ringTimeout time.Duration, m *metrics.Metrics) *Manager {
	return &Manager{
		sessions:    make(map[string]*session),
		byUser:      make(map[uuid.UUID]string),
		sink:        sink,
		presence:    presence,
		ringTimeout: ringTimeout,
		metrics:     m,
	}
}

// SetSink wires the outbound event sink; must be called before serving
func (m *Manager) SetSink(sink EventSink) {
	m.sink = sink
}

// Initiate starts a call attempt. On success the receiver's connections ring
// and the caller gets a ringing status. An offline receiver resolves to a
// call:status{offline} with no session created.
func (m *Manager) Initiate(callerID, receiverID uuid.UUID, callerName, callerAvatar string, callType domain.CallType, sessionID string) error {
	m.mu.Lock()
	if _, busy := m.byUser[callerID]; busy {
		m.mu.Unlock()
		return apperrors.AlreadyInCallError()
	}
	if _, busy := m.byUser[receiverID]; busy {
		m.mu.Unlock()
		m.sink.SendToUser(callerID, protocol.EventCallStatus, protocol.StatusPayload{
			Status:     protocol.CallStatusBusy,
			ReceiverID: receiverID.String(),
		})
		return apperrors.ReceiverBusyError()
	}
	if _, dup := m.sessions[sessionID]; dup {
		m.mu.Unlock()
		return apperrors.DuplicateSessionError(sessionID)
	}
	if !m.presence.IsOnline(receiverID) {
		m.mu.Unlock()
		m.metrics.RecordCallRejected(string(callType), "offline")
		m.sink.SendToUser(callerID, protocol.EventCallStatus, protocol.StatusPayload{
			Status:     protocol.CallStatusOffline,
			ReceiverID: receiverID.String(),
		})
		return apperrors.ReceiverOfflineError()
	}

	s := &session{
		state: domain.CallSession{
			SessionID:    sessionID,
			CallerID:     callerID,
			ReceiverID:   receiverID,
			CallerName:   callerName,
			CallerAvatar: callerAvatar,
			CallType:     callType,
			State:        domain.CallStateRinging,
			CreatedAt:    time.Now(),
		},
	}
	// The fresh session's lock is taken before it becomes visible in the
	// tables, so holding m.mu while acquiring it cannot block. Everywhere
	// else the locks are taken session-first.
	s.mu.Lock()
	m.sessions[sessionID] = s
	m.byUser[callerID] = sessionID
	m.byUser[receiverID] = sessionID
	m.mu.Unlock()

	s.timer = time.AfterFunc(m.ringTimeout, func() { m.ringExpired(sessionID) })

	m.sink.SendToUser(receiverID, protocol.EventCallIncoming, protocol.IncomingPayload{
		CallerID:     callerID.String(),
		CallerName:   callerName,
		CallerAvatar: callerAvatar,
		CallType:     string(callType),
		SessionID:    sessionID,
	})
	m.sink.SendToUser(callerID, protocol.EventCallStatus, protocol.StatusPayload{
		Status:     protocol.CallStatusRinging,
		ReceiverID: receiverID.String(),
	})
	s.mu.Unlock()

	m.metrics.RecordCallInitiated(string(callType))
	logger.Info("call ringing",
		zap.String("session_id", sessionID),
		zap.String("caller_id", callerID.String()),
		zap.String("receiver_id", receiverID.String()),
		zap.String("call_type", string(callType)))

	return nil
}

// Accept answers a ringing call. The session moves through accepted straight
// to active and both parties receive call:start. Anything but a ringing
// session with matching ids is a stale state.
func (m *Manager) Accept(receiverID, callerID uuid.UUID, sessionID string) error {
	s := m.lookup(sessionID)
	if s == nil {
		return apperrors.StaleStateError(sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.State != domain.CallStateRinging ||
		s.state.CallerID != callerID || s.state.ReceiverID != receiverID {
		return apperrors.StaleStateError(sessionID)
	}

	s.timer.Stop()
	s.state.State = domain.CallStateAccepted

	m.sink.SendToUser(callerID, protocol.EventCallAccepted, protocol.AcceptedPayload{
		ReceiverID: receiverID.String(),
		SessionID:  sessionID,
	})

	s.state.State = domain.CallStateActive
	start := protocol.StartPayload{SessionID: sessionID}
	m.sink.SendToUser(callerID, protocol.EventCallStart, start)
	m.sink.SendToUser(receiverID, protocol.EventCallStart, start)

	m.metrics.RecordCallResolved(string(s.state.CallType), "accepted", time.Since(s.state.CreatedAt))
	logger.Info("call accepted", zap.String("session_id", sessionID))

	return nil
}

// Decline rejects a ringing call. The live session is resolved through the
// receiver's per-user index; a mismatched caller or a session past ringing is
// a stale state.
func (m *Manager) Decline(receiverID, callerID uuid.UUID) error {
	sessionID, s := m.lookupByUser(receiverID)
	if s == nil {
		return apperrors.StaleStateError("")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.State != domain.CallStateRinging ||
		s.state.CallerID != callerID || s.state.ReceiverID != receiverID {
		return apperrors.StaleStateError(sessionID)
	}

	s.timer.Stop()
	m.resolve(&s.state, domain.CallStateDeclined, receiverID, "")

	m.sink.SendToUser(callerID, protocol.EventCallDeclined, protocol.DeclinedPayload{
		ReceiverID: receiverID.String(),
	})

	m.metrics.RecordCallResolved(string(s.state.CallType), "declined", time.Since(s.state.CreatedAt))
	logger.Info("call declined", zap.String("session_id", sessionID))

	return nil
}

// End hangs up the initiator's live session. Valid while ringing (caller
// cancel), accepted, or active. Unknown or already-terminal sessions are a
// no-op so double hangups stay harmless.
func (m *Manager) End(initiatorID uuid.UUID) error {
	sessionID, s := m.lookupByUser(initiatorID)
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.State.IsTerminal() || !s.state.IsParty(initiatorID) {
		return nil
	}

	wasRinging := s.state.State == domain.CallStateRinging
	if wasRinging {
		s.timer.Stop()
	}
	m.resolve(&s.state, domain.CallStateEnded, initiatorID, domain.EndReasonHangup)

	ended := protocol.EndedPayload{EndedBy: initiatorID.String()}
	m.sink.SendToUser(s.state.CallerID, protocol.EventCallEnded, ended)
	m.sink.SendToUser(s.state.ReceiverID, protocol.EventCallEnded, ended)

	outcome := "hangup"
	if wasRinging {
		outcome = "cancelled"
	}
	m.metrics.RecordCallResolved(string(s.state.CallType), outcome, time.Since(s.state.CreatedAt))
	logger.Info("call ended",
		zap.String("session_id", sessionID),
		zap.String("ended_by", initiatorID.String()))

	return nil
}

// HandleDisconnect terminates the live session of a user whose last
// connection is gone and tells the remaining party
func (m *Manager) HandleDisconnect(userID uuid.UUID) {
	sessionID, s := m.lookupByUser(userID)
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.State.IsTerminal() || !s.state.IsParty(userID) {
		return
	}

	if s.state.State == domain.CallStateRinging {
		s.timer.Stop()
	}
	m.resolve(&s.state, domain.CallStateEnded, userID, domain.EndReasonPeerDisconnected)

	peer := s.state.OtherParty(userID)
	m.sink.SendToUser(peer, protocol.EventCallEnded, protocol.EndedPayload{
		EndedBy: userID.String(),
		Reason:  string(domain.EndReasonPeerDisconnected),
	})

	m.metrics.RecordCallResolved(string(s.state.CallType), "peer_disconnect", time.Since(s.state.CreatedAt))
	logger.Info("call ended by disconnect",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID.String()))
}

// ringExpired fires when the ringing deadline elapses. If an accept or
// decline won the session lock first this is a no-op.
func (m *Manager) ringExpired(sessionID string) {
	s := m.lookup(sessionID)
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.State != domain.CallStateRinging {
		return
	}

	m.resolve(&s.state, domain.CallStateEnded, uuid.Nil, domain.EndReasonTimeout)

	// The caller's UI resolves the same way as a decline; the receiver's
	// ringing UI is dismissed with the timeout reason.
	m.sink.SendToUser(s.state.CallerID, protocol.EventCallDeclined, protocol.DeclinedPayload{
		ReceiverID: s.state.ReceiverID.String(),
	})
	m.sink.SendToUser(s.state.ReceiverID, protocol.EventCallEnded, protocol.EndedPayload{
		Reason: string(domain.EndReasonTimeout),
	})

	m.metrics.RecordCallResolved(string(s.state.CallType), "timeout", time.Since(s.state.CreatedAt))
	logger.Info("call ring timeout", zap.String("session_id", sessionID))
}

// SessionFor returns a copy of the user's live session, if any
func (m *Manager) SessionFor(userID uuid.UUID) (domain.CallSession, bool) {
	_, s := m.lookupByUser(userID)
	if s == nil {
		return domain.CallSession{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, true
}

// LiveSessions returns the number of non-terminal sessions
func (m *Manager) LiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) lookup(sessionID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

func (m *Manager) lookupByUser(userID uuid.UUID) (string, *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessionID, ok := m.byUser[userID]
	if !ok {
		return "", nil
	}
	return sessionID, m.sessions[sessionID]
}

// resolve applies a terminal transition and drops the session from the live
// tables. Caller holds the session lock.
func (m *Manager) resolve(c *domain.CallSession, state domain.CallState, endedBy uuid.UUID, reason domain.EndReason) {
	now := time.Now()
	c.State = state
	c.ResolvedAt = &now
	c.EndedBy = endedBy
	c.EndReason = reason

	m.mu.Lock()
	delete(m.sessions, c.SessionID)
	if m.byUser[c.CallerID] == c.SessionID {
		delete(m.byUser, c.CallerID)
	}
	if m.byUser[c.ReceiverID] == c.SessionID {
		delete(m.byUser, c.ReceiverID)
	}
	m.mu.Unlock()
}
