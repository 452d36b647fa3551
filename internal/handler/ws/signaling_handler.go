package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"linguaconnect-signaling/internal/protocol"
	"linguaconnect-signaling/internal/registry"
	"linguaconnect-signaling/internal/session"
	"linguaconnect-signaling/pkg/constants"
	"linguaconnect-signaling/pkg/jwt"
	"linguaconnect-signaling/pkg/logger"
	"linguaconnect-signaling/pkg/metrics"
	"linguaconnect-signaling/pkg/response"
)

// PresenceSnapshotter resolves which of a user's friends are online, for the
// snapshot sent right after join
type PresenceSnapshotter interface {
	OnlineFriends(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// PresenceRefresher keeps the external presence mirror alive while users are
// connected
type PresenceRefresher interface {
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
}

// Options configures the signaling hub
type Options struct {
	MaxConnections int
	AllowedOrigins []string
}

// Hub is the protocol-facing front door: it owns the physical connections,
// validates inbound frames, dispatches them to the registry and the session
// manager, and routes outbound events to the right connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client // connID -> client

	registry *registry.Registry
	sessions *session.Manager
	snapshot PresenceSnapshotter

	jwtManager *jwt.JWTManager
	metrics    *metrics.Metrics

	upgrader websocket.Upgrader

	// Concurrency limit for WebSocket connections
	maxConnections int
	semaphore      chan struct{}
}

// NewHub creates the signaling hub
func NewHub(reg *registry.Registry, sessions *session.Manager, snapshot PresenceSnapshotter, jwtManager *jwt.JWTManager, m *metrics.Metrics, opts Options) *Hub {
	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = 1000
	}

	allowed := make(map[string]bool, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		allowed[origin] = true
	}

	return &Hub{
		clients:        make(map[uuid.UUID]*Client),
		registry:       reg,
		sessions:       sessions,
		snapshot:       snapshot,
		jwtManager:     jwtManager,
		metrics:        m,
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Reject empty origins - require explicit origin for security
					return false
				}
				return allowed[origin]
			},
		},
	}
}

// ServeWS handles WebSocket upgrade requests for signaling
func (h *Hub) ServeWS(c *gin.Context) {
	// Acquire semaphore to limit concurrent connections; released when the
	// connection is removed, not when this handler returns.
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		response.ServiceUnavailable(c, "Server at capacity, please try again later")
		return
	}

	acquired := true
	defer func() {
		if acquired {
			<-h.semaphore
		}
	}()

	// The auth service mints the token; a verified user id rides in as the
	// subject. Browsers cannot set headers on WebSocket upgrades, so the
	// token arrives as a query parameter with a header fallback.
	authID := uuid.Nil
	if h.jwtManager != nil {
		token := c.Query("token")
		if token == "" {
			if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
				token = strings.TrimPrefix(header, "Bearer ")
			}
		}
		if token == "" {
			response.Unauthorized(c, "Missing access token")
			return
		}
		claims, err := h.jwtManager.ValidateToken(token)
		if err != nil {
			logger.Warn("WebSocket auth failed", zap.Error(err))
			response.Unauthorized(c, "Invalid access token")
			return
		}
		authID = claims.UserID
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, constants.SendBufferSize),
		connID: uuid.New(),
		authID: authID,
	}

	h.mu.Lock()
	h.clients[client.connID] = client
	h.mu.Unlock()

	h.metrics.IncrementWebSocketConnections()
	acquired = false // released by removeClient

	go client.writePump()
	go client.readPump()
}

// SendToUser delivers an event to every live connection of a user. Delivery
// is fire-and-forget: a full buffer drops the frame for that connection only.
func (h *Hub) SendToUser(userID uuid.UUID, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		logger.Error("failed to encode outbound event",
			zap.String("event", event), zap.Error(err))
		return
	}

	conns := h.registry.ConnectionsFor(userID)
	if len(conns) == 0 {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, connID := range conns {
		client, ok := h.clients[connID]
		if !ok {
			continue
		}
		select {
		case client.send <- frame:
			h.metrics.RecordWebSocketMessage(event, "outbound")
		default:
			// Slow consumer; the ping deadline will reap it.
			h.metrics.RecordWebSocketError("send_buffer_full")
			logger.Warn("dropping outbound event, send buffer full",
				zap.String("event", event),
				zap.String("user_id", userID.String()),
				zap.String("connection_id", connID.String()))
		}
	}
}

// removeClient tears a connection down: registry cleanup (which drives
// presence and call termination), table removal, semaphore release
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, known := h.clients[c.connID]
	delete(h.clients, c.connID)
	h.mu.Unlock()

	if !known {
		return
	}

	h.registry.Unregister(context.Background(), c.connID)

	c.closeOnce.Do(func() { close(c.send) })
	h.metrics.DecrementWebSocketConnections()
	<-h.semaphore
}

// StartPresenceHeartbeat periodically refreshes the presence mirror entry of
// every joined user so mirror entries outlive their TTL while users stay
// connected
func (h *Hub) StartPresenceHeartbeat(ctx context.Context, refresher PresenceRefresher, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, userID := range h.joinedUsers() {
					if err := refresher.RefreshPresence(ctx, userID); err != nil {
						logger.Debug("presence refresh failed",
							zap.String("user_id", userID.String()), zap.Error(err))
					}
				}
			}
		}
	}()
}

// Shutdown closes every live connection; used during graceful shutdown
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.conn.Close()
	}
}

func (h *Hub) joinedUsers() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{}, len(h.clients))
	users := make([]uuid.UUID, 0, len(h.clients))
	for _, c := range h.clients {
		if !c.joined {
			continue
		}
		if _, dup := seen[c.userID]; dup {
			continue
		}
		seen[c.userID] = struct{}{}
		users = append(users, c.userID)
	}
	return users
}
