// Package registry tracks live connections per user. It is the source of
// truth for "is this user online, and through which connections".
package registry

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"linguaconnect-signaling/internal/domain"
	"linguaconnect-signaling/pkg/logger"
	"linguaconnect-signaling/pkg/metrics"
)

// PresenceListener is notified when a user gains their first connection or
// loses their last one
type PresenceListener interface {
	UserOnline(ctx context.Context, userID uuid.UUID)
	UserOffline(ctx context.Context, userID uuid.UUID)
}

// CallListener is notified when a user's last connection is gone so a live
// call involving that user can be terminated
type CallListener interface {
	HandleDisconnect(userID uuid.UUID)
}

const shardCount = 32

// shard guards the presence entries for a slice of the user-id space, so
// register/unregister for the same user never race while distinct users
// proceed in parallel
type shard struct {
	mu    sync.RWMutex
	users map[uuid.UUID]map[uuid.UUID]*domain.Connection // userID -> connID -> connection
}

// Registry is the concurrency-safe connection table
type Registry struct {
	shards [shardCount]*shard

	indexMu   sync.RWMutex
	connOwner map[uuid.UUID]uuid.UUID // connID -> userID

	presenceListener PresenceListener
	callListener     CallListener

	metrics *metrics.Metrics
}

// New creates an empty registry
func New(m *metrics.Metrics) *Registry {
	r := &Registry{
		connOwner: make(map[uuid.UUID]uuid.UUID),
		metrics:   m,
	}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[uuid.UUID]map[uuid.UUID]*domain.Connection)}
	}
	return r
}

// SetPresenceListener wires the presence broadcaster; must be called before serving
func (r *Registry) SetPresenceListener(l PresenceListener) {
	r.presenceListener = l
}

// SetCallListener wires the call session manager; must be called before serving
func (r *Registry) SetCallListener(l CallListener) {
	r.callListener = l
}

func (r *Registry) shardFor(userID uuid.UUID) *shard {
	h := fnv.New32a()
	h.Write(userID[:])
	return r.shards[h.Sum32()%shardCount]
}

// Register adds a connection for the user. Registering the same connection id
// twice is idempotent. If this is the user's first connection the presence
// listener is told the user became online.
func (r *Registry) Register(ctx context.Context, userID, connID uuid.UUID) {
	s := r.shardFor(userID)

	s.mu.Lock()
	conns := s.users[userID]
	if conns == nil {
		conns = make(map[uuid.UUID]*domain.Connection)
		s.users[userID] = conns
	}
	if _, dup := conns[connID]; dup {
		s.mu.Unlock()
		return
	}
	conns[connID] = &domain.Connection{
		ConnectionID:  connID,
		UserID:        userID,
		EstablishedAt: time.Now(),
	}
	becameOnline := len(conns) == 1
	s.mu.Unlock()

	r.indexMu.Lock()
	r.connOwner[connID] = userID
	r.indexMu.Unlock()

	logger.Debug("connection registered",
		zap.String("user_id", userID.String()),
		zap.String("connection_id", connID.String()))

	if becameOnline {
		r.metrics.IncrementOnlineUsers()
		if r.presenceListener != nil {
			// Fan-out is best-effort and must never block registration.
			go r.presenceListener.UserOnline(ctx, userID)
		}
	}
}

// Unregister removes a connection. Unknown ids are a no-op, which makes
// duplicate disconnect events harmless. When the user's last connection goes,
// the presence listener and the call listener are both told.
func (r *Registry) Unregister(ctx context.Context, connID uuid.UUID) {
	r.indexMu.Lock()
	userID, ok := r.connOwner[connID]
	if ok {
		delete(r.connOwner, connID)
	}
	r.indexMu.Unlock()
	if !ok {
		return
	}

	s := r.shardFor(userID)

	s.mu.Lock()
	conns := s.users[userID]
	if conns == nil {
		s.mu.Unlock()
		return
	}
	delete(conns, connID)
	becameOffline := len(conns) == 0
	if becameOffline {
		delete(s.users, userID)
	}
	s.mu.Unlock()

	logger.Debug("connection unregistered",
		zap.String("user_id", userID.String()),
		zap.String("connection_id", connID.String()))

	if becameOffline {
		r.metrics.DecrementOnlineUsers()
		// Terminate any live call before peers learn the user went offline.
		if r.callListener != nil {
			r.callListener.HandleDisconnect(userID)
		}
		if r.presenceListener != nil {
			go r.presenceListener.UserOffline(ctx, userID)
		}
	}
}

// ConnectionsFor returns the live connection ids of a user. Offline users
// yield an empty slice, not an error.
func (r *Registry) ConnectionsFor(userID uuid.UUID) []uuid.UUID {
	s := r.shardFor(userID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := s.users[userID]
	out := make([]uuid.UUID, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}

// IsOnline reports whether the user has at least one live connection
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	s := r.shardFor(userID)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID]) > 0
}

// OnlineCount returns the number of users with at least one live connection
func (r *Registry) OnlineCount() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		total += len(s.users)
		s.mu.RUnlock()
	}
	return total
}
