// Package presence turns registry transitions into user:online/user:offline
// notifications for the peers that care about them.
package presence

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"linguaconnect-signaling/internal/protocol"
	"linguaconnect-signaling/pkg/logger"
)

// FriendGraph resolves the interest set of a presence transition: the users
// that should learn about it. Lives in the platform's social service; reached
// through Redis here.
type FriendGraph interface {
	InterestedPeersOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// Mirror keeps an externally readable copy of the online set so sibling
// services can answer "who is online" without talking to the gateway
type Mirror interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
}

// EventSink delivers a presence event to every live connection of a user
type EventSink interface {
	SendToUser(userID uuid.UUID, event string, payload any)
}

// PresenceSource answers whether a user currently has live connections
type PresenceSource interface {
	IsOnline(userID uuid.UUID) bool
}

// Broadcaster fans presence transitions out to interested peers. All of its
// work is best-effort: a dead friend graph or mirror degrades to no broadcast
// and never blocks connection handling.
type Broadcaster struct {
	friends  FriendGraph
	mirror   Mirror
	sink     EventSink
	presence PresenceSource
}

// NewBroadcaster creates a presence broadcaster. mirror may be nil when no
// external presence copy is wanted; sink may be nil at construction and
// wired later with SetSink.
func NewBroadcaster(friends FriendGraph, mirror Mirror, sink EventSink, presence PresenceSource) *Broadcaster {
	return &Broadcaster{
		friends:  friends,
		mirror:   mirror,
		sink:     sink,
		presence: presence,
	}
}

// SetSink wires the outbound event sink; must be called before serving
func (b *Broadcaster) SetSink(sink EventSink) {
	b.sink = sink
}

// UserOnline handles a user gaining their first connection
func (b *Broadcaster) UserOnline(ctx context.Context, userID uuid.UUID) {
	if b.mirror != nil {
		if err := b.mirror.SetUserOnline(ctx, userID); err != nil {
			logger.Warn("presence mirror update failed",
				zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	b.broadcast(ctx, userID, protocol.EventUserOnline)
}

// UserOffline handles a user losing their last connection
func (b *Broadcaster) UserOffline(ctx context.Context, userID uuid.UUID) {
	if b.mirror != nil {
		if err := b.mirror.SetUserOffline(ctx, userID); err != nil {
			logger.Warn("presence mirror update failed",
				zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	b.broadcast(ctx, userID, protocol.EventUserOffline)
}

// OnlineFriends returns which members of the user's interest set currently
// have live connections. Used for the presence snapshot at join time.
func (b *Broadcaster) OnlineFriends(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	peers, err := b.friends.InterestedPeersOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	online := make([]uuid.UUID, 0, len(peers))
	for _, peer := range peers {
		if b.presence.IsOnline(peer) {
			online = append(online, peer)
		}
	}
	return online, nil
}

func (b *Broadcaster) broadcast(ctx context.Context, userID uuid.UUID, event string) {
	peers, err := b.friends.InterestedPeersOf(ctx, userID)
	if err != nil {
		// Degrade to no broadcast; registration already succeeded.
		logger.Warn("interest set resolution failed, skipping presence broadcast",
			zap.String("user_id", userID.String()),
			zap.String("event", event),
			zap.Error(err))
		return
	}

	payload := protocol.PresencePayload{UserID: userID.String()}
	for _, peer := range peers {
		b.sink.SendToUser(peer, event, payload)
	}

	logger.Debug("presence broadcast",
		zap.String("user_id", userID.String()),
		zap.String("event", event),
		zap.Int("peers", len(peers)))
}
