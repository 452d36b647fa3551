package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"linguaconnect-signaling/internal/database"
	"linguaconnect-signaling/internal/domain"
)

// presenceChannel carries presence transitions to any service that subscribes
const presenceChannel = "presence:events"

// PresenceRepository mirrors the in-memory online set into Redis so other
// platform services can read user presence without asking the gateway
type PresenceRepository struct {
	client *database.RedisClient
	ttl    time.Duration
}

// NewPresenceRepository creates a new PresenceRepository. ttl bounds how long
// a mirror entry survives without a refresh, so a crashed gateway instance
// cannot leave users online forever.
func NewPresenceRepository(client *database.RedisClient, ttl time.Duration) *PresenceRepository {
	return &PresenceRepository{client: client, ttl: ttl}
}

// presenceEvent is the pub/sub message shape
type presenceEvent struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// SetUserOnline marks user as online in the mirror and publishes the transition
func (r *PresenceRepository) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	if r.client.IsDegraded() {
		return fmt.Errorf("redis degraded, presence mirror skipped")
	}

	key := fmt.Sprintf("presence:%s", userID)
	if err := r.client.Client.Set(ctx, key, domain.UserStatusOnline, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	if err := r.client.Client.SAdd(ctx, "presence:online", userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}

	r.publish(ctx, userID, domain.UserStatusOnline)
	return nil
}

// SetUserOffline removes the user from the mirror and publishes the transition
func (r *PresenceRepository) SetUserOffline(ctx context.Context, userID uuid.UUID) error {
	if r.client.IsDegraded() {
		return fmt.Errorf("redis degraded, presence mirror skipped")
	}

	key := fmt.Sprintf("presence:%s", userID)
	if err := r.client.Client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	if err := r.client.Client.SRem(ctx, "presence:online", userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}

	r.publish(ctx, userID, domain.UserStatusOffline)
	return nil
}

// RefreshPresence keeps a user's mirror entry alive (heartbeat)
func (r *PresenceRepository) RefreshPresence(ctx context.Context, userID uuid.UUID) error {
	if r.client.IsDegraded() {
		return fmt.Errorf("redis degraded, presence refresh skipped")
	}

	key := fmt.Sprintf("presence:%s", userID)
	if err := r.client.Client.Expire(ctx, key, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// GetOnlineUsers retrieves the mirrored list of online user IDs
func (r *PresenceRepository) GetOnlineUsers(ctx context.Context) ([]uuid.UUID, error) {
	userIDStrs, err := r.client.Client.SMembers(ctx, "presence:online").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}

	userIDs := make([]uuid.UUID, 0, len(userIDStrs))
	for _, idStr := range userIDStrs {
		userID, err := uuid.Parse(idStr)
		if err != nil {
			continue // Skip invalid UUIDs
		}
		userIDs = append(userIDs, userID)
	}

	return userIDs, nil
}

// GetOnlineCount returns the mirrored number of online users
func (r *PresenceRepository) GetOnlineCount(ctx context.Context) (int64, error) {
	count, err := r.client.Client.SCard(ctx, "presence:online").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count online users: %w", err)
	}
	return count, nil
}

// publish is best-effort; subscribers that miss an event recover from the keys
func (r *PresenceRepository) publish(ctx context.Context, userID uuid.UUID, status string) {
	payload, err := json.Marshal(presenceEvent{UserID: userID.String(), Status: status})
	if err != nil {
		return
	}
	r.client.Client.Publish(ctx, presenceChannel, payload)
}
