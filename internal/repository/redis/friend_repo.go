package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"linguaconnect-signaling/internal/database"
)

// FriendGraphRepository reads the friend sets the platform's social service
// maintains in Redis. It backs interest-set resolution for presence fan-out.
type FriendGraphRepository struct {
	client *database.RedisClient
}

// NewFriendGraphRepository creates a new FriendGraphRepository
func NewFriendGraphRepository(client *database.RedisClient) *FriendGraphRepository {
	return &FriendGraphRepository{client: client}
}

// InterestedPeersOf returns the users that should learn about a presence
// transition of userID
func (r *FriendGraphRepository) InterestedPeersOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	if r.client.IsDegraded() {
		return nil, fmt.Errorf("redis degraded, friend graph unavailable")
	}

	key := fmt.Sprintf("friends:%s", userID)
	members, err := r.client.Client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read friend set: %w", err)
	}

	peers := make([]uuid.UUID, 0, len(members))
	for _, idStr := range members {
		peerID, err := uuid.Parse(idStr)
		if err != nil {
			continue // Skip invalid UUIDs
		}
		peers = append(peers, peerID)
	}

	return peers, nil
}
