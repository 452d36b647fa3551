package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// presenceRecorder captures online/offline transitions; registry delivers
// them on separate goroutines, so assertions use Eventually
type presenceRecorder struct {
	mu      sync.Mutex
	online  []uuid.UUID
	offline []uuid.UUID
}

func (r *presenceRecorder) UserOnline(ctx context.Context, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = append(r.online, userID)
}

func (r *presenceRecorder) UserOffline(ctx context.Context, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = append(r.offline, userID)
}

func (r *presenceRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.online), len(r.offline)
}

type callRecorder struct {
	mu           sync.Mutex
	disconnected []uuid.UUID
}

func (r *callRecorder) HandleDisconnect(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, userID)
}

func (r *callRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.disconnected)
}

func newTestRegistry() (*Registry, *presenceRecorder, *callRecorder) {
	reg := New(nil)
	pr := &presenceRecorder{}
	cr := &callRecorder{}
	reg.SetPresenceListener(pr)
	reg.SetCallListener(cr)
	return reg, pr, cr
}

func TestRegisterFirstConnectionSignalsOnline(t *testing.T) {
	reg, pr, _ := newTestRegistry()
	userID := uuid.New()
	connID := uuid.New()

	reg.Register(context.Background(), userID, connID)

	assert.True(t, reg.IsOnline(userID))
	assert.Equal(t, []uuid.UUID{connID}, reg.ConnectionsFor(userID))
	assert.Eventually(t, func() bool {
		on, _ := pr.counts()
		return on == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRegisterIdempotent(t *testing.T) {
	reg, pr, _ := newTestRegistry()
	userID := uuid.New()
	connID := uuid.New()

	reg.Register(context.Background(), userID, connID)
	reg.Register(context.Background(), userID, connID)

	assert.Len(t, reg.ConnectionsFor(userID), 1)
	assert.Eventually(t, func() bool {
		on, _ := pr.counts()
		return on == 1
	}, time.Second, 5*time.Millisecond)

	// Give a second notification a chance to land before asserting it didn't
	time.Sleep(20 * time.Millisecond)
	on, _ := pr.counts()
	assert.Equal(t, 1, on)
}

func TestMultiDevicePresence(t *testing.T) {
	reg, pr, cr := newTestRegistry()
	userID := uuid.New()
	connA := uuid.New()
	connB := uuid.New()

	reg.Register(context.Background(), userID, connA)
	reg.Register(context.Background(), userID, connB)
	assert.Len(t, reg.ConnectionsFor(userID), 2)

	// Losing one device keeps the user online
	reg.Unregister(context.Background(), connA)
	assert.True(t, reg.IsOnline(userID))
	assert.Equal(t, 0, cr.count())

	// Losing the last one takes the user offline and reports the disconnect
	reg.Unregister(context.Background(), connB)
	assert.False(t, reg.IsOnline(userID))
	assert.Equal(t, 1, cr.count())
	assert.Eventually(t, func() bool {
		_, off := pr.counts()
		return off == 1
	}, time.Second, 5*time.Millisecond)
}

func TestUnregisterUnknownIsNoOp(t *testing.T) {
	reg, pr, cr := newTestRegistry()

	reg.Unregister(context.Background(), uuid.New())

	time.Sleep(20 * time.Millisecond)
	_, off := pr.counts()
	assert.Equal(t, 0, off)
	assert.Equal(t, 0, cr.count())
}

func TestDuplicateDisconnectIsHarmless(t *testing.T) {
	reg, _, cr := newTestRegistry()
	userID := uuid.New()
	connID := uuid.New()

	reg.Register(context.Background(), userID, connID)
	reg.Unregister(context.Background(), connID)
	reg.Unregister(context.Background(), connID)

	assert.False(t, reg.IsOnline(userID))
	assert.Equal(t, 1, cr.count())
}

func TestConnectionsForOfflineUser(t *testing.T) {
	reg, _, _ := newTestRegistry()

	conns := reg.ConnectionsFor(uuid.New())

	require.NotNil(t, conns)
	assert.Empty(t, conns)
}

func TestOnlineIffConnectionCountPositive(t *testing.T) {
	reg, _, _ := newTestRegistry()
	userID := uuid.New()

	conns := make([]uuid.UUID, 5)
	for i := range conns {
		conns[i] = uuid.New()
		reg.Register(context.Background(), userID, conns[i])
		assert.True(t, reg.IsOnline(userID))
		assert.Len(t, reg.ConnectionsFor(userID), i+1)
	}
	for i, connID := range conns {
		reg.Unregister(context.Background(), connID)
		remaining := len(conns) - i - 1
		assert.Equal(t, remaining > 0, reg.IsOnline(userID))
		assert.Len(t, reg.ConnectionsFor(userID), remaining)
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	reg, _, _ := newTestRegistry()

	const users = 8
	const connsPerUser = 20

	userIDs := make([]uuid.UUID, users)
	for i := range userIDs {
		userIDs[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for _, userID := range userIDs {
		for j := 0; j < connsPerUser; j++ {
			wg.Add(1)
			go func(u uuid.UUID) {
				defer wg.Done()
				connID := uuid.New()
				reg.Register(context.Background(), u, connID)
				reg.Unregister(context.Background(), connID)
			}(userID)
		}
	}
	wg.Wait()

	for _, userID := range userIDs {
		assert.False(t, reg.IsOnline(userID))
		assert.Empty(t, reg.ConnectionsFor(userID))
	}
	assert.Equal(t, 0, reg.OnlineCount())
}
