package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evoacs/acs-server/internal/events"
	"github.com/evoacs/acs-server/internal/models"
	"github.com/evoacs/acs-server/internal/storage"
)

// testClock drives the manager's notion of time from the test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, timeout time.Duration) (*Manager, storage.Store, *testClock, *models.Device) {
	t.Helper()

	store := storage.NewMemoryStore()
	clock := &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}

	manager := NewManager(store, events.NewPublisher(nil), timeout, time.Minute)
	manager.now = clock.Now

	device := &models.Device{
		SerialNumber: "SN0001",
		OUI:          "00D09E",
		ProductClass: "IGD",
	}
	require.NoError(t, store.CreateDevice(context.Background(), device))

	return manager, store, clock, device
}

func TestGetOrCreateSessionCreatesActive(t *testing.T) {
	manager, _, clock, device := newTestManager(t, 30*time.Second)

	session, err := manager.GetOrCreateSession(context.Background(), device, "", "10.0.0.5")
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusActive, session.Status)
	assert.Equal(t, device.ID, session.DeviceID)
	assert.NotEmpty(t, session.Cookie)
	assert.Equal(t, 30, session.TimeoutSeconds)
	assert.Equal(t, clock.Now(), session.StartedAt)
}

func TestGetOrCreateSessionReusesByCookie(t *testing.T) {
	manager, _, clock, device := newTestManager(t, 30*time.Second)
	ctx := context.Background()

	first, err := manager.GetOrCreateSession(ctx, device, "", "10.0.0.5")
	require.NoError(t, err)

	clock.Advance(10 * time.Second)

	second, err := manager.GetOrCreateSession(ctx, device, first.Cookie, "10.0.0.5")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, clock.Now(), second.LastActivity)
}

func TestGetOrCreateSessionReusesLatestActive(t *testing.T) {
	manager, _, _, device := newTestManager(t, 30*time.Second)
	ctx := context.Background()

	first, err := manager.GetOrCreateSession(ctx, device, "", "10.0.0.5")
	require.NoError(t, err)

	// A contact without a cookie still lands on the live session.
	second, err := manager.GetOrCreateSession(ctx, device, "", "10.0.0.5")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestAtMostOneActiveSessionPerDevice(t *testing.T) {
	manager, store, _, device := newTestManager(t, 30*time.Second)
	ctx := context.Background()

	const workers = 32

	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session, err := manager.GetOrCreateSession(ctx, device, "", fmt.Sprintf("10.0.0.%d", i))
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = session.ID.String()
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Equal(t, ids[0], ids[i])
	}

	counts, err := store.CountSessionsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.SessionStatusActive])
}

func TestTimedOutSessionIsNeverResurrected(t *testing.T) {
	manager, store, clock, device := newTestManager(t, 30*time.Second)
	ctx := context.Background()

	first, err := manager.GetOrCreateSession(ctx, device, "", "10.0.0.5")
	require.NoError(t, err)

	clock.Advance(31 * time.Second)

	// The same cookie after the timeout yields a new session.
	second, err := manager.GetOrCreateSession(ctx, device, first.Cookie, "10.0.0.5")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	stored, err := store.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusTimeout, stored.Status)
	require.NotNil(t, stored.EndedAt)

	// Late activity against the dead session is rejected.
	touched, err := manager.Touch(ctx, first)
	require.NoError(t, err)
	assert.False(t, touched)
}

func TestTimeoutBoundaryIsExclusive(t *testing.T) {
	manager, _, clock, device := newTestManager(t, 30*time.Second)
	ctx := context.Background()

	first, err := manager.GetOrCreateSession(ctx, device, "", "10.0.0.5")
	require.NoError(t, err)

	// At exactly the timeout the session is already expired.
	clock.Advance(30 * time.Second)

	second, err := manager.GetOrCreateSession(ctx, device, first.Cookie, "10.0.0.5")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSessionCommandFIFO(t *testing.T) {
	manager, _, _, device := newTestManager(t, 30*time.Second)
	ctx := context.Background()

	session, err := manager.GetOrCreateSession(ctx, device, "", "10.0.0.5")
	require.NoError(t, err)

	types := []models.CommandType{
		models.CommandTypeGetParameters,
		models.CommandTypeSetParameters,
		models.CommandTypeReboot,
	}
	for _, ct := range types {
		require.NoError(t, manager.QueueCommand(ctx, session, ct, nil, nil))
	}

	for _, want := range types {
		cmd, err := manager.NextCommand(ctx, session)
		require.NoError(t, err)
		require.NotNil(t, cmd)
		assert.Equal(t, want, cmd.Type)
	}

	// Exhausted queue signals end of session.
	cmd, err := manager.NextCommand(ctx, session)
	require.NoError(t, err)
	assert.Nil(t, cmd)
}

func TestQueueCommandRejectsUnknownType(t *testing.T) {
	manager, _, _, device := newTestManager(t, 30*time.Second)
	ctx := context.Background()

	session, err := manager.GetOrCreateSession(ctx, device, "", "10.0.0.5")
	require.NoError(t, err)

	err = manager.QueueCommand(ctx, session, models.CommandType("EXPLODE"), nil, nil)
	assert.Error(t, err)
}

func TestNextMessageIDMonotonic(t *testing.T) {
	manager, _, _, device := newTestManager(t, 30*time.Second)
	ctx := context.Background()

	session, err := manager.GetOrCreateSession(ctx, device, "", "10.0.0.5")
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		id, err := manager.NextMessageID(ctx, session)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
}

func TestCloseSessionIdempotent(t *testing.T) {
	manager, store, _, device := newTestManager(t, 30*time.Second)
	ctx := context.Background()

	session, err := manager.GetOrCreateSession(ctx, device, "", "10.0.0.5")
	require.NoError(t, err)

	require.NoError(t, manager.CloseSession(ctx, session.ID, models.SessionStatusClosed))
	require.NoError(t, manager.CloseSession(ctx, session.ID, models.SessionStatusClosed))

	stored, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusClosed, stored.Status)

	// A non-terminal status is not a close.
	err = manager.CloseSession(ctx, session.ID, models.SessionStatusActive)
	assert.Error(t, err)
}

func TestCleanupTimedOutSessions(t *testing.T) {
	manager, store, clock, device := newTestManager(t, 30*time.Second)
	ctx := context.Background()

	other := &models.Device{SerialNumber: "SN0002", OUI: "00D09E", ProductClass: "IGD"}
	require.NoError(t, store.CreateDevice(ctx, other))

	_, err := manager.GetOrCreateSession(ctx, device, "", "10.0.0.5")
	require.NoError(t, err)
	_, err = manager.GetOrCreateSession(ctx, other, "", "10.0.0.6")
	require.NoError(t, err)

	clock.Advance(time.Minute)

	closed, err := manager.CleanupTimedOutSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), closed)

	stats, err := manager.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats[models.SessionStatusActive])
	assert.Equal(t, int64(2), stats[models.SessionStatusTimeout])
}
