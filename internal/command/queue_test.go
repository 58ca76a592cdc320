package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evoacs/acs-server/internal/connreq"
	"github.com/evoacs/acs-server/internal/events"
	"github.com/evoacs/acs-server/internal/models"
	"github.com/evoacs/acs-server/internal/session"
	"github.com/evoacs/acs-server/internal/storage"
)

// fakeDispatcher returns a scripted connection-request outcome
type fakeDispatcher struct {
	result *connreq.Result
	calls  int
}

func (f *fakeDispatcher) IsSupported(device *models.Device) bool {
	return device.ConnectionRequestURL != ""
}

func (f *fakeDispatcher) SendConnectionRequest(ctx context.Context, device *models.Device) *connreq.Result {
	f.calls++
	return f.result
}

func newTestQueue(t *testing.T, result *connreq.Result) (*Queue, storage.Store, *fakeDispatcher, *models.Device) {
	t.Helper()

	store := storage.NewMemoryStore()
	dispatcher := &fakeDispatcher{result: result}
	queue := NewQueue(store, dispatcher, events.NewPublisher(nil), 3, 0, 0)

	device := &models.Device{
		SerialNumber:         "SN0001",
		OUI:                  "00D09E",
		ProductClass:         "IGD",
		ConnectionRequestURL: "http://192.0.2.10:7547/cr",
	}
	require.NoError(t, store.CreateDevice(context.Background(), device))

	return queue, store, dispatcher, device
}

func TestSendDeliversWhenDeviceIsReachable(t *testing.T) {
	queue, store, _, device := newTestQueue(t, &connreq.Result{Success: true, HTTPStatus: 200})
	ctx := context.Background()

	result, err := queue.SendWithNATFallback(ctx, device, models.CommandTypeReboot, nil, 0)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.Queued)
	assert.Equal(t, "connection_request", result.Method)

	// Nothing was queued.
	pending, err := store.GetPendingCommands(ctx, device.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSendQueuesWhenDeviceIsBehindNAT(t *testing.T) {
	queue, store, _, device := newTestQueue(t, &connreq.Result{
		Success:   false,
		ErrorCode: connreq.CodeConnectionError,
		Message:   "connection refused",
	})
	ctx := context.Background()

	result, err := queue.SendWithNATFallback(ctx, device, models.CommandTypeSetParameters, models.Variables{"Device.WiFi.SSID.1.SSID": "HomeNet"}, 2)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.Queued)
	assert.Equal(t, "queue", result.Method)
	require.NotNil(t, result.Command)
	assert.Equal(t, 2, result.Command.Priority)

	pending, err := store.GetPendingCommands(ctx, device.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.CommandTypeSetParameters, pending[0].Type)
}

func TestSendQueuesWhenDeviceHasNoCallbackURL(t *testing.T) {
	queue, store, _, device := newTestQueue(t, &connreq.Result{
		Success:   false,
		ErrorCode: connreq.CodeMissingURL,
		Message:   "device has no connection request URL",
	})
	ctx := context.Background()

	result, err := queue.SendWithNATFallback(ctx, device, models.CommandTypeReboot, nil, 0)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.Queued)

	pending, err := store.GetPendingCommands(ctx, device.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSendFailsHardOnAuthError(t *testing.T) {
	queue, store, _, device := newTestQueue(t, &connreq.Result{
		Success:    false,
		ErrorCode:  connreq.CodeAuthFailed,
		HTTPStatus: 401,
		Message:    "device rejected credentials (HTTP 401)",
	})
	ctx := context.Background()

	result, err := queue.SendWithNATFallback(ctx, device, models.CommandTypeReboot, nil, 0)
	require.NoError(t, err)

	// Wrong credentials will not heal by waiting; nothing is queued.
	assert.False(t, result.Success)
	assert.False(t, result.Queued)

	pending, err := store.GetPendingCommands(ctx, device.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSendFailsHardOnHTTPError(t *testing.T) {
	queue, store, _, device := newTestQueue(t, &connreq.Result{
		Success:    false,
		ErrorCode:  connreq.CodeHTTPError,
		HTTPStatus: 403,
	})
	ctx := context.Background()

	result, err := queue.SendWithNATFallback(ctx, device, models.CommandTypeReboot, nil, 0)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.False(t, result.Queued)

	pending, err := store.GetPendingCommands(ctx, device.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPendingOrderedByPriorityThenAge(t *testing.T) {
	queue, _, _, device := newTestQueue(t, &connreq.Result{Success: true})
	ctx := context.Background()

	priorities := []int{5, 1, 10, 1}
	var ids []string
	for _, p := range priorities {
		cmd, err := queue.Enqueue(ctx, device.ID, models.CommandTypeGetParameters, nil, p, nil)
		require.NoError(t, err)
		ids = append(ids, cmd.ID.String())
		time.Sleep(time.Millisecond)
	}

	pending, err := queue.Pending(ctx, device.ID)
	require.NoError(t, err)
	require.Len(t, pending, 4)

	// Priority ascending, age breaking the tie between the two 1s.
	assert.Equal(t, ids[1], pending[0].ID.String())
	assert.Equal(t, ids[3], pending[1].ID.String())
	assert.Equal(t, ids[0], pending[2].ID.String())
	assert.Equal(t, ids[2], pending[3].ID.String())
}

func TestEnqueueClampsPriority(t *testing.T) {
	queue, _, _, device := newTestQueue(t, &connreq.Result{Success: true})
	ctx := context.Background()

	cmd, err := queue.Enqueue(ctx, device.ID, models.CommandTypeReboot, nil, 42, nil)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityDefault, cmd.Priority)

	cmd, err = queue.Enqueue(ctx, device.ID, models.CommandTypeReboot, nil, -3, nil)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityDefault, cmd.Priority)
}

func TestClaimDueIsExclusive(t *testing.T) {
	queue, _, _, device := newTestQueue(t, &connreq.Result{Success: true})
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, device.ID, models.CommandTypeReboot, nil, 1, nil)
	require.NoError(t, err)

	first, err := queue.ClaimDue(ctx, device.ID)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, models.CommandStatusProcessing, first[0].Status)

	// A second claimer finds nothing left.
	second, err := queue.ClaimDue(ctx, device.ID)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestCancelOnlyPendingCommands(t *testing.T) {
	queue, _, _, device := newTestQueue(t, &connreq.Result{Success: true})
	ctx := context.Background()

	cmd, err := queue.Enqueue(ctx, device.ID, models.CommandTypeReboot, nil, 1, nil)
	require.NoError(t, err)

	cancelled, err := queue.Cancel(ctx, cmd.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// Already cancelled; a second cancel is refused.
	cancelled, err = queue.Cancel(ctx, cmd.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	// A claimed command can no longer be cancelled.
	claimed, err := queue.Enqueue(ctx, device.ID, models.CommandTypeReboot, nil, 1, nil)
	require.NoError(t, err)
	_, err = queue.ClaimDue(ctx, device.ID)
	require.NoError(t, err)

	cancelled, err = queue.Cancel(ctx, claimed.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestRetryBoundedByMaxRetries(t *testing.T) {
	queue, store, _, device := newTestQueue(t, &connreq.Result{Success: true})
	ctx := context.Background()

	cmd, err := queue.Enqueue(ctx, device.ID, models.CommandTypeFirmwareUpdate, nil, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, cmd.MaxRetries)

	// Exhaust the retry budget.
	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := queue.ClaimDue(ctx, device.ID)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		require.NoError(t, queue.MarkFailed(ctx, claimed[0], "device did not call back"))

		stored, err := store.GetPendingCommand(ctx, cmd.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, stored.RetryCount)

		retried, err := queue.Retry(ctx, cmd.ID)
		require.NoError(t, err)
		if attempt < 3 {
			assert.True(t, retried, "attempt %d should be retryable", attempt)
		} else {
			assert.False(t, retried, "retry budget must be exhausted")
		}
	}

	stored, err := store.GetPendingCommand(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommandStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.RetryCount)
}

func TestStatistics(t *testing.T) {
	queue, _, _, device := newTestQueue(t, &connreq.Result{Success: true})
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, device.ID, models.CommandTypeReboot, nil, 1, nil)
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, device.ID, models.CommandTypeGetParameters, nil, 8, nil)
	require.NoError(t, err)
	cancelMe, err := queue.Enqueue(ctx, device.ID, models.CommandTypeDiagnostic, nil, 5, nil)
	require.NoError(t, err)

	_, err = queue.Cancel(ctx, cancelMe.ID)
	require.NoError(t, err)

	stats, err := queue.Statistics(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, int64(1), stats.Cancelled)
	assert.Equal(t, int64(1), stats.HighPriorityPending)
}

// TestQueuedCommandDrainsOnNextContact walks the full NAT fallback
// path: an unreachable device gets a queued reboot, then informs, and
// the command rides the resulting session.
func TestQueuedCommandDrainsOnNextContact(t *testing.T) {
	queue, store, dispatcher, device := newTestQueue(t, &connreq.Result{
		Success:   false,
		ErrorCode: connreq.CodeConnectionError,
		Message:   "connection timed out",
	})
	ctx := context.Background()

	// Operator sends a reboot; the device is asleep behind NAT.
	result, err := queue.SendWithNATFallback(ctx, device, models.CommandTypeReboot, nil, 1)
	require.NoError(t, err)
	require.True(t, result.Queued)
	assert.Equal(t, 1, dispatcher.calls)

	// The device informs later.
	sessions := session.NewManager(store, events.NewPublisher(nil), 30*time.Second, time.Minute)
	sess, err := sessions.GetOrCreateSession(ctx, device, "", "10.0.0.5")
	require.NoError(t, err)

	claimed, err := queue.ClaimDue(ctx, device.ID)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	for _, cmd := range claimed {
		require.NoError(t, sessions.QueueCommand(ctx, sess, cmd.Type, cmd.Parameters, cmd.TaskID))
		require.NoError(t, queue.MarkDelivered(ctx, cmd, sess.ID))
	}

	// The session hands the reboot to the device.
	next, err := sessions.NextCommand(ctx, sess)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, models.CommandTypeReboot, next.Type)

	next, err = sessions.NextCommand(ctx, sess)
	require.NoError(t, err)
	assert.Nil(t, next)

	// The pending command reached its terminal state.
	stored, err := store.GetPendingCommand(ctx, result.Command.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommandStatusCompleted, stored.Status)
	require.NotNil(t, stored.ExecutedAt)

	require.NoError(t, sessions.CloseSession(ctx, sess.ID, models.SessionStatusClosed))

	counts, err := sessions.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[models.SessionStatusActive])
	assert.Equal(t, int64(1), counts[models.SessionStatusClosed])
}
