package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog/log"

	"github.com/evoacs/acs-server/internal/events"
	"github.com/evoacs/acs-server/internal/models"
	"github.com/evoacs/acs-server/internal/storage"
	"github.com/evoacs/acs-server/pkg/crypto"
)

// DefaultTimeout is CWMP's inter-message session timeout
const DefaultTimeout = 30 * time.Second

// DefaultSweepInterval is how often timed-out sessions are reaped
const DefaultSweepInterval = 5 * time.Second

// Manager owns the CWMP session lifecycle: one authoritative session
// per device, FIFO command delivery inside it, and a periodic sweep
// that reaps sessions whose device never came back.
//
// The per-device lock serializes the lookup-check-act sequence inside
// this process; the store's conditional updates guard the same races
// across processes.
type Manager struct {
	store       storage.Store
	events      *events.Publisher
	deviceLocks cmap.ConcurrentMap[string, *sync.Mutex]

	timeout       time.Duration
	sweepInterval time.Duration

	now func() time.Time
}

// NewManager creates a session manager
func NewManager(store storage.Store, publisher *events.Publisher, timeout, sweepInterval time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	return &Manager{
		store:         store,
		events:        publisher,
		deviceLocks:   cmap.New[*sync.Mutex](),
		timeout:       timeout,
		sweepInterval: sweepInterval,
		now:           time.Now,
	}
}

func (m *Manager) lockDevice(deviceID uuid.UUID) *sync.Mutex {
	mu := m.deviceLocks.Upsert(deviceID.String(), &sync.Mutex{},
		func(exist bool, inMap, fresh *sync.Mutex) *sync.Mutex {
			if exist {
				return inMap
			}
			return fresh
		})
	mu.Lock()
	return mu
}

// GetOrCreateSession resolves the authoritative session for a device
// contact. A matching cookie wins; otherwise the most recently active
// session is reused. Timed-out sessions are closed, never resurrected.
func (m *Manager) GetOrCreateSession(ctx context.Context, device *models.Device, cookie, deviceIP string) (*models.Session, error) {
	mu := m.lockDevice(device.ID)
	defer mu.Unlock()

	now := m.now()

	if cookie != "" {
		session, err := m.store.GetActiveSessionByCookie(ctx, device.ID, cookie)
		if err != nil {
			return nil, fmt.Errorf("lookup session by cookie: %w", err)
		}
		if session != nil {
			if resolved, err := m.reuseOrExpire(ctx, session, now); err != nil || resolved != nil {
				return resolved, err
			}
		}
	}

	session, err := m.store.GetLatestActiveSession(ctx, device.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup latest session: %w", err)
	}
	if session != nil {
		if resolved, err := m.reuseOrExpire(ctx, session, now); err != nil || resolved != nil {
			return resolved, err
		}
	}

	return m.createSession(ctx, device, deviceIP, now)
}

// reuseOrExpire touches a live session or closes a timed-out one.
// Returns (nil, nil) when the caller should fall through.
func (m *Manager) reuseOrExpire(ctx context.Context, session *models.Session, now time.Time) (*models.Session, error) {
	if session.Expired(now) {
		if _, err := m.store.CloseSession(ctx, session.ID, models.SessionStatusTimeout, now); err != nil {
			return nil, fmt.Errorf("close timed-out session: %w", err)
		}
		m.events.SessionClosed(session, models.SessionStatusTimeout)
		return nil, nil
	}

	touched, err := m.store.TouchSession(ctx, session.ID, now)
	if err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	if !touched {
		// Lost a race with the sweep; fall through to a fresh session.
		return nil, nil
	}

	session.LastActivity = now
	return session, nil
}

func (m *Manager) createSession(ctx context.Context, device *models.Device, deviceIP string, now time.Time) (*models.Session, error) {
	cookie, err := crypto.GenerateRandomString(16)
	if err != nil {
		return nil, fmt.Errorf("generate session cookie: %w", err)
	}

	session := &models.Session{
		ID:             uuid.New(),
		DeviceID:       device.ID,
		Cookie:         cookie,
		Status:         models.SessionStatusActive,
		DeviceIP:       deviceIP,
		StartedAt:      now,
		LastActivity:   now,
		TimeoutSeconds: int(m.timeout / time.Second),
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	log.Debug().
		Str("session_id", session.ID.String()).
		Str("device_id", device.ID.String()).
		Msg("session created")

	m.events.SessionOpened(session)
	return session, nil
}

// QueueCommand appends a command to the session's FIFO list. Ordering
// inside a session is arrival order; priority ordering belongs to the
// pending-command queue, not to an in-flight session.
func (m *Manager) QueueCommand(ctx context.Context, session *models.Session, cmdType models.CommandType, params models.Variables, taskID *uuid.UUID) error {
	if !cmdType.Valid() {
		return fmt.Errorf("unknown command type %q", cmdType)
	}

	return m.store.AppendSessionCommand(ctx, &models.SessionCommand{
		SessionID:  session.ID,
		Type:       cmdType,
		Parameters: params,
		TaskID:     taskID,
	})
}

// NextCommand pops the head of the session's command list. An empty
// list returns (nil, nil); it is the normal end-of-session signal.
func (m *Manager) NextCommand(ctx context.Context, session *models.Session) (*models.SessionCommand, error) {
	return m.store.PopSessionCommand(ctx, session.ID)
}

// NextMessageID advances the session's message-correlation counter
func (m *Manager) NextMessageID(ctx context.Context, session *models.Session) (int, error) {
	return m.store.IncrementSessionMessage(ctx, session.ID)
}

// Touch records session activity on a request/response exchange
func (m *Manager) Touch(ctx context.Context, session *models.Session) (bool, error) {
	mu := m.lockDevice(session.DeviceID)
	defer mu.Unlock()

	return m.store.TouchSession(ctx, session.ID, m.now())
}

// CloseSession terminates a session with the given status. Closing an
// already-closed session is a no-op.
func (m *Manager) CloseSession(ctx context.Context, sessionID uuid.UUID, status models.SessionStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q does not terminate a session", status)
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if err == storage.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	mu := m.lockDevice(session.DeviceID)
	defer mu.Unlock()

	closed, err := m.store.CloseSession(ctx, sessionID, status, m.now())
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if closed {
		m.events.SessionClosed(session, status)
	}

	return nil
}

// CleanupTimedOutSessions reaps every active session past its timeout
func (m *Manager) CleanupTimedOutSessions(ctx context.Context) (int64, error) {
	closed, err := m.store.CloseTimedOutSessions(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("close timed-out sessions: %w", err)
	}

	if closed > 0 {
		log.Info().Int64("count", closed).Msg("closed timed-out sessions")
	}

	return closed, nil
}

// Stats returns session counts by status
func (m *Manager) Stats(ctx context.Context) (map[models.SessionStatus]int64, error) {
	return m.store.CountSessionsByStatus(ctx)
}

// Run sweeps timed-out sessions on a fixed cadence until the context
// is cancelled. The cadence is independent of device traffic; a device
// that never returns must not hold its session open.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.CleanupTimedOutSessions(ctx); err != nil {
				log.Error().Err(err).Msg("session sweep failed")
			}
		}
	}
}
