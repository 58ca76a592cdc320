package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evoacs/acs-server/internal/models"
)

// MemoryStore implements Store in memory. It backs unit tests and
// single-node development setups; the conditional updates follow the
// same compare-then-write semantics as the PostgreSQL store.
type MemoryStore struct {
	mu sync.Mutex

	devices     map[uuid.UUID]*models.Device
	sessions    map[uuid.UUID]*models.Session
	sessionCmds map[uuid.UUID][]*models.SessionCommand
	commands    map[uuid.UUID]*models.PendingCommand
	dataModels  map[uuid.UUID]*models.DataModel
	definitions map[uuid.UUID]map[string]*models.ParameterDefinition
	templates   map[uuid.UUID]*models.ProvisioningTemplate
	events      []*models.EventLog
	users       map[uuid.UUID]*models.User

	seq int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:     make(map[uuid.UUID]*models.Device),
		sessions:    make(map[uuid.UUID]*models.Session),
		sessionCmds: make(map[uuid.UUID][]*models.SessionCommand),
		commands:    make(map[uuid.UUID]*models.PendingCommand),
		dataModels:  make(map[uuid.UUID]*models.DataModel),
		definitions: make(map[uuid.UUID]map[string]*models.ParameterDefinition),
		templates:   make(map[uuid.UUID]*models.ProvisioningTemplate),
		users:       make(map[uuid.UUID]*models.User),
	}
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

// BeginTx returns the store itself; operations are already atomic under
// the store mutex.
func (s *MemoryStore) BeginTx(ctx context.Context) (Store, error) { return s, nil }

// Commit is a no-op
func (s *MemoryStore) Commit() error { return nil }

// Rollback is a no-op
func (s *MemoryStore) Rollback() error { return nil }

// ========== Device Methods ==========

// CreateDevice creates a device
func (s *MemoryStore) CreateDevice(ctx context.Context, device *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	if device.AuthMethod == "" {
		device.AuthMethod = models.AuthMethodDigest
	}

	for _, d := range s.devices {
		if d.OUI == device.OUI && d.SerialNumber == device.SerialNumber {
			return ErrDuplicateKey
		}
	}

	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	cp := *device
	s.devices[device.ID] = &cp
	return nil
}

// GetDevice gets a device by ID
func (s *MemoryStore) GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *device
	return &cp, nil
}

// GetDeviceBySerial gets a device by OUI and serial number
func (s *MemoryStore) GetDeviceBySerial(ctx context.Context, oui, serialNumber string) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, device := range s.devices {
		if device.OUI == oui && device.SerialNumber == serialNumber {
			cp := *device
			return &cp, nil
		}
	}

	return nil, ErrNotFound
}

// UpdateDevice updates a device
func (s *MemoryStore) UpdateDevice(ctx context.Context, device *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[device.ID]; !ok {
		return ErrNotFound
	}

	device.UpdatedAt = time.Now()
	cp := *device
	s.devices[device.ID] = &cp
	return nil
}

// DeleteDevice deletes a device
func (s *MemoryStore) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[id]; !ok {
		return ErrNotFound
	}

	delete(s.devices, id)
	return nil
}

// ListDevices lists devices
func (s *MemoryStore) ListDevices(ctx context.Context, limit, offset int) ([]*models.Device, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*models.Device, 0, len(s.devices))
	for _, device := range s.devices {
		cp := *device
		all = append(all, &cp)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}

	return all[offset:end], total, nil
}

// TouchDeviceInform records a device contact
func (s *MemoryStore) TouchDeviceInform(ctx context.Context, id uuid.UUID, ip string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[id]
	if !ok {
		return ErrNotFound
	}

	t := when
	device.LastInformAt = &t
	if ip != "" {
		device.IPAddress = ip
	}
	device.UpdatedAt = when
	return nil
}

// ========== Session Methods ==========

// CreateSession creates a session
func (s *MemoryStore) CreateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}

	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

// GetSession gets a session by ID
func (s *MemoryStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *session
	return &cp, nil
}

// GetActiveSessionByCookie gets the active session matching device and cookie
func (s *MemoryStore) GetActiveSessionByCookie(ctx context.Context, deviceID uuid.UUID, cookie string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.Session
	for _, session := range s.sessions {
		if session.DeviceID != deviceID || session.Cookie != cookie ||
			session.Status != models.SessionStatusActive {
			continue
		}
		if best == nil || session.LastActivity.After(best.LastActivity) {
			best = session
		}
	}

	if best == nil {
		return nil, nil
	}

	cp := *best
	return &cp, nil
}

// GetLatestActiveSession gets the most recently active session for a device
func (s *MemoryStore) GetLatestActiveSession(ctx context.Context, deviceID uuid.UUID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.Session
	for _, session := range s.sessions {
		if session.DeviceID != deviceID || session.Status != models.SessionStatusActive {
			continue
		}
		if best == nil || session.LastActivity.After(best.LastActivity) {
			best = session
		}
	}

	if best == nil {
		return nil, nil
	}

	cp := *best
	return &cp, nil
}

// TouchSession updates last_activity while the session is still active
func (s *MemoryStore) TouchSession(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || session.Status != models.SessionStatusActive {
		return false, nil
	}

	session.LastActivity = now
	return true, nil
}

// CloseSession terminates a non-terminal session
func (s *MemoryStore) CloseSession(ctx context.Context, id uuid.UUID, status models.SessionStatus, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || session.Status.Terminal() {
		return false, nil
	}

	session.Status = status
	t := now
	session.EndedAt = &t
	return true, nil
}

// CloseTimedOutSessions closes all active sessions past their timeout
func (s *MemoryStore) CloseTimedOutSessions(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var closed int64
	for _, session := range s.sessions {
		if session.Status == models.SessionStatusActive && session.Expired(now) {
			session.Status = models.SessionStatusTimeout
			t := now
			session.EndedAt = &t
			closed++
		}
	}

	return closed, nil
}

// IncrementSessionMessage advances the per-session message counter
func (s *MemoryStore) IncrementSessionMessage(ctx context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return 0, ErrNotFound
	}

	session.MessageID++
	return session.MessageID, nil
}

// CountSessionsByStatus returns session counts per status
func (s *MemoryStore) CountSessionsByStatus(ctx context.Context) (map[models.SessionStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[models.SessionStatus]int64)
	for _, session := range s.sessions {
		counts[session.Status]++
	}

	return counts, nil
}

// AppendSessionCommand appends a command to a session's FIFO list
func (s *MemoryStore) AppendSessionCommand(ctx context.Context, cmd *models.SessionCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now()
	}

	s.seq++
	cmd.Seq = s.seq

	cp := *cmd
	s.sessionCmds[cmd.SessionID] = append(s.sessionCmds[cmd.SessionID], &cp)
	return nil
}

// PopSessionCommand removes and returns the head of a session's command list
func (s *MemoryStore) PopSessionCommand(ctx context.Context, sessionID uuid.UUID) (*models.SessionCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.sessionCmds[sessionID]
	if len(queue) == 0 {
		return nil, nil
	}

	head := queue[0]
	s.sessionCmds[sessionID] = queue[1:]
	return head, nil
}

// ========== Pending Command Methods ==========

// CreatePendingCommand creates a pending command
func (s *MemoryStore) CreatePendingCommand(ctx context.Context, cmd *models.PendingCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	if cmd.Status == "" {
		cmd.Status = models.CommandStatusPending
	}
	if cmd.Priority == 0 {
		cmd.Priority = models.PriorityDefault
	}

	now := time.Now()
	cmd.CreatedAt = now
	cmd.UpdatedAt = now

	cp := *cmd
	s.commands[cmd.ID] = &cp
	return nil
}

// GetPendingCommand gets a command by ID
func (s *MemoryStore) GetPendingCommand(ctx context.Context, id uuid.UUID) (*models.PendingCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *cmd
	return &cp, nil
}

// GetPendingCommands lists a device's waiting commands in delivery order
func (s *MemoryStore) GetPendingCommands(ctx context.Context, deviceID uuid.UUID) ([]*models.PendingCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var commands []*models.PendingCommand
	for _, cmd := range s.commands {
		if cmd.DeviceID == deviceID && cmd.Status == models.CommandStatusPending {
			cp := *cmd
			commands = append(commands, &cp)
		}
	}

	sort.Slice(commands, func(i, j int) bool {
		if commands[i].Priority != commands[j].Priority {
			return commands[i].Priority < commands[j].Priority
		}
		return commands[i].CreatedAt.Before(commands[j].CreatedAt)
	})

	return commands, nil
}

// ClaimPendingCommand moves a command from pending to processing
func (s *MemoryStore) ClaimPendingCommand(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[id]
	if !ok || cmd.Status != models.CommandStatusPending {
		return false, nil
	}

	cmd.Status = models.CommandStatusProcessing
	t := now
	cmd.ProcessingStartedAt = &t
	cmd.UpdatedAt = now
	return true, nil
}

// CompletePendingCommand marks a processing command as executed
func (s *MemoryStore) CompletePendingCommand(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[id]
	if !ok || cmd.Status != models.CommandStatusProcessing {
		return false, nil
	}

	cmd.Status = models.CommandStatusCompleted
	t := now
	cmd.ExecutedAt = &t
	cmd.UpdatedAt = now
	return true, nil
}

// FailPendingCommand marks a processing command as failed
func (s *MemoryStore) FailPendingCommand(ctx context.Context, id uuid.UUID, reason string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[id]
	if !ok || cmd.Status != models.CommandStatusProcessing {
		return false, nil
	}

	cmd.Status = models.CommandStatusFailed
	cmd.LastError = reason
	cmd.RetryCount++
	cmd.UpdatedAt = now
	return true, nil
}

// CancelPendingCommand cancels a command that has not been claimed yet
func (s *MemoryStore) CancelPendingCommand(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[id]
	if !ok || cmd.Status != models.CommandStatusPending {
		return false, nil
	}

	cmd.Status = models.CommandStatusCancelled
	cmd.UpdatedAt = time.Now()
	return true, nil
}

// RetryPendingCommand re-queues a failed command with retries left
func (s *MemoryStore) RetryPendingCommand(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[id]
	if !ok || !cmd.Retryable() {
		return false, nil
	}

	cmd.Status = models.CommandStatusPending
	cmd.LastError = ""
	cmd.ProcessingStartedAt = nil
	cmd.UpdatedAt = time.Now()
	return true, nil
}

// DeleteOldCommands removes terminal commands older than the cutoff
func (s *MemoryStore) DeleteOldCommands(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, cmd := range s.commands {
		if !cmd.UpdatedAt.Before(cutoff) {
			continue
		}
		terminal := cmd.Status.Terminal() ||
			(cmd.Status == models.CommandStatusFailed && cmd.RetryCount >= cmd.MaxRetries)
		if terminal {
			delete(s.commands, id)
			deleted++
		}
	}

	return deleted, nil
}

// CommandStatistics reports counts per status
func (s *MemoryStore) CommandStatistics(ctx context.Context) (*CommandStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &CommandStats{}
	for _, cmd := range s.commands {
		switch cmd.Status {
		case models.CommandStatusPending:
			stats.Pending++
			if cmd.Priority <= 3 {
				stats.HighPriorityPending++
			}
		case models.CommandStatusProcessing:
			stats.Processing++
		case models.CommandStatusCompleted:
			stats.Completed++
		case models.CommandStatusFailed:
			stats.Failed++
		case models.CommandStatusCancelled:
			stats.Cancelled++
		}
	}

	return stats, nil
}

// ========== Data Model Catalog Methods ==========

// CreateDataModel creates a data model
func (s *MemoryStore) CreateDataModel(ctx context.Context, dm *models.DataModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dm.ID == uuid.Nil {
		dm.ID = uuid.New()
	}

	now := time.Now()
	dm.CreatedAt = now
	dm.UpdatedAt = now

	cp := *dm
	s.dataModels[dm.ID] = &cp
	return nil
}

// GetDataModel gets a data model by ID
func (s *MemoryStore) GetDataModel(ctx context.Context, id uuid.UUID) (*models.DataModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dm, ok := s.dataModels[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *dm
	return &cp, nil
}

// CreateParameterDefinition creates a parameter definition
func (s *MemoryStore) CreateParameterDefinition(ctx context.Context, def *models.ParameterDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}

	defs, ok := s.definitions[def.DataModelID]
	if !ok {
		defs = make(map[string]*models.ParameterDefinition)
		s.definitions[def.DataModelID] = defs
	}
	if _, exists := defs[def.Path]; exists {
		return ErrDuplicateKey
	}

	cp := *def
	defs[def.Path] = &cp
	return nil
}

// GetParameterDefinition resolves a definition by exact path
func (s *MemoryStore) GetParameterDefinition(ctx context.Context, dataModelID uuid.UUID, path string) (*models.ParameterDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.definitions[dataModelID][path]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *def
	return &cp, nil
}

// CreateTemplate creates a provisioning template
func (s *MemoryStore) CreateTemplate(ctx context.Context, tpl *models.ProvisioningTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tpl.ID == uuid.Nil {
		tpl.ID = uuid.New()
	}

	now := time.Now()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now

	cp := *tpl
	s.templates[tpl.ID] = &cp
	return nil
}

// GetTemplate gets a provisioning template by ID
func (s *MemoryStore) GetTemplate(ctx context.Context, id uuid.UUID) (*models.ProvisioningTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *tpl
	return &cp, nil
}

// ========== Event Log Methods ==========

// CreateEventLog creates an event log entry
func (s *MemoryStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

// ListEventLogs lists event logs matching the filters
func (s *MemoryStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.EventLog
	for _, event := range s.events {
		if filters.DeviceID != nil && (event.DeviceID == nil || *event.DeviceID != *filters.DeviceID) {
			continue
		}
		if filters.SessionID != nil && (event.SessionID == nil || *event.SessionID != *filters.SessionID) {
			continue
		}
		if filters.CommandID != nil && (event.CommandID == nil || *event.CommandID != *filters.CommandID) {
			continue
		}
		if filters.Type != nil && event.Type != *filters.Type {
			continue
		}
		if filters.Level != nil && event.Level != *filters.Level {
			continue
		}
		if filters.StartTime != nil && event.CreatedAt.Before(*filters.StartTime) {
			continue
		}
		if filters.EndTime != nil && event.CreatedAt.After(*filters.EndTime) {
			continue
		}

		cp := *event
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}

	return matched[offset:end], total, nil
}

// ========== User Methods ==========

// CreateUser creates a user
func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	for _, u := range s.users {
		if u.Email == user.Email {
			return ErrDuplicateKey
		}
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	cp := *user
	s.users[user.ID] = &cp
	return nil
}

// GetUser gets a user by ID
func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *user
	return &cp, nil
}

// GetUserByEmail gets a user by email
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.Email == email {
			cp := *user
			return &cp, nil
		}
	}

	return nil, ErrNotFound
}
