package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/evoacs/acs-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// CommandStats reports pending-command counts per status, plus the number
// of high-priority commands still waiting.
type CommandStats struct {
	Pending             int64 `json:"pending"`
	Processing          int64 `json:"processing"`
	Completed           int64 `json:"completed"`
	Failed              int64 `json:"failed"`
	Cancelled           int64 `json:"cancelled"`
	HighPriorityPending int64 `json:"highPriorityPending"`
}

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Device methods
	CreateDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error)
	GetDeviceBySerial(ctx context.Context, oui, serialNumber string) (*models.Device, error)
	UpdateDevice(ctx context.Context, device *models.Device) error
	DeleteDevice(ctx context.Context, id uuid.UUID) error
	ListDevices(ctx context.Context, limit, offset int) ([]*models.Device, int64, error)
	TouchDeviceInform(ctx context.Context, id uuid.UUID, ip string, when time.Time) error

	// Session methods. Active-session lookups return (nil, nil) when no
	// usable session exists; absence is an expected case, not an error.
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetActiveSessionByCookie(ctx context.Context, deviceID uuid.UUID, cookie string) (*models.Session, error)
	GetLatestActiveSession(ctx context.Context, deviceID uuid.UUID) (*models.Session, error)
	TouchSession(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	CloseSession(ctx context.Context, id uuid.UUID, status models.SessionStatus, now time.Time) (bool, error)
	CloseTimedOutSessions(ctx context.Context, now time.Time) (int64, error)
	IncrementSessionMessage(ctx context.Context, id uuid.UUID) (int, error)
	CountSessionsByStatus(ctx context.Context) (map[models.SessionStatus]int64, error)
	AppendSessionCommand(ctx context.Context, cmd *models.SessionCommand) error
	PopSessionCommand(ctx context.Context, sessionID uuid.UUID) (*models.SessionCommand, error)

	// Pending command methods. Claim/Complete/Fail/Cancel/Retry are
	// conditional updates; false means the command was not in the
	// required state, which is an expected race.
	CreatePendingCommand(ctx context.Context, cmd *models.PendingCommand) error
	GetPendingCommand(ctx context.Context, id uuid.UUID) (*models.PendingCommand, error)
	GetPendingCommands(ctx context.Context, deviceID uuid.UUID) ([]*models.PendingCommand, error)
	ClaimPendingCommand(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	CompletePendingCommand(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	FailPendingCommand(ctx context.Context, id uuid.UUID, reason string, now time.Time) (bool, error)
	CancelPendingCommand(ctx context.Context, id uuid.UUID) (bool, error)
	RetryPendingCommand(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteOldCommands(ctx context.Context, cutoff time.Time) (int64, error)
	CommandStatistics(ctx context.Context) (*CommandStats, error)

	// Data model catalog methods
	CreateDataModel(ctx context.Context, dm *models.DataModel) error
	GetDataModel(ctx context.Context, id uuid.UUID) (*models.DataModel, error)
	CreateParameterDefinition(ctx context.Context, def *models.ParameterDefinition) error
	GetParameterDefinition(ctx context.Context, dataModelID uuid.UUID, path string) (*models.ParameterDefinition, error)
	CreateTemplate(ctx context.Context, tpl *models.ProvisioningTemplate) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*models.ProvisioningTemplate, error)

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	// User methods
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// Close the store
	Close() error
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	DeviceID  *uuid.UUID
	SessionID *uuid.UUID
	CommandID *uuid.UUID
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}
