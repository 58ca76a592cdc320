package models

import (
	"time"

	"github.com/google/uuid"
)

// CommandType enumerates the management operations an ACS can send to a CPE
type CommandType string

const (
	CommandTypeProvision      CommandType = "PROVISION"
	CommandTypeReboot         CommandType = "REBOOT"
	CommandTypeGetParameters  CommandType = "GET_PARAMETERS"
	CommandTypeSetParameters  CommandType = "SET_PARAMETERS"
	CommandTypeDiagnostic     CommandType = "DIAGNOSTIC"
	CommandTypeFirmwareUpdate CommandType = "FIRMWARE_UPDATE"
	CommandTypeFactoryReset   CommandType = "FACTORY_RESET"
	CommandTypeTopologyScan   CommandType = "TOPOLOGY_SCAN"
)

// Valid reports whether t is a known command type.
func (t CommandType) Valid() bool {
	switch t {
	case CommandTypeProvision, CommandTypeReboot, CommandTypeGetParameters,
		CommandTypeSetParameters, CommandTypeDiagnostic, CommandTypeFirmwareUpdate,
		CommandTypeFactoryReset, CommandTypeTopologyScan:
		return true
	}
	return false
}

// CommandStatus represents the delivery state of a pending command
type CommandStatus string

const (
	CommandStatusPending    CommandStatus = "pending"
	CommandStatusProcessing CommandStatus = "processing"
	CommandStatusCompleted  CommandStatus = "completed"
	CommandStatusFailed     CommandStatus = "failed"
	CommandStatusCancelled  CommandStatus = "cancelled"
)

// Terminal reports whether the status ends the command's lifecycle.
// A failed command is terminal only once its retries are exhausted,
// which is tracked on the command itself.
func (s CommandStatus) Terminal() bool {
	switch s {
	case CommandStatusCompleted, CommandStatusCancelled:
		return true
	case CommandStatusPending, CommandStatusProcessing, CommandStatusFailed:
		return false
	}
	return false
}

// Priority bounds for pending commands. 1 is delivered first.
const (
	PriorityHighest = 1
	PriorityDefault = 5
	PriorityLowest  = 10
)

// PendingCommand is a durable command waiting for delivery to a device
// that could not be reached by connection request. It is replayed on the
// device's next inform.
type PendingCommand struct {
	ID       uuid.UUID   `json:"id" db:"id"`
	DeviceID uuid.UUID   `json:"deviceId" db:"device_id"`
	Type     CommandType `json:"type" db:"type"`

	Parameters Variables  `json:"parameters,omitempty" db:"parameters"`
	TaskID     *uuid.UUID `json:"taskId,omitempty" db:"task_id"`

	Priority int           `json:"priority" db:"priority"`
	Status   CommandStatus `json:"status" db:"status"`

	RetryCount int    `json:"retryCount" db:"retry_count"`
	MaxRetries int    `json:"maxRetries" db:"max_retries"`
	LastError  string `json:"lastError,omitempty" db:"last_error"`

	CreatedAt           time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time  `json:"updatedAt" db:"updated_at"`
	ProcessingStartedAt *time.Time `json:"processingStartedAt,omitempty" db:"processing_started_at"`
	ExecutedAt          *time.Time `json:"executedAt,omitempty" db:"executed_at"`
}

// Retryable reports whether the command may be re-queued after a failure.
func (c *PendingCommand) Retryable() bool {
	return c.Status == CommandStatusFailed && c.RetryCount < c.MaxRetries
}
