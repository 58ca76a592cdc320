package models

import (
	"time"

	"github.com/google/uuid"
)

// EventLog represents an event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	DeviceID  *uuid.UUID `json:"deviceId,omitempty" db:"device_id"`
	SessionID *uuid.UUID `json:"sessionId,omitempty" db:"session_id"`
	CommandID *uuid.UUID `json:"commandId,omitempty" db:"command_id"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	// Device events
	EventTypeInform            EventType = "INFORM"
	EventTypeConnectionRequest EventType = "CONNECTION_REQUEST"

	// Command events
	EventTypeCommandQueued    EventType = "COMMAND_QUEUED"
	EventTypeCommandDelivered EventType = "COMMAND_DELIVERED"
	EventTypeCommandFailed    EventType = "COMMAND_FAILED"
	EventTypeCommandCancelled EventType = "COMMAND_CANCELLED"

	// Session events
	EventTypeSessionOpened  EventType = "SESSION_OPENED"
	EventTypeSessionClosed  EventType = "SESSION_CLOSED"
	EventTypeSessionTimeout EventType = "SESSION_TIMEOUT"

	// System events
	EventTypeValidation EventType = "VALIDATION"
	EventTypeAPICall    EventType = "API_CALL"
	EventTypeError      EventType = "ERROR"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)
