package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a CWMP session
type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusClosing SessionStatus = "closing"
	SessionStatusClosed  SessionStatus = "closed"
	SessionStatusTimeout SessionStatus = "timeout"
)

// Terminal reports whether the status ends the session.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusClosed, SessionStatusTimeout:
		return true
	case SessionStatusActive, SessionStatusClosing:
		return false
	}
	return false
}

// Session represents one CWMP conversation with a device. The cookie
// correlates the device's HTTP exchanges across SOAP round trips.
type Session struct {
	ID       uuid.UUID `json:"id" db:"id"`
	DeviceID uuid.UUID `json:"deviceId" db:"device_id"`
	Cookie   string    `json:"cookie" db:"cookie"`

	Status    SessionStatus `json:"status" db:"status"`
	MessageID int           `json:"messageId" db:"message_id"`
	DeviceIP  string        `json:"deviceIp" db:"device_ip"`

	StartedAt      time.Time  `json:"startedAt" db:"started_at"`
	LastActivity   time.Time  `json:"lastActivity" db:"last_activity"`
	EndedAt        *time.Time `json:"endedAt,omitempty" db:"ended_at"`
	TimeoutSeconds int        `json:"timeoutSeconds" db:"timeout_seconds"`
}

// Expired reports whether the session's inter-message timeout has elapsed.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.LastActivity) >= time.Duration(s.TimeoutSeconds)*time.Second
}

// SessionCommand is one queued entry in a session's in-flight command
// list. Delivery order within a session is FIFO by Seq.
type SessionCommand struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	SessionID  uuid.UUID   `json:"sessionId" db:"session_id"`
	Seq        int64       `json:"seq" db:"seq"`
	Type       CommandType `json:"type" db:"type"`
	Parameters Variables   `json:"parameters,omitempty" db:"parameters"`
	TaskID     *uuid.UUID  `json:"taskId,omitempty" db:"task_id"`
	CreatedAt  time.Time   `json:"createdAt" db:"created_at"`
}
