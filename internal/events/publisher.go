package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/evoacs/acs-server/internal/models"
)

// Publisher pushes ACS lifecycle events to NATS for downstream
// consumers (alerting, audit, integrations). A nil Publisher is valid
// and publishes nothing, so components can run without a broker.
type Publisher struct {
	nc *nats.Conn
}

// NewPublisher creates a publisher on an existing NATS connection
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{nc: nc}
}

func (p *Publisher) publish(subject string, payload interface{}) {
	if p == nil || p.nc == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("marshal event payload")
		return
	}

	if err := p.nc.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("publish event")
	}
}

// CommandQueued announces a command entering the pending queue
func (p *Publisher) CommandQueued(cmd *models.PendingCommand) {
	p.publish(fmt.Sprintf("acs.device.%s.command.queued", cmd.DeviceID), map[string]interface{}{
		"id":       cmd.ID,
		"type":     cmd.Type,
		"priority": cmd.Priority,
		"queuedAt": cmd.CreatedAt,
	})
}

// CommandDelivered announces a command handed to a device session
func (p *Publisher) CommandDelivered(cmd *models.PendingCommand, sessionID uuid.UUID) {
	p.publish(fmt.Sprintf("acs.device.%s.command.delivered", cmd.DeviceID), map[string]interface{}{
		"id":        cmd.ID,
		"type":      cmd.Type,
		"sessionId": sessionID,
		"time":      time.Now(),
	})
}

// CommandFailed announces a delivery failure
func (p *Publisher) CommandFailed(cmd *models.PendingCommand, reason string) {
	p.publish(fmt.Sprintf("acs.device.%s.command.failed", cmd.DeviceID), map[string]interface{}{
		"id":         cmd.ID,
		"type":       cmd.Type,
		"reason":     reason,
		"retryCount": cmd.RetryCount,
	})
}

// SessionOpened announces a new CWMP session
func (p *Publisher) SessionOpened(session *models.Session) {
	p.publish(fmt.Sprintf("acs.device.%s.session.opened", session.DeviceID), map[string]interface{}{
		"id":        session.ID,
		"startedAt": session.StartedAt,
		"deviceIp":  session.DeviceIP,
	})
}

// SessionClosed announces a terminated CWMP session
func (p *Publisher) SessionClosed(session *models.Session, status models.SessionStatus) {
	p.publish(fmt.Sprintf("acs.device.%s.session.closed", session.DeviceID), map[string]interface{}{
		"id":     session.ID,
		"status": status,
		"time":   time.Now(),
	})
}

// ConnectionRequest announces a connection-request outcome
func (p *Publisher) ConnectionRequest(deviceID uuid.UUID, success bool, errorCode string) {
	p.publish(fmt.Sprintf("acs.device.%s.connreq", deviceID), map[string]interface{}{
		"success":   success,
		"errorCode": errorCode,
		"time":      time.Now(),
	})
}
