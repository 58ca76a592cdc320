package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/evoacs/acs-server/internal/connreq"
	"github.com/evoacs/acs-server/internal/events"
	"github.com/evoacs/acs-server/internal/models"
	"github.com/evoacs/acs-server/internal/storage"
)

// DefaultMaxRetries bounds delivery attempts for a queued command
const DefaultMaxRetries = 3

// Deliverer is the connection-request surface the queue depends on
type Deliverer interface {
	IsSupported(device *models.Device) bool
	SendConnectionRequest(ctx context.Context, device *models.Device) *connreq.Result
}

// DeliveryResult is the outcome of SendWithNATFallback. Queued=true is
// a success from the caller's perspective: the command will run on the
// device's next contact.
type DeliveryResult struct {
	Success bool                   `json:"success"`
	Queued  bool                   `json:"queued"`
	Message string                 `json:"message"`
	Method  string                 `json:"method"`
	Command *models.PendingCommand `json:"command,omitempty"`
}

// Queue is the durable fallback for devices that cannot be woken by
// connection request, with priority-ordered replay on the device's
// next inform.
type Queue struct {
	store      storage.Store
	dispatcher Deliverer
	events     *events.Publisher

	maxRetries    int
	cleanAfter    time.Duration
	sweepInterval time.Duration
}

// NewQueue creates a pending-command queue
func NewQueue(store storage.Store, dispatcher Deliverer, publisher *events.Publisher, maxRetries int, cleanAfter, sweepInterval time.Duration) *Queue {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if cleanAfter <= 0 {
		cleanAfter = 7 * 24 * time.Hour
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}

	return &Queue{
		store:         store,
		dispatcher:    dispatcher,
		events:        publisher,
		maxRetries:    maxRetries,
		cleanAfter:    cleanAfter,
		sweepInterval: sweepInterval,
	}
}

// SendWithNATFallback tries to wake the device, and queues the command
// when the failure says the device is unreachable (NAT, firewall, no
// callback URL). Auth and HTTP errors are configuration problems; they
// are returned as hard failures because queuing would not fix them.
//
// The dispatcher call is blocking I/O; no store state is held across it.
func (q *Queue) SendWithNATFallback(ctx context.Context, device *models.Device, cmdType models.CommandType, params models.Variables, priority int) (*DeliveryResult, error) {
	if !cmdType.Valid() {
		return nil, fmt.Errorf("unknown command type %q", cmdType)
	}
	if priority == 0 {
		priority = models.PriorityDefault
	}

	result := q.dispatcher.SendConnectionRequest(ctx, device)
	q.events.ConnectionRequest(device.ID, result.Success, string(result.ErrorCode))

	if result.Success {
		return &DeliveryResult{
			Success: true,
			Queued:  false,
			Message: "device accepted connection request and will contact the ACS",
			Method:  "connection_request",
		}, nil
	}

	if !result.ErrorCode.Reachability() {
		return &DeliveryResult{
			Success: false,
			Queued:  false,
			Message: result.Message,
			Method:  "connection_request",
		}, nil
	}

	cmd, err := q.Enqueue(ctx, device.ID, cmdType, params, priority, nil)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("device_id", device.ID.String()).
		Str("command_id", cmd.ID.String()).
		Str("type", string(cmdType)).
		Str("reason", string(result.ErrorCode)).
		Msg("device unreachable, command queued for next contact")

	return &DeliveryResult{
		Success: true,
		Queued:  true,
		Message: "device unreachable, command queued for delivery on next contact",
		Method:  "queue",
		Command: cmd,
	}, nil
}

// Enqueue stores a command directly, for callers that already know
// delivery must be deferred.
func (q *Queue) Enqueue(ctx context.Context, deviceID uuid.UUID, cmdType models.CommandType, params models.Variables, priority int, taskID *uuid.UUID) (*models.PendingCommand, error) {
	if !cmdType.Valid() {
		return nil, fmt.Errorf("unknown command type %q", cmdType)
	}
	if priority < models.PriorityHighest || priority > models.PriorityLowest {
		priority = models.PriorityDefault
	}

	cmd := &models.PendingCommand{
		DeviceID:   deviceID,
		Type:       cmdType,
		Parameters: params,
		Priority:   priority,
		Status:     models.CommandStatusPending,
		MaxRetries: q.maxRetries,
		TaskID:     taskID,
	}

	if err := q.store.CreatePendingCommand(ctx, cmd); err != nil {
		return nil, fmt.Errorf("create pending command: %w", err)
	}

	q.events.CommandQueued(cmd)

	q.store.CreateEventLog(ctx, &models.EventLog{
		DeviceID:    &cmd.DeviceID,
		CommandID:   &cmd.ID,
		Type:        models.EventTypeCommandQueued,
		Level:       models.EventLevelInfo,
		Description: "command queued",
		Details: models.Variables{
			"type":     cmd.Type,
			"priority": cmd.Priority,
		},
	})

	return cmd, nil
}

// Pending lists a device's waiting commands in delivery order
func (q *Queue) Pending(ctx context.Context, deviceID uuid.UUID) ([]*models.PendingCommand, error) {
	return q.store.GetPendingCommands(ctx, deviceID)
}

// ClaimDue claims every due pending command for a device, in delivery
// order. Each claim is an atomic pending→processing transition, so a
// concurrent worker claiming the same device loses cleanly.
func (q *Queue) ClaimDue(ctx context.Context, deviceID uuid.UUID) ([]*models.PendingCommand, error) {
	pending, err := q.store.GetPendingCommands(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list pending commands: %w", err)
	}

	now := time.Now()
	var claimed []*models.PendingCommand
	for _, cmd := range pending {
		won, err := q.store.ClaimPendingCommand(ctx, cmd.ID, now)
		if err != nil {
			return claimed, fmt.Errorf("claim command %s: %w", cmd.ID, err)
		}
		if won {
			cmd.Status = models.CommandStatusProcessing
			cmd.ProcessingStartedAt = &now
			claimed = append(claimed, cmd)
		}
	}

	return claimed, nil
}

// MarkDelivered completes a claimed command after it was handed to a
// session for transmission.
func (q *Queue) MarkDelivered(ctx context.Context, cmd *models.PendingCommand, sessionID uuid.UUID) error {
	done, err := q.store.CompletePendingCommand(ctx, cmd.ID, time.Now())
	if err != nil {
		return fmt.Errorf("complete command: %w", err)
	}
	if !done {
		return nil
	}

	q.events.CommandDelivered(cmd, sessionID)

	q.store.CreateEventLog(ctx, &models.EventLog{
		DeviceID:    &cmd.DeviceID,
		CommandID:   &cmd.ID,
		SessionID:   &sessionID,
		Type:        models.EventTypeCommandDelivered,
		Level:       models.EventLevelInfo,
		Description: "command delivered to session",
	})

	return nil
}

// MarkFailed records a delivery failure for a claimed command
func (q *Queue) MarkFailed(ctx context.Context, cmd *models.PendingCommand, reason string) error {
	failed, err := q.store.FailPendingCommand(ctx, cmd.ID, reason, time.Now())
	if err != nil {
		return fmt.Errorf("fail command: %w", err)
	}
	if !failed {
		return nil
	}

	q.events.CommandFailed(cmd, reason)

	q.store.CreateEventLog(ctx, &models.EventLog{
		DeviceID:    &cmd.DeviceID,
		CommandID:   &cmd.ID,
		Type:        models.EventTypeCommandFailed,
		Level:       models.EventLevelWarning,
		Description: "command delivery failed",
		Details:     models.Variables{"reason": reason},
	})

	return nil
}

// Cancel cancels a command that has not been claimed. Cancellation
// prevents future delivery; it does not abort a delivery underway.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	cancelled, err := q.store.CancelPendingCommand(ctx, id)
	if err != nil {
		return false, fmt.Errorf("cancel command: %w", err)
	}

	if cancelled {
		q.store.CreateEventLog(ctx, &models.EventLog{
			CommandID:   &id,
			Type:        models.EventTypeCommandCancelled,
			Level:       models.EventLevelInfo,
			Description: "command cancelled",
		})
	}

	return cancelled, nil
}

// Retry re-queues a failed command while its retry budget lasts
func (q *Queue) Retry(ctx context.Context, id uuid.UUID) (bool, error) {
	return q.store.RetryPendingCommand(ctx, id)
}

// CleanOld deletes terminal commands older than the given age
func (q *Queue) CleanOld(ctx context.Context, age time.Duration) (int64, error) {
	return q.store.DeleteOldCommands(ctx, time.Now().Add(-age))
}

// Statistics reports queue counts for operational visibility
func (q *Queue) Statistics(ctx context.Context) (*storage.CommandStats, error) {
	return q.store.CommandStatistics(ctx)
}

// Run performs periodic housekeeping until the context is cancelled
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			deleted, err := q.CleanOld(ctx, q.cleanAfter)
			if err != nil {
				log.Error().Err(err).Msg("command housekeeping failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("count", deleted).Msg("deleted old terminal commands")
			}
		}
	}
}
