package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/evoacs/acs-server/internal/models"
)

// ========== Pending Command Methods ==========

const commandColumns = `
    id, device_id, type, parameters, task_id, priority, status,
    retry_count, max_retries, last_error, created_at, updated_at,
    processing_started_at, executed_at`

// CreatePendingCommand creates a pending command
func (s *PostgresStore) CreatePendingCommand(ctx context.Context, cmd *models.PendingCommand) error {
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

	query := `
        INSERT INTO pending_commands (
            id, device_id, type, parameters, task_id, priority, status,
            retry_count, max_retries, last_error, created_at, updated_at,
            processing_started_at, executed_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.getDB().ExecContext(ctx, query,
		cmd.ID, cmd.DeviceID, cmd.Type, cmd.Parameters, cmd.TaskID,
		cmd.Priority, cmd.Status, cmd.RetryCount, cmd.MaxRetries,
		cmd.LastError, cmd.CreatedAt, cmd.UpdatedAt,
		cmd.ProcessingStartedAt, cmd.ExecutedAt,
	)

	return err
}

func (s *PostgresStore) scanCommand(row interface{ Scan(...interface{}) error }) (*models.PendingCommand, error) {
	cmd := &models.PendingCommand{}
	var cmdType, status string

	err := row.Scan(
		&cmd.ID, &cmd.DeviceID, &cmdType, &cmd.Parameters, &cmd.TaskID,
		&cmd.Priority, &status, &cmd.RetryCount, &cmd.MaxRetries,
		&cmd.LastError, &cmd.CreatedAt, &cmd.UpdatedAt,
		&cmd.ProcessingStartedAt, &cmd.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}

	cmd.Type = models.CommandType(cmdType)
	cmd.Status = models.CommandStatus(status)
	return cmd, nil
}

// GetPendingCommand gets a command by ID
func (s *PostgresStore) GetPendingCommand(ctx context.Context, id uuid.UUID) (*models.PendingCommand, error) {
	query := `SELECT ` + commandColumns + ` FROM pending_commands WHERE id = $1`

	cmd, err := s.scanCommand(s.getDB().QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return cmd, nil
}

// GetPendingCommands lists a device's waiting commands, highest priority
// first, oldest first within a priority.
func (s *PostgresStore) GetPendingCommands(ctx context.Context, deviceID uuid.UUID) ([]*models.PendingCommand, error) {
	query := `SELECT ` + commandColumns + `
        FROM pending_commands
        WHERE device_id = $1 AND status = 'pending'
        ORDER BY priority ASC, created_at ASC`

	rows, err := s.getDB().QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []*models.PendingCommand
	for rows.Next() {
		cmd, err := s.scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}

	return commands, nil
}

// conditionalUpdate runs an update and reports whether a row matched
func (s *PostgresStore) conditionalUpdate(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := s.getDB().ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// ClaimPendingCommand moves a command from pending to processing. Exactly
// one delivery worker wins the claim.
func (s *PostgresStore) ClaimPendingCommand(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return s.conditionalUpdate(ctx,
		`UPDATE pending_commands
         SET status = 'processing', processing_started_at = $2, updated_at = $2
         WHERE id = $1 AND status = 'pending'`,
		id, now,
	)
}

// CompletePendingCommand marks a processing command as executed
func (s *PostgresStore) CompletePendingCommand(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return s.conditionalUpdate(ctx,
		`UPDATE pending_commands
         SET status = 'completed', executed_at = $2, updated_at = $2
         WHERE id = $1 AND status = 'processing'`,
		id, now,
	)
}

// FailPendingCommand marks a processing command as failed and counts the
// attempt against its retry budget.
func (s *PostgresStore) FailPendingCommand(ctx context.Context, id uuid.UUID, reason string, now time.Time) (bool, error) {
	return s.conditionalUpdate(ctx,
		`UPDATE pending_commands
         SET status = 'failed', last_error = $2, retry_count = retry_count + 1, updated_at = $3
         WHERE id = $1 AND status = 'processing'`,
		id, reason, now,
	)
}

// CancelPendingCommand cancels a command that has not been claimed yet
func (s *PostgresStore) CancelPendingCommand(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.conditionalUpdate(ctx,
		`UPDATE pending_commands
         SET status = 'cancelled', updated_at = $2
         WHERE id = $1 AND status = 'pending'`,
		id, time.Now(),
	)
}

// RetryPendingCommand re-queues a failed command while it still has
// retries left.
func (s *PostgresStore) RetryPendingCommand(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.conditionalUpdate(ctx,
		`UPDATE pending_commands
         SET status = 'pending', last_error = '', processing_started_at = NULL, updated_at = $2
         WHERE id = $1 AND status = 'failed' AND retry_count < max_retries`,
		id, time.Now(),
	)
}

// DeleteOldCommands removes terminal commands older than the cutoff.
// Failed commands are terminal here once their retries are exhausted.
func (s *PostgresStore) DeleteOldCommands(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.getDB().ExecContext(ctx,
		`DELETE FROM pending_commands
         WHERE updated_at < $1
           AND (status IN ('completed', 'cancelled')
                OR (status = 'failed' AND retry_count >= max_retries))`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// CommandStatistics reports counts per status
func (s *PostgresStore) CommandStatistics(ctx context.Context) (*CommandStats, error) {
	rows, err := s.getDB().QueryContext(ctx,
		`SELECT status, COUNT(*) FROM pending_commands GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &CommandStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}

		switch models.CommandStatus(status) {
		case models.CommandStatusPending:
			stats.Pending = count
		case models.CommandStatusProcessing:
			stats.Processing = count
		case models.CommandStatusCompleted:
			stats.Completed = count
		case models.CommandStatusFailed:
			stats.Failed = count
		case models.CommandStatusCancelled:
			stats.Cancelled = count
		}
	}

	err = s.getDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_commands WHERE status = 'pending' AND priority <= 3`,
	).Scan(&stats.HighPriorityPending)
	if err != nil {
		return nil, err
	}

	return stats, nil
}
