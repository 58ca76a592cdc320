package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/evoacs/acs-server/internal/models"
)

// ========== Session Methods ==========

const sessionColumns = `
    id, device_id, cookie, status, message_id, device_ip,
    started_at, last_activity, ended_at, timeout_seconds`

// CreateSession creates a new session
func (s *PostgresStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}

	query := `
        INSERT INTO sessions (
            id, device_id, cookie, status, message_id, device_ip,
            started_at, last_activity, ended_at, timeout_seconds
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.getDB().ExecContext(ctx, query,
		session.ID, session.DeviceID, session.Cookie, session.Status,
		session.MessageID, session.DeviceIP, session.StartedAt,
		session.LastActivity, session.EndedAt, session.TimeoutSeconds,
	)

	return err
}

func (s *PostgresStore) scanSession(row interface{ Scan(...interface{}) error }) (*models.Session, error) {
	session := &models.Session{}
	var status string

	err := row.Scan(
		&session.ID, &session.DeviceID, &session.Cookie, &status,
		&session.MessageID, &session.DeviceIP, &session.StartedAt,
		&session.LastActivity, &session.EndedAt, &session.TimeoutSeconds,
	)
	if err != nil {
		return nil, err
	}

	session.Status = models.SessionStatus(status)
	return session, nil
}

// GetSession gets a session by ID
func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	session, err := s.scanSession(s.getDB().QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return session, nil
}

// GetActiveSessionByCookie gets the active session matching a device and
// correlation cookie. Returns (nil, nil) when there is none.
func (s *PostgresStore) GetActiveSessionByCookie(ctx context.Context, deviceID uuid.UUID, cookie string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + `
        FROM sessions
        WHERE device_id = $1 AND cookie = $2 AND status = 'active'
        ORDER BY last_activity DESC
        LIMIT 1`

	session, err := s.scanSession(s.getDB().QueryRowContext(ctx, query, deviceID, cookie))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return session, nil
}

// GetLatestActiveSession gets the most recently active session for a
// device. Returns (nil, nil) when there is none.
func (s *PostgresStore) GetLatestActiveSession(ctx context.Context, deviceID uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + `
        FROM sessions
        WHERE device_id = $1 AND status = 'active'
        ORDER BY last_activity DESC
        LIMIT 1`

	session, err := s.scanSession(s.getDB().QueryRowContext(ctx, query, deviceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return session, nil
}

// TouchSession updates last_activity. The update only applies while the
// session is still active, so a touch cannot race a concurrent close.
func (s *PostgresStore) TouchSession(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result, err := s.getDB().ExecContext(ctx,
		`UPDATE sessions SET last_activity = $2 WHERE id = $1 AND status = 'active'`,
		id, now,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// CloseSession terminates a session. Closing a session that is already
// terminal is a no-op, reported as false.
func (s *PostgresStore) CloseSession(ctx context.Context, id uuid.UUID, status models.SessionStatus, now time.Time) (bool, error) {
	result, err := s.getDB().ExecContext(ctx,
		`UPDATE sessions SET status = $2, ended_at = $3
         WHERE id = $1 AND status IN ('active', 'closing')`,
		id, status, now,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// CloseTimedOutSessions closes every active session whose inter-message
// timeout has elapsed, in a single conditional update.
func (s *PostgresStore) CloseTimedOutSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.getDB().ExecContext(ctx,
		`UPDATE sessions SET status = 'timeout', ended_at = $1
         WHERE status = 'active'
           AND last_activity + (timeout_seconds * interval '1 second') <= $1`,
		now,
	)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// IncrementSessionMessage advances the per-session message counter
func (s *PostgresStore) IncrementSessionMessage(ctx context.Context, id uuid.UUID) (int, error) {
	var messageID int
	err := s.getDB().QueryRowContext(ctx,
		`UPDATE sessions SET message_id = message_id + 1 WHERE id = $1 RETURNING message_id`,
		id,
	).Scan(&messageID)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	return messageID, nil
}

// CountSessionsByStatus returns session counts per status
func (s *PostgresStore) CountSessionsByStatus(ctx context.Context) (map[models.SessionStatus]int64, error) {
	rows, err := s.getDB().QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.SessionStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[models.SessionStatus(status)] = count
	}

	return counts, nil
}

// AppendSessionCommand appends a command to a session's FIFO list
func (s *PostgresStore) AppendSessionCommand(ctx context.Context, cmd *models.SessionCommand) error {
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO session_commands (id, session_id, type, parameters, task_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING seq`

	return s.getDB().QueryRowContext(ctx, query,
		cmd.ID, cmd.SessionID, cmd.Type, cmd.Parameters, cmd.TaskID, cmd.CreatedAt,
	).Scan(&cmd.Seq)
}

// PopSessionCommand removes and returns the head of a session's command
// list. Returns (nil, nil) when the list is empty. SKIP LOCKED keeps two
// concurrent exchanges from popping the same entry.
func (s *PostgresStore) PopSessionCommand(ctx context.Context, sessionID uuid.UUID) (*models.SessionCommand, error) {
	query := `
        DELETE FROM session_commands
        WHERE id = (
            SELECT id FROM session_commands
            WHERE session_id = $1
            ORDER BY seq
            FOR UPDATE SKIP LOCKED
            LIMIT 1
        )
        RETURNING id, session_id, seq, type, parameters, task_id, created_at`

	cmd := &models.SessionCommand{}
	var cmdType string

	err := s.getDB().QueryRowContext(ctx, query, sessionID).Scan(
		&cmd.ID, &cmd.SessionID, &cmd.Seq, &cmdType,
		&cmd.Parameters, &cmd.TaskID, &cmd.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cmd.Type = models.CommandType(cmdType)
	return cmd, nil
}
