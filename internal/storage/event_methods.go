package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evoacs/acs-server/internal/models"
)

// ========== Event Log Methods ==========

// CreateEventLog creates an event log entry
func (s *PostgresStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO event_logs (
            id, created_at, device_id, session_id, command_id,
            type, level, description, details
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.getDB().ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.DeviceID, event.SessionID,
		event.CommandID, event.Type, event.Level, event.Description,
		event.Details,
	)

	return err
}

// ListEventLogs lists event logs matching the filters
func (s *PostgresStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	var conditions []string
	var args []interface{}

	addCondition := func(column string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if filters.DeviceID != nil {
		addCondition("device_id", *filters.DeviceID)
	}
	if filters.SessionID != nil {
		addCondition("session_id", *filters.SessionID)
	}
	if filters.CommandID != nil {
		addCondition("command_id", *filters.CommandID)
	}
	if filters.Type != nil {
		addCondition("type", *filters.Type)
	}
	if filters.Level != nil {
		addCondition("level", *filters.Level)
	}
	if filters.StartTime != nil {
		args = append(args, *filters.StartTime)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filters.EndTime != nil {
		args = append(args, *filters.EndTime)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var count int64
	err := s.getDB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM event_logs"+where, args...,
	).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
        SELECT id, created_at, device_id, session_id, command_id,
               type, level, description, details
        FROM event_logs%s
        ORDER BY created_at DESC
        LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*models.EventLog
	for rows.Next() {
		event := &models.EventLog{}
		var eventType, level string

		err := rows.Scan(
			&event.ID, &event.CreatedAt, &event.DeviceID, &event.SessionID,
			&event.CommandID, &eventType, &level, &event.Description,
			&event.Details,
		)
		if err != nil {
			return nil, 0, err
		}

		event.Type = models.EventType(eventType)
		event.Level = models.EventLevel(level)
		events = append(events, event)
	}

	return events, count, nil
}
