package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vigilanteye/core"
)

// AppendAlert inserts an alert for an existing event.
func (s *SQLite) AppendAlert(ctx context.Context, a core.NewAlert) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	res, err := s.WriteDB.ExecContext(ctx,
		`INSERT INTO alerts (log_id, rule_name, message, priority, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.LogID, a.RuleName, a.Message, a.Priority, formatTime(time.Now()),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return 0, fmt.Errorf("%w: %d", ErrEventNotFound, a.LogID)
		}
		return 0, fmt.Errorf("failed to insert alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read alert id: %w", err)
	}
	return id, nil
}

// ListAlerts returns every alert, newest id first.
func (s *SQLite) ListAlerts(ctx context.Context) ([]core.Alert, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.queryAlerts(ctx,
		`SELECT id, log_id, rule_name, message, priority, created_at FROM alerts ORDER BY id DESC`)
}

// AlertsForEvent returns the alerts referencing logID, newest first.
func (s *SQLite) AlertsForEvent(ctx context.Context, logID int64) ([]core.Alert, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.queryAlerts(ctx,
		`SELECT id, log_id, rule_name, message, priority, created_at FROM alerts WHERE log_id = ? ORDER BY id DESC`, logID)
}

func (s *SQLite) queryAlerts(ctx context.Context, query string, args ...any) ([]core.Alert, error) {
	rows, err := s.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]core.Alert, 0)
	for rows.Next() {
		var (
			a         core.Alert
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.LogID, &a.RuleName, &a.Message, &a.Priority, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.CreatedAt = parseTime(createdAt)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}
