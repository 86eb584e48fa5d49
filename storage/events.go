package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vigilanteye/core"
)

// AppendEvent inserts an event and returns the stored row, including its
// store-assigned id and received_at. The row is visible to reads as soon as
// this returns.
func (s *SQLite) AppendEvent(ctx context.Context, ev core.NewEvent) (core.Event, error) {
	if err := s.checkOpen(); err != nil {
		return core.Event{}, err
	}

	receivedAt := formatTime(time.Now())
	res, err := s.WriteDB.ExecContext(ctx,
		`INSERT INTO events (source, message, ip_address, username, received_at) VALUES (?, ?, ?, ?, ?)`,
		ev.Source, ev.Message, nullString(ev.IPAddress), nullString(ev.Username), receivedAt,
	)
	if err != nil {
		return core.Event{}, fmt.Errorf("failed to insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Event{}, fmt.Errorf("failed to read event id: %w", err)
	}
	return core.Event{
		ID:         id,
		Source:     ev.Source,
		Message:    ev.Message,
		IPAddress:  ev.IPAddress,
		Username:   ev.Username,
		ReceivedAt: parseTime(receivedAt),
	}, nil
}

// ListRecentEvents returns at most limit events, newest id first.
func (s *SQLite) ListRecentEvents(ctx context.Context, limit int) ([]core.Event, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	rows, err := s.ReadDB.QueryContext(ctx,
		`SELECT id, source, message, ip_address, username, received_at FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]core.Event, 0)
	for rows.Next() {
		var (
			ev         core.Event
			ip, user   sql.NullString
			receivedAt string
		)
		if err := rows.Scan(&ev.ID, &ev.Source, &ev.Message, &ip, &user, &receivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.IPAddress = ip.String
		ev.Username = user.String
		ev.ReceivedAt = parseTime(receivedAt)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// EventMessageLengths returns the character length of every stored message
// in insertion order. This is the anomaly baseline's training history.
func (s *SQLite) EventMessageLengths(ctx context.Context) ([]int, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.ReadDB.QueryContext(ctx, `SELECT length(message) FROM events ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query message lengths: %w", err)
	}
	defer rows.Close()

	lengths := make([]int, 0)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan message length: %w", err)
		}
		lengths = append(lengths, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message lengths: %w", err)
	}
	return lengths, nil
}

// CountEvents returns the number of stored events.
func (s *SQLite) CountEvents(ctx context.Context) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int64
	if err := s.ReadDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
