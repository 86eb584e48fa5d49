package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite is the Event Store. Writes go through a single-connection pool so
// concurrent pipeline runs are serialized by database/sql; reads use a
// separate query-only pool that WAL mode lets run alongside the writer.
type SQLite struct {
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Path    string
	Logger  *zap.SugaredLogger

	closed atomic.Bool
}

// Pragmas are applied through the DSN so every pooled connection gets them,
// not only the first one handed out.
const basePragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

func buildDSN(dbPath string, readOnly bool) string {
	pragmas := basePragmas
	if readOnly {
		pragmas += "&_pragma=query_only(1)"
	}
	if dbPath == ":memory:" {
		return "file::memory:?cache=shared&" + pragmas
	}
	return dbPath + "?" + pragmas
}

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if dir := filepath.Dir(dbPath); dir != "." && dir != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	writeDB, err := sql.Open("sqlite", buildDSN(dbPath, false))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)
	writeDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := writeDB.Ping(); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	s := &SQLite{WriteDB: writeDB, Path: dbPath, Logger: logger}

	// Tables must exist before the query-only pool opens.
	if err := s.createTables(); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	readDB, err := sql.Open("sqlite", buildDSN(dbPath, true))
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	readDB.SetConnMaxIdleTime(10 * time.Minute)
	if err := readDB.Ping(); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to ping SQLite read pool: %w", err)
	}
	s.ReadDB = readDB

	logger.Infof("SQLite event store initialized at %s with separate read/write pools", dbPath)
	return s, nil
}

func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		message TEXT NOT NULL,
		ip_address TEXT,
		username TEXT,
		received_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		log_id INTEGER NOT NULL,
		rule_name TEXT NOT NULL,
		message TEXT NOT NULL,
		priority INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (log_id) REFERENCES events(id)
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_log_id ON alerts(log_id);
	`
	_, err := s.WriteDB.Exec(schema)
	return err
}

// Close releases both pools. Subsequent calls return ErrDatabaseClosed.
func (s *SQLite) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrDatabaseClosed
	}
	var firstErr error
	if s.ReadDB != nil {
		if err := s.ReadDB.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close read pool: %w", err)
		}
	}
	if err := s.WriteDB.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close write pool: %w", err)
	}
	return firstErr
}

// HealthCheck pings both pools.
func (s *SQLite) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return ErrDatabaseClosed
	}
	if err := s.WriteDB.PingContext(ctx); err != nil {
		return fmt.Errorf("write pool unhealthy: %w", err)
	}
	if err := s.ReadDB.PingContext(ctx); err != nil {
		return fmt.Errorf("read pool unhealthy: %w", err)
	}
	return nil
}

func (s *SQLite) checkOpen() error {
	if s.closed.Load() {
		return ErrDatabaseClosed
	}
	return nil
}

// validateDatabasePath rejects traversal, null bytes and absolute paths
// outside the temp directory.
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if dbPath == ":memory:" {
		return nil
	}
	if len(dbPath) > 512 {
		return fmt.Errorf("database path exceeds maximum length of 512 characters")
	}
	if strings.Contains(dbPath, "\x00") {
		return fmt.Errorf("null bytes not allowed in path")
	}
	if strings.Contains(dbPath, "..") {
		return fmt.Errorf("path traversal not allowed (..): %s", dbPath)
	}
	if strings.ContainsAny(dbPath, "?#") {
		return fmt.Errorf("query characters not allowed in path: %s", dbPath)
	}
	if filepath.IsAbs(dbPath) && !strings.HasPrefix(filepath.Clean(dbPath), filepath.Clean(os.TempDir())) {
		return fmt.Errorf("absolute paths not allowed: %s", dbPath)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
