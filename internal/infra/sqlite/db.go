// Package sqlite provides SQLite-based persistent storage for the gateway's
// request audit log. Uses WAL mode for concurrent reads and crash-safe
// writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// AuditEntry is one recorded gateway request.
type AuditEntry struct {
	RequestID  string
	Principal  string
	Endpoint   string
	StatusCode int
	LatencyMs  int64
	At         time.Time
}

// Open creates or opens the SQLite database at dir/audit.db. Enables WAL
// mode, foreign keys, and a 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "audit.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS request_audit (
			request_id   TEXT PRIMARY KEY,
			principal    TEXT NOT NULL,
			endpoint     TEXT NOT NULL,
			status_code  INTEGER NOT NULL,
			latency_ms   INTEGER NOT NULL,
			at           INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_at ON request_audit(at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_principal ON request_audit(principal)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Request Audit Log ──────────────────────────────────────────────────────

// RecordRequest inserts one audit entry. Duplicate request IDs are ignored
// rather than erroring, since a client retrying a request it believes failed
// to record should not crash the audit write path.
func (d *DB) RecordRequest(e AuditEntry) error {
	_, err := d.db.Exec(
		`INSERT INTO request_audit (request_id, principal, endpoint, status_code, latency_ms, at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(request_id) DO NOTHING`,
		e.RequestID, e.Principal, e.Endpoint, e.StatusCode, e.LatencyMs, e.At.Unix(),
	)
	return err
}

// Stats summarises the audit log for the /v1/stats endpoint.
type Stats struct {
	TotalRequests   int64
	ErrorCount      int64
	AvgLatencyMs    float64
	RequestsByUser  map[string]int64
}

// Stats computes aggregate request statistics since the given time.
func (d *DB) Stats(since time.Time) (Stats, error) {
	out := Stats{RequestsByUser: map[string]int64{}}

	row := d.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0), COALESCE(AVG(latency_ms), 0)
		 FROM request_audit WHERE at >= ?`, since.Unix(),
	)
	if err := row.Scan(&out.TotalRequests, &out.ErrorCount, &out.AvgLatencyMs); err != nil {
		return Stats{}, err
	}

	rows, err := d.db.Query(
		`SELECT principal, COUNT(*) FROM request_audit WHERE at >= ? GROUP BY principal`, since.Unix(),
	)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var user string
		var count int64
		if err := rows.Scan(&user, &count); err != nil {
			return Stats{}, err
		}
		out.RequestsByUser[user] = count
	}
	return out, rows.Err()
}

// RecentForPrincipal returns the most recent n audit entries for a
// principal, newest first.
func (d *DB) RecentForPrincipal(principal string, n int) ([]AuditEntry, error) {
	rows, err := d.db.Query(
		`SELECT request_id, principal, endpoint, status_code, latency_ms, at
		 FROM request_audit WHERE principal = ? ORDER BY at DESC LIMIT ?`, principal, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var at int64
		if err := rows.Scan(&e.RequestID, &e.Principal, &e.Endpoint, &e.StatusCode, &e.LatencyMs, &at); err != nil {
			return nil, err
		}
		e.At = time.Unix(at, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}
