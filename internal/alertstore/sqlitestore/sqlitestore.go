// Package sqlitestore provides an embedded, durable implementation of
// alertstore.Store on SQLite. Writes run with synchronous=FULL so every
// mutation is on disk before the call returns, and each push compacts
// the table down to the capacity bound.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/wardwatch/internal/alert"
	"github.com/linnemanlabs/wardwatch/internal/alertstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id               TEXT PRIMARY KEY,
	level            TEXT NOT NULL,
	patient_id       TEXT NOT NULL,
	patient_name     TEXT NOT NULL,
	reason           TEXT NOT NULL,
	score            INTEGER NOT NULL,
	source           TEXT NOT NULL,
	status           TEXT NOT NULL,
	assigned_to      TEXT NOT NULL DEFAULT '',
	resolution_notes TEXT NOT NULL DEFAULT '',
	created_ns       INTEGER NOT NULL,
	updated_ns       INTEGER NOT NULL,
	acknowledged_ns  INTEGER NOT NULL DEFAULT 0,
	resolved_ns      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_ns DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_patient ON alerts(patient_id COLLATE NOCASE, level, created_ns DESC);
`

// Store persists alerts in a single SQLite database file.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies the schema.
// An unreadable or corrupted file surfaces as an error here; the caller
// decides whether to fall back to an in-memory store.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// single writer; the driver serializes, this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	// probe: a corrupted file can open fine and fail on first read
	if _, err := db.Exec("SELECT count(*) FROM alerts"); err != nil {
		db.Close()
		return nil, fmt.Errorf("probe alerts table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close shuts down the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const alertColumns = `id, level, patient_id, patient_name, reason, score, source, status,
	assigned_to, resolution_notes, created_ns, updated_ns, acknowledged_ns, resolved_ns`

// Push persists the alert and evicts the oldest rows past capacity, in
// one transaction.
func (s *Store) Push(ctx context.Context, a *alert.Alert) (*alert.Alert, error) {
	cp := *a
	alertstore.Normalize(&cp, time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	_, err = tx.ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		cp.ID, string(cp.Level), cp.Patient.ID, cp.Patient.Name, cp.Reason, cp.Score,
		string(cp.Source), string(cp.Status), cp.AssignedTo, cp.ResolutionNotes,
		ns(cp.CreatedAt), ns(cp.UpdatedAt), ns(cp.AcknowledgedAt), ns(cp.ResolvedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}

	// keep the newest Capacity rows
	_, err = tx.ExecContext(ctx,
		`DELETE FROM alerts WHERE id NOT IN (
			SELECT id FROM alerts ORDER BY created_ns DESC, rowid DESC LIMIT ?
		)`, alertstore.Capacity)
	if err != nil {
		return nil, fmt.Errorf("compact alerts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &cp, nil
}

// Get retrieves an alert by ID.
func (s *Store) Get(ctx context.Context, id string) (*alert.Alert, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return a, true, nil
}

// Recent returns up to limit alerts, newest first, optionally filtered
// by status.
func (s *Store) Recent(ctx context.Context, status alert.Status, limit int) ([]*alert.Alert, error) {
	if limit <= 0 || limit > alertstore.Capacity {
		limit = alertstore.Capacity
	}
	query := `SELECT ` + alertColumns + ` FROM alerts`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_ns DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	return s.queryAlerts(ctx, query, args...)
}

// RecentForPatient returns up to limit alerts for a patient, newest
// first, matching identity case-insensitively.
func (s *Store) RecentForPatient(ctx context.Context, patientID string, limit int) ([]*alert.Alert, error) {
	if limit <= 0 || limit > alertstore.Capacity {
		limit = alertstore.Capacity
	}
	return s.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE patient_id = ? COLLATE NOCASE
		 ORDER BY created_ns DESC, rowid DESC LIMIT ?`, patientID, limit)
}

// LatestForPatient returns the most recent alert of the given level for
// a patient.
func (s *Store) LatestForPatient(ctx context.Context, patientID string, level alert.Level) (*alert.Alert, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts
		 WHERE patient_id = ? COLLATE NOCASE AND level = ?
		 ORDER BY created_ns DESC, rowid DESC LIMIT 1`, patientID, string(level))
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return a, true, nil
}

// Apply merges upd into the stored alert inside one transaction.
func (s *Store) Apply(ctx context.Context, id string, upd alertstore.Update) (*alert.Alert, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	row := tx.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	alertstore.Merge(a, upd, time.Now())

	_, err = tx.ExecContext(ctx,
		`UPDATE alerts SET status = ?, assigned_to = ?, resolution_notes = ?,
			updated_ns = ?, acknowledged_ns = ?, resolved_ns = ?
		 WHERE id = ?`,
		string(a.Status), a.AssignedTo, a.ResolutionNotes,
		ns(a.UpdatedAt), ns(a.AcknowledgedAt), ns(a.ResolvedAt), id)
	if err != nil {
		return nil, false, fmt.Errorf("update alert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return a, true, nil
}

// Clear wipes the store.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alerts`); err != nil {
		return fmt.Errorf("clear alerts: %w", err)
	}
	return nil
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]*alert.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []*alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (*alert.Alert, error) {
	var (
		a                          alert.Alert
		level, source, status      string
		createdNS, updatedNS       int64
		acknowledgedNS, resolvedNS int64
	)
	err := row.Scan(
		&a.ID, &level, &a.Patient.ID, &a.Patient.Name, &a.Reason, &a.Score,
		&source, &status, &a.AssignedTo, &a.ResolutionNotes,
		&createdNS, &updatedNS, &acknowledgedNS, &resolvedNS,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Level = alert.Level(level)
	a.Source = alert.Source(source)
	a.Status = alert.Status(status)
	a.CreatedAt = fromNS(createdNS)
	a.UpdatedAt = fromNS(updatedNS)
	a.AcknowledgedAt = fromNS(acknowledgedNS)
	a.ResolvedAt = fromNS(resolvedNS)
	return &a, nil
}

// ns converts a time to Unix nanoseconds, with 0 meaning unset.
func ns(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNS(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}
