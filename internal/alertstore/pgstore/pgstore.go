// Package pgstore provides a PostgreSQL implementation of
// alertstore.Store for deployments that already run Postgres.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/wardwatch/internal/alert"
	"github.com/linnemanlabs/wardwatch/internal/alertstore"
)

var tracer = otel.Tracer("github.com/linnemanlabs/wardwatch/internal/alertstore/pgstore")

//go:embed schema.sql
var schema string

// Store persists alerts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const alertColumns = `id, level, patient_id, patient_name, reason, score, source, status,
	assigned_to, resolution_notes, created_at, updated_at, acknowledged_at, resolved_at`

// Push persists the alert and evicts rows past capacity in one
// transaction.
func (s *Store) Push(ctx context.Context, a *alert.Alert) (*alert.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Push", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	cp := *a
	alertstore.Normalize(&cp, time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`INSERT INTO alerts (`+alertColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		cp.ID, string(cp.Level), cp.Patient.ID, cp.Patient.Name, cp.Reason, cp.Score,
		string(cp.Source), string(cp.Status), cp.AssignedTo, cp.ResolutionNotes,
		cp.CreatedAt, cp.UpdatedAt, nullable(cp.AcknowledgedAt), nullable(cp.ResolvedAt),
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("insert alert: %w", err))
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM alerts WHERE id NOT IN (
			SELECT id FROM alerts ORDER BY created_at DESC, id DESC LIMIT $1
		)`, alertstore.Capacity)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("compact alerts: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, spanErr(span, fmt.Errorf("commit: %w", err))
	}
	return &cp, nil
}

// Get retrieves an alert by ID.
func (s *Store) Get(ctx context.Context, id string) (*alert.Alert, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	row := s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanErr(span, err)
	}
	return a, true, nil
}

// Recent returns up to limit alerts, newest first, optionally filtered
// by status.
func (s *Store) Recent(ctx context.Context, status alert.Status, limit int) ([]*alert.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Recent", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	if limit <= 0 || limit > alertstore.Capacity {
		limit = alertstore.Capacity
	}

	var (
		rows pgx.Rows
		err  error
	)
	if status != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+alertColumns+` FROM alerts WHERE status = $1
			 ORDER BY created_at DESC, id DESC LIMIT $2`, string(status), limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+alertColumns+` FROM alerts
			 ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query alerts: %w", err))
	}
	return collect(span, rows)
}

// RecentForPatient returns up to limit alerts for a patient, newest
// first, matching identity case-insensitively.
func (s *Store) RecentForPatient(ctx context.Context, patientID string, limit int) ([]*alert.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgstore.RecentForPatient", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	if limit <= 0 || limit > alertstore.Capacity {
		limit = alertstore.Capacity
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE lower(patient_id) = lower($1)
		 ORDER BY created_at DESC, id DESC LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query alerts: %w", err))
	}
	return collect(span, rows)
}

// LatestForPatient returns the most recent alert of the given level for
// a patient.
func (s *Store) LatestForPatient(ctx context.Context, patientID string, level alert.Level) (*alert.Alert, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.LatestForPatient", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT `+alertColumns+` FROM alerts
		 WHERE lower(patient_id) = lower($1) AND level = $2
		 ORDER BY created_at DESC, id DESC LIMIT 1`, patientID, string(level))
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanErr(span, err)
	}
	return a, true, nil
}

// Apply merges upd into the stored alert under a row lock.
func (s *Store) Apply(ctx context.Context, id string, upd alertstore.Update) (*alert.Alert, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Apply", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, spanErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	row := tx.QueryRow(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = $1 FOR UPDATE`, id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanErr(span, err)
	}

	alertstore.Merge(a, upd, time.Now())

	_, err = tx.Exec(ctx,
		`UPDATE alerts SET status = $1, assigned_to = $2, resolution_notes = $3,
			updated_at = $4, acknowledged_at = $5, resolved_at = $6
		 WHERE id = $7`,
		string(a.Status), a.AssignedTo, a.ResolutionNotes,
		a.UpdatedAt, nullable(a.AcknowledgedAt), nullable(a.ResolvedAt), id)
	if err != nil {
		return nil, false, spanErr(span, fmt.Errorf("update alert: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, spanErr(span, fmt.Errorf("commit: %w", err))
	}
	return a, true, nil
}

// Clear wipes the store.
func (s *Store) Clear(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "pgstore.Clear", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "DELETE"),
	))
	defer span.End()

	if _, err := s.pool.Exec(ctx, `DELETE FROM alerts`); err != nil {
		return spanErr(span, fmt.Errorf("clear alerts: %w", err))
	}
	return nil
}

func collect(span trace.Span, rows pgx.Rows) ([]*alert.Alert, error) {
	defer rows.Close()
	var out []*alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate alerts: %w", err))
	}
	return out, nil
}

func scanAlert(row pgx.Row) (*alert.Alert, error) {
	var (
		a                      alert.Alert
		level, source, status  string
		acknowledged, resolved *time.Time
	)
	err := row.Scan(
		&a.ID, &level, &a.Patient.ID, &a.Patient.Name, &a.Reason, &a.Score,
		&source, &status, &a.AssignedTo, &a.ResolutionNotes,
		&a.CreatedAt, &a.UpdatedAt, &acknowledged, &resolved,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Level = alert.Level(level)
	a.Source = alert.Source(source)
	a.Status = alert.Status(status)
	if acknowledged != nil {
		a.AcknowledgedAt = *acknowledged
	}
	if resolved != nil {
		a.ResolvedAt = *resolved
	}
	return &a, nil
}

// nullable converts a zero time to NULL for storage.
func nullable(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
