// Package alertstore defines the persistence interface for alert records
// and the merge semantics every backend shares. Backends live in
// subpackages: memstore (dev/tests), sqlitestore (embedded default), and
// pgstore (Postgres).
package alertstore

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/wardwatch/internal/alert"
)

// Capacity is the number of most recent alerts a store retains. Older
// records are evicted on push.
const Capacity = 2000

// Update is a partial merge applied to a stored alert. Nil fields are
// untouched.
type Update struct {
	Status          *alert.Status
	AssignedTo      *string
	ResolutionNotes *string
}

// Store is the persistence interface for alerts. Every mutation is
// synchronously durable before the call returns.
type Store interface {
	// Push persists a new alert, filling defaults for missing fields,
	// and returns the normalized record.
	Push(ctx context.Context, a *alert.Alert) (*alert.Alert, error)

	// Get retrieves an alert by ID.
	Get(ctx context.Context, id string) (*alert.Alert, bool, error)

	// Recent returns up to limit alerts, newest first, optionally
	// filtered by status ("" = all).
	Recent(ctx context.Context, status alert.Status, limit int) ([]*alert.Alert, error)

	// RecentForPatient returns up to limit alerts for a patient, newest
	// first. Patient identity matches case-insensitively.
	RecentForPatient(ctx context.Context, patientID string, limit int) ([]*alert.Alert, error)

	// LatestForPatient returns the most recent alert of the given level
	// for a patient. Used for cooldown lookups.
	LatestForPatient(ctx context.Context, patientID string, level alert.Level) (*alert.Alert, bool, error)

	// Apply merges upd into the stored alert. The bool result is false
	// when no alert with the ID exists.
	Apply(ctx context.Context, id string, upd Update) (*alert.Alert, bool, error)

	// Clear wipes the store. Administrative/test use only.
	Clear(ctx context.Context) error
}

// Normalize fills defaults on an alert about to be pushed: identifier,
// coerced level, valid status, timestamps. It mutates and returns a.
func Normalize(a *alert.Alert, now time.Time) *alert.Alert {
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}
	a.Level = alert.CoerceLevel(string(a.Level))
	if !alert.ValidStatus(a.Status) {
		a.Status = alert.StatusNew
	}
	if a.Source != alert.SourceFusion {
		a.Source = alert.SourceRules
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	return a
}

// Merge applies upd to a in place. Status changes only move forward, and
// AcknowledgedAt/ResolvedAt are stamped on first entry into the matching
// status, never overwritten. Invalid transitions are ignored rather than
// rejected.
func Merge(a *alert.Alert, upd Update, now time.Time) {
	if upd.Status != nil && alert.CanTransition(a.Status, *upd.Status) {
		a.Status = *upd.Status
		if a.Status == alert.StatusAcknowledged && a.AcknowledgedAt.IsZero() {
			a.AcknowledgedAt = now
		}
		if a.Status == alert.StatusResolved && a.ResolvedAt.IsZero() {
			a.ResolvedAt = now
		}
	}
	if upd.AssignedTo != nil {
		a.AssignedTo = *upd.AssignedTo
	}
	if upd.ResolutionNotes != nil {
		a.ResolutionNotes = *upd.ResolutionNotes
	}
	a.UpdatedAt = now
}

// Acknowledge marks the alert acknowledged by actor.
func Acknowledge(ctx context.Context, s Store, id, actor string) (*alert.Alert, bool, error) {
	st := alert.StatusAcknowledged
	return s.Apply(ctx, id, Update{Status: &st, AssignedTo: &actor})
}

// Resolve closes the alert out, recording the actor and optional notes.
func Resolve(ctx context.Context, s Store, id, actor, notes string) (*alert.Alert, bool, error) {
	st := alert.StatusResolved
	upd := Update{Status: &st}
	if actor != "" {
		upd.AssignedTo = &actor
	}
	if notes != "" {
		upd.ResolutionNotes = &notes
	}
	return s.Apply(ctx, id, upd)
}

// Assign hands the alert to assignee and marks it in progress.
func Assign(ctx context.Context, s Store, id, assignee string) (*alert.Alert, bool, error) {
	st := alert.StatusInProgress
	return s.Apply(ctx, id, Update{Status: &st, AssignedTo: &assignee})
}

// Unassign clears the assignee without touching status.
func Unassign(ctx context.Context, s Store, id string) (*alert.Alert, bool, error) {
	empty := ""
	return s.Apply(ctx, id, Update{AssignedTo: &empty})
}
