// Package alert defines the domain model for clinical alerts: the alert
// record itself, its triage level, and its lifecycle status.
package alert

import (
	"strings"
	"time"
)

// Level is the externally visible triage tier of an alert.
type Level string

const (
	LevelNormal    Level = "normal"
	LevelPriority  Level = "priority"
	LevelEmergency Level = "emergency"
)

// Status tracks where an alert is in its lifecycle.
type Status string

const (
	// StatusNew means created, not yet seen by a clinician.
	StatusNew Status = "new"

	// StatusAcknowledged means a clinician has taken ownership.
	StatusAcknowledged Status = "acknowledged"

	// StatusInProgress means the alert is being worked.
	StatusInProgress Status = "in_progress"

	// StatusResolved means the alert is closed out.
	StatusResolved Status = "resolved"
)

// Source records which pipeline produced the alert's reason text.
type Source string

const (
	// SourceRules means the reason came from deterministic rules alone.
	SourceRules Source = "rules"

	// SourceFusion means the reason was enriched by the message classifier.
	SourceFusion Source = "fusion"
)

// Patient identifies the patient an alert belongs to.
type Patient struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Alert is a persisted paging decision for a single patient.
// AcknowledgedAt and ResolvedAt are stamped exactly once, on first entry
// into the corresponding status.
type Alert struct {
	ID              string    `json:"id"`
	Level           Level     `json:"level"`
	Patient         Patient   `json:"patient"`
	Reason          string    `json:"reason"`
	Score           int       `json:"score"`
	Source          Source    `json:"source"`
	Status          Status    `json:"status"`
	AssignedTo      string    `json:"assigned_to,omitempty"`
	ResolutionNotes string    `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	AcknowledgedAt  time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt      time.Time `json:"resolved_at,omitempty"`
}

// ValidStatus reports whether s is one of the four lifecycle states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusNew, StatusAcknowledged, StatusInProgress, StatusResolved:
		return true
	}
	return false
}

// rank orders statuses for the monotonic-transition check.
func rank(s Status) int {
	switch s {
	case StatusNew:
		return 0
	case StatusAcknowledged, StatusInProgress:
		return 1
	case StatusResolved:
		return 2
	}
	return -1
}

// CanTransition reports whether moving from to next is allowed.
// Transitions only move forward: new -> acknowledged/in_progress -> resolved.
// Staying in place is allowed so repeated calls are idempotent.
func CanTransition(from, next Status) bool {
	if !ValidStatus(from) || !ValidStatus(next) {
		return false
	}
	return rank(next) >= rank(from)
}

// CoerceLevel maps an arbitrary level string onto the nearest Level.
// Store writes never reject a record over an unrecognized level; an
// alert with a mangled level is still more useful than a dropped one.
func CoerceLevel(s string) Level {
	v := strings.ToLower(strings.TrimSpace(s))
	switch Level(v) {
	case LevelNormal, LevelPriority, LevelEmergency:
		return Level(v)
	}
	for _, kw := range []string{"emerg", "crit", "sever", "urgent", "immediate"} {
		if strings.Contains(v, kw) {
			return LevelEmergency
		}
	}
	for _, kw := range []string{"prior", "high", "warn", "elevat", "moderate"} {
		if strings.Contains(v, kw) {
			return LevelPriority
		}
	}
	return LevelNormal
}
