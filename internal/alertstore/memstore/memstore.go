// Package memstore provides an in-memory implementation of
// alertstore.Store. Suitable for dev/testing; nothing survives restart.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/wardwatch/internal/alert"
	"github.com/linnemanlabs/wardwatch/internal/alertstore"
)

// Store holds alerts in memory, newest first, capped at
// alertstore.Capacity.
type Store struct {
	mu     sync.RWMutex
	alerts []*alert.Alert          // newest first
	byID   map[string]*alert.Alert // id -> element of alerts
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{byID: make(map[string]*alert.Alert)}
}

// Push persists a copy of the alert, evicting the oldest past capacity.
func (s *Store) Push(_ context.Context, a *alert.Alert) (*alert.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	alertstore.Normalize(&cp, time.Now())

	s.alerts = append([]*alert.Alert{&cp}, s.alerts...)
	s.byID[cp.ID] = &cp

	for len(s.alerts) > alertstore.Capacity {
		old := s.alerts[len(s.alerts)-1]
		delete(s.byID, old.ID)
		s.alerts = s.alerts[:len(s.alerts)-1]
	}

	out := cp
	return &out, nil
}

// Get retrieves an alert by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

// Recent returns up to limit alerts, newest first, optionally filtered
// by status.
func (s *Store) Recent(_ context.Context, status alert.Status, limit int) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*alert.Alert
	for _, a := range s.alerts {
		if status != "" && a.Status != status {
			continue
		}
		cp := *a
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// RecentForPatient returns up to limit alerts for a patient, newest
// first, matching identity case-insensitively.
func (s *Store) RecentForPatient(_ context.Context, patientID string, limit int) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*alert.Alert
	for _, a := range s.alerts {
		if !strings.EqualFold(a.Patient.ID, patientID) {
			continue
		}
		cp := *a
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// LatestForPatient returns the most recent alert of the given level for
// a patient.
func (s *Store) LatestForPatient(_ context.Context, patientID string, level alert.Level) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.alerts {
		if a.Level == level && strings.EqualFold(a.Patient.ID, patientID) {
			cp := *a
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// Apply merges upd into the stored alert.
func (s *Store) Apply(_ context.Context, id string, upd alertstore.Update) (*alert.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, false, nil
	}
	alertstore.Merge(a, upd, time.Now())
	cp := *a
	return &cp, true, nil
}

// Clear wipes the store.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = nil
	s.byID = make(map[string]*alert.Alert)
	return nil
}
