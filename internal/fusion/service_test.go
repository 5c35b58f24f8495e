package fusion

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/wardwatch/internal/alert"
	"github.com/linnemanlabs/wardwatch/internal/alertstore/memstore"
	"github.com/linnemanlabs/wardwatch/internal/publish"
	"github.com/linnemanlabs/wardwatch/internal/rules"
	"github.com/linnemanlabs/wardwatch/internal/vitals"
)

func newTestService(store *memstore.Store, pub publish.Publisher) *Service {
	return NewService(store, NewEngine(store, nil, nil, nil, EngineHooks{}), pub, nil, nil)
}

func TestSubmit_RejectsMissingPatientID(t *testing.T) {
	t.Parallel()

	svc := newTestService(memstore.New(), nil)
	_, err := svc.Submit(context.Background(), Submission{
		Patient: alert.Patient{ID: "   "},
		Text:    "temp 38.2C",
	})
	if err == nil {
		t.Fatal("expected an error for a blank patient id")
	}
	if !strings.Contains(err.Error(), "patient id") {
		t.Errorf("error = %q, want it to name the patient id", err)
	}
}

func TestSubmit_RejectsEmptySubmission(t *testing.T) {
	t.Parallel()

	svc := newTestService(memstore.New(), nil)
	_, err := svc.Submit(context.Background(), Submission{
		Patient: alert.Patient{ID: "p-1"},
		Text:    "  ",
		Message: "\n",
	})
	if err == nil {
		t.Fatal("expected an error for an empty submission")
	}
}

func TestSubmit_ReceiptMatchesRuleScore(t *testing.T) {
	t.Parallel()

	svc := newTestService(memstore.New(), nil)

	spo2 := 95
	hr := 115
	rec := &vitals.Record{SpO2: &spo2, HeartRate: &hr}
	want := rules.Score(rec)

	receipt, err := svc.Submit(context.Background(), Submission{
		Patient: alert.Patient{ID: "p-2"},
		Vitals:  rec,
	})
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Score != want.Score {
		t.Errorf("receipt score = %d, want %d", receipt.Score, want.Score)
	}
	if receipt.Label != want.Label {
		t.Errorf("receipt label = %q, want %q", receipt.Label, want.Label)
	}
}

func TestSubmit_PersistsAlertAsynchronously(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newTestService(store, nil)

	spo2 := 86
	receipt, err := svc.Submit(context.Background(), Submission{
		Patient: alert.Patient{ID: "p-3", Name: "Ada"},
		Vitals:  &vitals.Record{SpO2: &spo2},
	})
	if err != nil {
		t.Fatal(err)
	}
	if receipt == nil {
		t.Fatal("nil receipt")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		alerts, err := store.RecentForPatient(context.Background(), "p-3", 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(alerts) == 1 {
			if alerts[0].Level != alert.LevelEmergency {
				t.Errorf("level = %q, want %q", alerts[0].Level, alert.LevelEmergency)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("alert never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubmit_ExtractsFromFreeText(t *testing.T) {
	t.Parallel()

	svc := newTestService(memstore.New(), nil)

	receipt, err := svc.Submit(context.Background(), Submission{
		Patient: alert.Patient{ID: "p-4"},
		Text:    "72 year old, temp 39.4C, HR 132, BP 98/60",
	})
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Score == 0 {
		t.Error("extraction from free text produced a zero score")
	}
}

func TestDecide_RunsInline(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newTestService(store, nil)

	spo2 := 86
	got := svc.Decide(context.Background(), Submission{
		Patient: alert.Patient{ID: "p-5"},
		Vitals:  &vitals.Record{SpO2: &spo2},
	})
	if got == nil {
		t.Fatal("Decide returned nil")
	}
	if got.Level != alert.LevelEmergency {
		t.Errorf("level = %q, want %q", got.Level, alert.LevelEmergency)
	}

	stored, ok, err := store.Get(context.Background(), got.ID)
	if err != nil || !ok {
		t.Fatalf("alert not stored: ok=%v err=%v", ok, err)
	}
	if stored.ID != got.ID {
		t.Errorf("stored id = %q, want %q", stored.ID, got.ID)
	}
}

func TestLifecycleMutationsPublish(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	pub := &capturePublisher{}
	svc := newTestService(store, pub)

	spo2 := 86
	a := svc.Decide(context.Background(), Submission{
		Patient: alert.Patient{ID: "p-6"},
		Vitals:  &vitals.Record{SpO2: &spo2},
	})
	if a == nil {
		t.Fatal("Decide returned nil")
	}
	before := pub.count()

	acked, ok, err := svc.Acknowledge(context.Background(), a.ID, "nurse-1")
	if err != nil || !ok {
		t.Fatalf("Acknowledge: ok=%v err=%v", ok, err)
	}
	if acked.Status != alert.StatusAcknowledged {
		t.Errorf("status = %q, want %q", acked.Status, alert.StatusAcknowledged)
	}
	if acked.AssignedTo != "nurse-1" {
		t.Errorf("assigned to %q, want %q", acked.AssignedTo, "nurse-1")
	}
	if acked.AcknowledgedAt.IsZero() {
		t.Error("AcknowledgedAt not stamped")
	}

	assigned, ok, err := svc.Assign(context.Background(), a.ID, "dr-lee")
	if err != nil || !ok {
		t.Fatalf("Assign: ok=%v err=%v", ok, err)
	}
	if assigned.Status != alert.StatusInProgress {
		t.Errorf("status = %q, want %q", assigned.Status, alert.StatusInProgress)
	}

	unassigned, ok, err := svc.Unassign(context.Background(), a.ID)
	if err != nil || !ok {
		t.Fatalf("Unassign: ok=%v err=%v", ok, err)
	}
	if unassigned.AssignedTo != "" {
		t.Errorf("assignee = %q, want cleared", unassigned.AssignedTo)
	}

	resolved, ok, err := svc.Resolve(context.Background(), a.ID, "dr-lee", "reviewed at bedside")
	if err != nil || !ok {
		t.Fatalf("Resolve: ok=%v err=%v", ok, err)
	}
	if resolved.Status != alert.StatusResolved {
		t.Errorf("status = %q, want %q", resolved.Status, alert.StatusResolved)
	}
	if resolved.ResolutionNotes != "reviewed at bedside" {
		t.Errorf("notes = %q", resolved.ResolutionNotes)
	}
	if resolved.ResolvedAt.IsZero() {
		t.Error("ResolvedAt not stamped")
	}

	if got := pub.count() - before; got != 4 {
		t.Errorf("mutations published %d events, want 4", got)
	}
}

func TestMutation_UnknownID(t *testing.T) {
	t.Parallel()

	pub := &capturePublisher{}
	svc := newTestService(memstore.New(), pub)

	_, ok, err := svc.Acknowledge(context.Background(), "no-such-id", "nurse-1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("acknowledge of an unknown id reported ok")
	}
	if pub.count() != 0 {
		t.Errorf("published %d events for a missed mutation, want 0", pub.count())
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newTestService(store, nil)

	spo2 := 86
	if a := svc.Decide(context.Background(), Submission{
		Patient: alert.Patient{ID: "p-7"},
		Vitals:  &vitals.Record{SpO2: &spo2},
	}); a == nil {
		t.Fatal("Decide returned nil")
	}

	if err := svc.Clear(context.Background()); err != nil {
		t.Fatal(err)
	}
	all, err := svc.Recent(context.Background(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("store holds %d alerts after clear, want 0", len(all))
	}
}
