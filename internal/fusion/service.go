package fusion

import (
	"context"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/wardwatch/internal/alert"
	"github.com/linnemanlabs/wardwatch/internal/alertstore"
	"github.com/linnemanlabs/wardwatch/internal/publish"
	"github.com/linnemanlabs/wardwatch/internal/rules"
	"github.com/linnemanlabs/wardwatch/internal/vitals"
)

// Submission is one block of clinical data handed in by the upstream
// workflow: free text, an optional patient message, and optionally
// pre-structured vitals that skip extraction.
type Submission struct {
	Patient alert.Patient
	Text    string
	Message string
	Vitals  *vitals.Record
}

// Receipt is the synchronous answer to a submission. The paging decision
// itself runs after the receipt is returned; its failure never reaches
// the submitter.
type Receipt struct {
	Score int         `json:"score"`
	Label rules.Label `json:"label"`
}

// Service is the business boundary for alerting operations. It owns
// extraction, scoring, the async hand-off to the engine, and the alert
// lifecycle mutations.
type Service struct {
	store     alertstore.Store
	engine    *Engine
	publisher publish.Publisher
	logger    log.Logger
	metrics   *Metrics
}

// NewService creates a new fusion service. publisher and metrics may be
// nil.
func NewService(store alertstore.Store, engine *Engine, publisher publish.Publisher, logger log.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:     store,
		engine:    engine,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// Submit accepts clinical data for a patient, scores it synchronously,
// and kicks off the paging decision fire-and-forget. The upstream
// workflow gets its receipt whether or not alerting later succeeds.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Receipt, error) {
	if strings.TrimSpace(sub.Patient.ID) == "" {
		s.countSubmit("rejected")
		return nil, xerrors.New("patient id is required")
	}
	if strings.TrimSpace(sub.Text) == "" && strings.TrimSpace(sub.Message) == "" && sub.Vitals == nil {
		s.countSubmit("rejected")
		return nil, xerrors.New("submission carries no text, message, or vitals")
	}

	rec := sub.Vitals
	if rec == nil {
		rec = vitals.Extract(strings.TrimSpace(sub.Text + "\n" + sub.Message))
	}
	rr := rules.Score(rec)

	// decision runs detached: its failure must never fail the caller
	go s.engine.Evaluate(context.WithoutCancel(ctx), Input{
		Patient: sub.Patient,
		Rule:    rr,
		Vitals:  rec,
		Message: sub.Message,
	})

	s.countSubmit("accepted")
	return &Receipt{Score: rr.Score, Label: rr.Label}, nil
}

// Decide runs the full pipeline synchronously and returns the resulting
// alert (or nil). Used by callers that need the decision inline.
func (s *Service) Decide(ctx context.Context, sub Submission) *alert.Alert {
	rec := sub.Vitals
	if rec == nil {
		rec = vitals.Extract(strings.TrimSpace(sub.Text + "\n" + sub.Message))
	}
	return s.engine.Evaluate(ctx, Input{
		Patient: sub.Patient,
		Rule:    rules.Score(rec),
		Vitals:  rec,
		Message: sub.Message,
	})
}

// Get retrieves an alert by ID.
func (s *Service) Get(ctx context.Context, id string) (*alert.Alert, bool, error) {
	return s.store.Get(ctx, id)
}

// Recent lists alerts newest first, optionally filtered by status.
func (s *Service) Recent(ctx context.Context, status alert.Status, limit int) ([]*alert.Alert, error) {
	return s.store.Recent(ctx, status, limit)
}

// RecentForPatient lists a patient's alerts newest first.
func (s *Service) RecentForPatient(ctx context.Context, patientID string, limit int) ([]*alert.Alert, error) {
	return s.store.RecentForPatient(ctx, patientID, limit)
}

// Acknowledge marks an alert acknowledged by actor and broadcasts the
// change.
func (s *Service) Acknowledge(ctx context.Context, id, actor string) (*alert.Alert, bool, error) {
	return s.mutated(ctx)(alertstore.Acknowledge(ctx, s.store, id, actor))
}

// Resolve closes an alert out and broadcasts the change.
func (s *Service) Resolve(ctx context.Context, id, actor, notes string) (*alert.Alert, bool, error) {
	return s.mutated(ctx)(alertstore.Resolve(ctx, s.store, id, actor, notes))
}

// Assign hands an alert to assignee and broadcasts the change.
func (s *Service) Assign(ctx context.Context, id, assignee string) (*alert.Alert, bool, error) {
	return s.mutated(ctx)(alertstore.Assign(ctx, s.store, id, assignee))
}

// Unassign clears an alert's assignee and broadcasts the change.
func (s *Service) Unassign(ctx context.Context, id string) (*alert.Alert, bool, error) {
	return s.mutated(ctx)(alertstore.Unassign(ctx, s.store, id))
}

// Clear wipes the alert store. Administrative/test use only.
func (s *Service) Clear(ctx context.Context) error {
	return s.store.Clear(ctx)
}

// mutated publishes a successful lifecycle mutation before passing the
// result through; the broadcast is best-effort by contract.
func (s *Service) mutated(ctx context.Context) func(*alert.Alert, bool, error) (*alert.Alert, bool, error) {
	return func(a *alert.Alert, ok bool, err error) (*alert.Alert, bool, error) {
		if err == nil && ok && s.publisher != nil {
			s.publisher.Publish(ctx, a)
		}
		return a, ok, err
	}
}

func (s *Service) countSubmit(result string) {
	if s.metrics != nil {
		s.metrics.SubmitsTotal.WithLabelValues(result).Inc()
	}
}
