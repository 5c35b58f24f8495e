// Package alertapi exposes the alerting subsystem over HTTP. It is a
// thin layer: every decision lives in the fusion service and the store.
package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/wardwatch/internal/alert"
	"github.com/linnemanlabs/wardwatch/internal/authmw"
	"github.com/linnemanlabs/wardwatch/internal/fusion"
	"github.com/linnemanlabs/wardwatch/internal/publish"
)

// AlertService defines the business operations alertapi needs.
type AlertService interface {
	Submit(ctx context.Context, sub fusion.Submission) (*fusion.Receipt, error)
	Get(ctx context.Context, id string) (*alert.Alert, bool, error)
	Recent(ctx context.Context, status alert.Status, limit int) ([]*alert.Alert, error)
	RecentForPatient(ctx context.Context, patientID string, limit int) ([]*alert.Alert, error)
	Acknowledge(ctx context.Context, id, actor string) (*alert.Alert, bool, error)
	Resolve(ctx context.Context, id, actor, notes string) (*alert.Alert, bool, error)
	Assign(ctx context.Context, id, assignee string) (*alert.Alert, bool, error)
	Unassign(ctx context.Context, id string) (*alert.Alert, bool, error)
	Clear(ctx context.Context) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    AlertService
	hub    *publish.Hub
	token  string
}

// New creates a new API handler. hub may be nil, which disables the
// stream endpoint. token gates the mutating routes; empty disables auth.
func New(logger log.Logger, svc AlertService, hub *publish.Hub, token string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("alert service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		hub:    hub,
		token:  token,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", a.handleIngest)
		r.Get("/alerts", a.handleListAlerts)
		r.Get("/alerts/stream", a.handleStream)
		r.Get("/alerts/{id}", a.handleGetAlert)
		r.Get("/patients/{id}/alerts", a.handlePatientAlerts)

		r.Group(func(r chi.Router) {
			r.Use(authmw.BearerToken(a.token))
			r.Post("/alerts/{id}/ack", a.handleAcknowledge)
			r.Post("/alerts/{id}/resolve", a.handleResolve)
			r.Post("/alerts/{id}/assign", a.handleAssign)
			r.Post("/alerts/{id}/unassign", a.handleUnassign)
			r.Delete("/alerts", a.handleClear)
		})
	})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}
