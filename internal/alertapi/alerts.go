package alertapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/wardwatch/internal/alert"
)

// defaultListLimit bounds unqualified list requests.
const defaultListLimit = 100

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	status := alert.Status(r.URL.Query().Get("status"))
	if status != "" && !alert.ValidStatus(status) {
		a.writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	alerts, err := a.svc.Recent(r.Context(), status, limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list alerts")
		a.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if alerts == nil {
		alerts = []*alert.Alert{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("wardwatch.alert.id", id))

	al, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get alert", "id", id)
		a.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		a.writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("wardwatch.alert.level", string(al.Level)))

	a.writeJSON(w, http.StatusOK, al)
}

func (a *API) handlePatientAlerts(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	alerts, err := a.svc.RecentForPatient(r.Context(), patientID, limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list patient alerts", "patient_id", patientID)
		a.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if alerts == nil {
		alerts = []*alert.Alert{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// actionRequest is the shared body for lifecycle mutations.
type actionRequest struct {
	Actor string `json:"actor"`
	Notes string `json:"notes,omitempty"`
}

func decodeAction(r *http.Request) actionRequest {
	var req actionRequest
	// an empty or invalid body means an anonymous action, not an error
	_ = json.NewDecoder(r.Body).Decode(&req)
	return req
}

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req := decodeAction(r)
	a.finishMutation(w, r, "acknowledge")(a.svc.Acknowledge(r.Context(), id, req.Actor))
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req := decodeAction(r)
	a.finishMutation(w, r, "resolve")(a.svc.Resolve(r.Context(), id, req.Actor, req.Notes))
}

func (a *API) handleAssign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req := decodeAction(r)
	if req.Actor == "" {
		a.writeError(w, http.StatusBadRequest, "actor is required for assignment")
		return
	}
	a.finishMutation(w, r, "assign")(a.svc.Assign(r.Context(), id, req.Actor))
}

func (a *API) handleUnassign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a.finishMutation(w, r, "unassign")(a.svc.Unassign(r.Context(), id))
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Clear(r.Context()); err != nil {
		a.logger.Error(r.Context(), err, "failed to clear alert store")
		a.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.logger.Warn(r.Context(), "alert store cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) finishMutation(w http.ResponseWriter, r *http.Request, op string) func(*alert.Alert, bool, error) {
	return func(al *alert.Alert, ok bool, err error) {
		if err != nil {
			a.logger.Error(r.Context(), err, "alert mutation failed", "op", op)
			a.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			a.writeError(w, http.StatusNotFound, "not found")
			return
		}
		a.writeJSON(w, http.StatusOK, al)
	}
}
