package alertapi

import (
	"encoding/json"
	"net/http"

	"github.com/linnemanlabs/wardwatch/internal/alert"
	"github.com/linnemanlabs/wardwatch/internal/fusion"
	"github.com/linnemanlabs/wardwatch/internal/vitals"
)

// ingestRequest is one block of clinical data from the upstream
// workflow. Vitals, when present, skip extraction.
type ingestRequest struct {
	Patient alert.Patient  `json:"patient"`
	Text    string         `json:"text,omitempty"`
	Message string         `json:"message,omitempty"`
	Vitals  *vitals.Record `json:"vitals,omitempty"`
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	receipt, err := a.svc.Submit(r.Context(), fusion.Submission{
		Patient: req.Patient,
		Text:    req.Text,
		Message: req.Message,
		Vitals:  req.Vitals,
	})
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// the paging decision itself runs detached; the submitter only gets
	// the scoring receipt
	a.writeJSON(w, http.StatusAccepted, receipt)
}
