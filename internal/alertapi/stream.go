package alertapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleStream serves alert events over SSE. Delivery is best-effort by
// contract: a client that connects late reconciles via GET /alerts, and
// a client that falls behind simply misses events.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		a.writeError(w, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := a.hub.Subscribe(0)
	defer sub.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		case al, open := <-sub.C():
			if !open {
				return
			}
			payload, err := json.Marshal(al)
			if err != nil {
				a.logger.Error(r.Context(), err, "failed to marshal alert event", "alert_id", al.ID)
				continue
			}
			fmt.Fprintf(w, "event: alert\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
