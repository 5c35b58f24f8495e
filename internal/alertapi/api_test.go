package alertapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/wardwatch/internal/alert"
	"github.com/linnemanlabs/wardwatch/internal/alertstore"
	"github.com/linnemanlabs/wardwatch/internal/alertstore/memstore"
	"github.com/linnemanlabs/wardwatch/internal/fusion"
	"github.com/linnemanlabs/wardwatch/internal/publish"
)

func newTestService(store alertstore.Store) *fusion.Service {
	engine := fusion.NewEngine(store, nil, nil, nil, fusion.EngineHooks{})
	return fusion.NewService(store, engine, nil, nil, nil)
}

func newTestRouter(t *testing.T, token string) (chi.Router, alertstore.Store) {
	t.Helper()
	store := memstore.New()
	api := New(nil, newTestService(store), publish.NewHub(nil), token)
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r, store
}

func pushAlert(t *testing.T, store alertstore.Store, a *alert.Alert) *alert.Alert {
	t.Helper()
	stored, err := store.Push(context.Background(), a)
	if err != nil {
		t.Fatalf("push alert: %v", err)
	}
	return stored
}

// New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, newTestService(memstore.New()), nil, "")
	if api == nil {
		t.Fatal("New returned nil API")
	}
	if api.logger == nil {
		t.Fatal("New left logger nil; expected Nop logger")
	}
}

func TestNew_WithLogger(t *testing.T) {
	t.Parallel()

	api := New(log.Nop(), newTestService(memstore.New()), nil, "")
	if api == nil {
		t.Fatal("New returned nil API")
	}
	if api.logger == nil {
		t.Fatal("New left logger nil")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil, nil, \"\") did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil, nil, "")
}

// Routing

func TestRegisterRoutes_Ingest(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, "")

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{"POST valid submission", http.MethodPost, `{"patient":{"id":"p-1","name":"Rosa Delgado"},"text":"HR 92, feeling dizzy"}`, http.StatusAccepted},
		{"POST invalid JSON", http.MethodPost, `{bad`, http.StatusBadRequest},
		{"POST empty submission", http.MethodPost, `{"patient":{"id":"p-1"}}`, http.StatusBadRequest},
		{"POST missing patient", http.MethodPost, `{"text":"HR 92"}`, http.StatusBadRequest},
		{"GET not allowed", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"PUT not allowed", http.MethodPut, "", http.StatusMethodNotAllowed},
		{"DELETE not allowed", http.MethodDelete, "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tt.method, "/api/v1/ingest", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("%s /api/v1/ingest = %d, want %d", tt.method, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_NotFound(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, "")

	paths := []string{
		"/",
		"/api/v1",
		"/api/v2/alerts",
		"/api/v1/unknown",
		"/api/v1/patients/p-1",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != http.StatusNotFound {
				t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusNotFound)
			}
		})
	}
}

// Ingest logic

func TestHandleIngest_ReturnsReceipt(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, "")

	body := `{
		"patient": {"id": "p-7", "name": "Ines Navarro"},
		"text": "Day 2 post appendectomy. HR 118, RR 24, temp 38.1 C. Short of breath."
	}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var receipt fusion.Receipt
	if err := json.NewDecoder(rec.Body).Decode(&receipt); err != nil {
		t.Fatalf("failed to decode receipt: %v", err)
	}
	if receipt.Score <= 0 {
		t.Errorf("receipt score = %d, want > 0 for tachycardic febrile post-op patient", receipt.Score)
	}
	if receipt.Label == "" {
		t.Error("receipt label is empty")
	}
}

func TestHandleIngest_PersistsAlertAsync(t *testing.T) {
	t.Parallel()

	r, store := newTestRouter(t, "")

	// Structured vitals with SpO2 below the safety floor: the detached
	// decision must persist an emergency alert.
	body := `{
		"patient": {"id": "p-9", "name": "Marco Leone"},
		"text": "struggling",
		"vitals": {"spo2": 86}
	}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	// Give the detached evaluation a moment to land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		alerts, err := store.RecentForPatient(context.Background(), "p-9", 10)
		if err != nil {
			t.Fatalf("recent for patient: %v", err)
		}
		if len(alerts) == 1 {
			if alerts[0].Level != alert.LevelEmergency {
				t.Errorf("level = %q, want %q", alerts[0].Level, alert.LevelEmergency)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("alert never persisted, have %d", len(alerts))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Listing and lookup

func TestHandleListAlerts(t *testing.T) {
	t.Parallel()

	r, store := newTestRouter(t, "")
	pushAlert(t, store, &alert.Alert{Level: alert.LevelPriority, Patient: alert.Patient{ID: "p-1"}})
	pushAlert(t, store, &alert.Alert{Level: alert.LevelNormal, Patient: alert.Patient{ID: "p-2"}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Alerts []*alert.Alert `json:"alerts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Alerts) != 2 {
		t.Errorf("alerts = %d, want 2", len(resp.Alerts))
	}
}

func TestHandleListAlerts_StatusFilter(t *testing.T) {
	t.Parallel()

	r, store := newTestRouter(t, "")
	a := pushAlert(t, store, &alert.Alert{Level: alert.LevelPriority, Patient: alert.Patient{ID: "p-1"}})
	pushAlert(t, store, &alert.Alert{Level: alert.LevelNormal, Patient: alert.Patient{ID: "p-2"}})
	if _, _, err := alertstore.Acknowledge(context.Background(), store, a.ID, "nurse-3"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts?status=acknowledged", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Alerts []*alert.Alert `json:"alerts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(resp.Alerts))
	}
	if resp.Alerts[0].ID != a.ID {
		t.Errorf("id = %q, want %q", resp.Alerts[0].ID, a.ID)
	}
}

func TestHandleListAlerts_BadInputs(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, "")

	tests := []struct {
		name string
		url  string
	}{
		{"unknown status", "/api/v1/alerts?status=bogus"},
		{"non-numeric limit", "/api/v1/alerts?limit=abc"},
		{"zero limit", "/api/v1/alerts?limit=0"},
		{"negative limit", "/api/v1/alerts?limit=-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, tt.url, http.NoBody)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("GET %s = %d, want %d", tt.url, rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleGetAlert(t *testing.T) {
	t.Parallel()

	r, store := newTestRouter(t, "")
	a := pushAlert(t, store, &alert.Alert{Level: alert.LevelEmergency, Patient: alert.Patient{ID: "p-4"}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts/"+a.ID, http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var got alert.Alert
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("id = %q, want %q", got.ID, a.ID)
	}
	if got.Level != alert.LevelEmergency {
		t.Errorf("level = %q, want %q", got.Level, alert.LevelEmergency)
	}
}

func TestHandleGetAlert_NotFound(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts/nope", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandlePatientAlerts_CaseInsensitive(t *testing.T) {
	t.Parallel()

	r, store := newTestRouter(t, "")
	pushAlert(t, store, &alert.Alert{Level: alert.LevelPriority, Patient: alert.Patient{ID: "Ward-12-Bed-3"}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/ward-12-bed-3/alerts", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Alerts []*alert.Alert `json:"alerts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Alerts) != 1 {
		t.Errorf("alerts = %d, want 1 (case-insensitive patient match)", len(resp.Alerts))
	}
}

// Lifecycle mutations

func TestHandleAcknowledge(t *testing.T) {
	t.Parallel()

	r, store := newTestRouter(t, "")
	a := pushAlert(t, store, &alert.Alert{Level: alert.LevelPriority, Patient: alert.Patient{ID: "p-1"}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/"+a.ID+"/ack", strings.NewReader(`{"actor":"nurse-3"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var got alert.Alert
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != alert.StatusAcknowledged {
		t.Errorf("status = %q, want %q", got.Status, alert.StatusAcknowledged)
	}
	if got.AssignedTo != "nurse-3" {
		t.Errorf("assignedTo = %q, want %q", got.AssignedTo, "nurse-3")
	}
	if got.AcknowledgedAt.IsZero() {
		t.Error("acknowledgedAt was not stamped")
	}
}

func TestHandleAcknowledge_EmptyBody(t *testing.T) {
	t.Parallel()

	r, store := newTestRouter(t, "")
	a := pushAlert(t, store, &alert.Alert{Level: alert.LevelPriority, Patient: alert.Patient{ID: "p-1"}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/"+a.ID+"/ack", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// an anonymous acknowledgment is allowed
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleResolve_WithNotes(t *testing.T) {
	t.Parallel()

	r, store := newTestRouter(t, "")
	a := pushAlert(t, store, &alert.Alert{Level: alert.LevelEmergency, Patient: alert.Patient{ID: "p-2"}})

	body := `{"actor":"dr-lopez","notes":"patient stabilized, transferred to ICU"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/"+a.ID+"/resolve", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var got alert.Alert
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != alert.StatusResolved {
		t.Errorf("status = %q, want %q", got.Status, alert.StatusResolved)
	}
	if got.ResolutionNotes != "patient stabilized, transferred to ICU" {
		t.Errorf("resolutionNotes = %q", got.ResolutionNotes)
	}
	if got.ResolvedAt.IsZero() {
		t.Error("resolvedAt was not stamped")
	}
}

func TestHandleAssign_RequiresActor(t *testing.T) {
	t.Parallel()

	r, store := newTestRouter(t, "")
	a := pushAlert(t, store, &alert.Alert{Level: alert.LevelPriority, Patient: alert.Patient{ID: "p-3"}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/"+a.ID+"/assign", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleUnassign(t *testing.T) {
	t.Parallel()

	r, store := newTestRouter(t, "")
	a := pushAlert(t, store, &alert.Alert{
		Level:      alert.LevelPriority,
		Patient:    alert.Patient{ID: "p-3"},
		AssignedTo: "nurse-1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/"+a.ID+"/unassign", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var got alert.Alert
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.AssignedTo != "" {
		t.Errorf("assignedTo = %q, want empty", got.AssignedTo)
	}
}

func TestHandleMutation_NotFound(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, "")

	paths := []string{
		"/api/v1/alerts/missing/ack",
		"/api/v1/alerts/missing/resolve",
		"/api/v1/alerts/missing/unassign",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, path, http.NoBody)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != http.StatusNotFound {
				t.Errorf("POST %s = %d, want %d", path, rec.Code, http.StatusNotFound)
			}
		})
	}
}

func TestHandleClear(t *testing.T) {
	t.Parallel()

	r, store := newTestRouter(t, "")
	pushAlert(t, store, &alert.Alert{Level: alert.LevelPriority, Patient: alert.Patient{ID: "p-1"}})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/alerts", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	alerts, err := store.Recent(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("alerts after clear = %d, want 0", len(alerts))
	}
}

// Auth gating

func TestMutations_RequireToken(t *testing.T) {
	t.Parallel()

	r, store := newTestRouter(t, "secret-token")
	a := pushAlert(t, store, &alert.Alert{Level: alert.LevelPriority, Patient: alert.Patient{ID: "p-1"}})

	// Unauthenticated mutation is rejected.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/"+a.ID+"/ack", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated ack = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	// Reads stay open.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/alerts", http.NoBody)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("unauthenticated list = %d, want %d", rec.Code, http.StatusOK)
	}

	// The right token gets through.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/alerts/"+a.ID+"/ack", http.NoBody)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated ack = %d, want %d", rec.Code, http.StatusOK)
	}
}

// Streaming

func TestHandleStream_DisabledWithoutHub(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	api := New(nil, newTestService(store), nil, "")
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts/stream", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleStream_DeliversEvents(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	hub := publish.NewHub(nil)
	api := New(nil, newTestService(store), hub, "")
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/alerts/stream", http.NoBody)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("content-type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}

	// Publish once the subscriber is registered.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(context.Background(), &alert.Alert{ID: "a-1", Level: alert.LevelEmergency})

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	event := string(buf[:n])
	if !strings.Contains(event, "event: alert") {
		t.Errorf("stream output %q missing event header", event)
	}
	if !strings.Contains(event, `"a-1"`) {
		t.Errorf("stream output %q missing alert payload", event)
	}
}

// Fuzz

func FuzzIngest(f *testing.F) {
	store := memstore.New()
	api := New(nil, newTestService(store), nil, "")
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	seeds := []struct {
		body        []byte
		contentType string
	}{
		{nil, ""},
		{[]byte(""), "application/json"},
		{[]byte("{}"), "application/json"},
		{[]byte(`{"patient":{"id":"p-1"},"text":"HR 92"}`), "application/json"},
		{[]byte(`{"patient":{"id":"p-1"},"vitals":{"spo2":86}}`), "application/json"},
		{[]byte("{invalid json"), "application/json"},
		{[]byte("\x00\x01\x02\xff\xfe"), "application/octet-stream"},
		{[]byte("<xml>not json</xml>"), "text/xml"},
		{[]byte(strings.Repeat("a", 10000)), "text/plain"},
	}
	for _, s := range seeds {
		f.Add(s.body, s.contentType)
	}

	f.Fuzz(func(t *testing.T, body []byte, contentType string) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(string(body)))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		rec := httptest.NewRecorder()

		// Must not panic
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusAccepted && rec.Code != http.StatusBadRequest {
			t.Errorf("POST /api/v1/ingest with body len=%d content-type=%q = %d, want 202 or 400",
				len(body), contentType, rec.Code)
		}
	})
}
