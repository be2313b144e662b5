package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	types "github.com/sebas/dialdesk/api/types/v1"
	"github.com/sebas/dialdesk/internal/call"
	"github.com/sebas/dialdesk/internal/dialer"
	"github.com/sebas/dialdesk/internal/phone"
	"github.com/sebas/dialdesk/internal/store"
)

// fakeService is a scripted CallService for handler tests.
type fakeService struct {
	mu        sync.Mutex
	snapshots map[string]*call.Snapshot
	events    []string
}

func newFakeService() *fakeService {
	return &fakeService{snapshots: make(map[string]*call.Snapshot)}
}

func (f *fakeService) InitiateCall(ctx context.Context, rawNumber string) (*call.Snapshot, error) {
	number, err := phone.Normalize(rawNumber)
	if err != nil {
		return nil, err
	}
	snap := &call.Snapshot{
		SessionID:      "sess-1",
		PhoneNumber:    number,
		ProviderCallID: "CA1",
		State:          call.StateDialing,
	}
	f.mu.Lock()
	f.snapshots[snap.SessionID] = snap
	f.mu.Unlock()
	return snap, nil
}

func (f *fakeService) HandleProviderEvent(providerCallID, status string) {
	f.mu.Lock()
	f.events = append(f.events, providerCallID+":"+status)
	f.mu.Unlock()
}

func (f *fakeService) GetStatus(sessionID string) (*call.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snapshots[sessionID]
	if !ok {
		return nil, dialer.ErrSessionNotFound
	}
	return snap, nil
}

func newTestServer(t *testing.T) (*Server, *fakeService) {
	t.Helper()
	svc := newFakeService()
	sessions := store.NewSessionStore(store.DefaultSessionStoreConfig())
	t.Cleanup(sessions.Close)

	srv, err := NewServer("127.0.0.1:0", svc, sessions, store.NewMemoryRecords())
	if err != nil {
		t.Fatal(err)
	}
	return srv, svc
}

func postForm(handler http.Handler, path string, form url.Values, accept string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestInitiateCallBrowserRedirect(t *testing.T) {
	srv, _ := newTestServer(t)

	form := url.Values{"phone_number": {"+14255551234"}}
	w := postForm(srv.Handler(), "/initiate_call", form, "")

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/calls/sess-1" {
		t.Errorf("Location = %q", loc)
	}
}

func TestInitiateCallJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	form := url.Values{"phone_number": {"+14255551234"}}
	w := postForm(srv.Handler(), "/initiate_call", form, "application/json")

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}

	var resp types.InitiateCallResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.CallSID != "sess-1" || resp.Status != "dialing" {
		t.Errorf("response = %+v", resp)
	}
}

func TestInitiateCallInvalidNumber(t *testing.T) {
	srv, _ := newTestServer(t)

	form := url.Values{"phone_number": {"garbage"}}
	w := postForm(srv.Handler(), "/initiate_call", form, "application/json")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	var resp types.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == "" {
		t.Error("error body is empty")
	}
}

func TestInitiateCallInvalidNumberBrowser(t *testing.T) {
	srv, _ := newTestServer(t)

	form := url.Values{"phone_number": {""}}
	w := postForm(srv.Handler(), "/initiate_call", form, "text/html")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "phone number is required") {
		t.Error("form page does not show the validation message")
	}
}

func TestCallStatus(t *testing.T) {
	srv, svc := newTestServer(t)
	if _, err := svc.InitiateCall(context.Background(), "+14255551234"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls/sess-1", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp types.CallStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.CallSID != "sess-1" || resp.State != "dialing" || resp.ProviderCallID != "CA1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestCallStatusNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls/nope", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestProviderEvents(t *testing.T) {
	srv, svc := newTestServer(t)

	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"ringing"}}
	w := postForm(srv.Handler(), "/api/v1/provider/events", form, "")

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	svc.mu.Lock()
	events := append([]string(nil), svc.events...)
	svc.mu.Unlock()
	if len(events) != 1 || events[0] != "CA1:ringing" {
		t.Errorf("events = %v", events)
	}
}

func TestProviderEventsMissingFields(t *testing.T) {
	srv, svc := newTestServer(t)

	// Incomplete events are acknowledged and dropped.
	w := postForm(srv.Handler(), "/api/v1/provider/events", url.Values{"CallSid": {"CA1"}}, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	svc.mu.Lock()
	n := len(svc.events)
	svc.mu.Unlock()
	if n != 0 {
		t.Errorf("incomplete event was forwarded")
	}
}

func TestCallPage(t *testing.T) {
	srv, svc := newTestServer(t)
	if _, err := svc.InitiateCall(context.Background(), "+14255551234"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/calls/sess-1", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "+14255551234") || !strings.Contains(body, "dialing") {
		t.Error("call page missing session details")
	}
}

func TestHealthAndStats(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	var health types.HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" {
		t.Errorf("health = %+v", health)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
}

func TestRecordsWithoutRepository(t *testing.T) {
	svc := newFakeService()
	sessions := store.NewSessionStore(store.DefaultSessionStoreConfig())
	t.Cleanup(sessions.Close)

	// Running without a database configured serves an empty list, like
	// the stats endpoint does.
	srv, err := NewServer("127.0.0.1:0", svc, sessions, nil)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var recs []*store.CallRecord
	if err := json.NewDecoder(w.Body).Decode(&recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("records = %+v, want empty list", recs)
	}
}

func TestIndexPage(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "phone_number") {
		t.Error("index page missing dial form")
	}
}
