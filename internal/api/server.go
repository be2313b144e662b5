// Package api provides the HTTP surface: the web front end, the JSON
// status API, and the provider webhook.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	types "github.com/sebas/dialdesk/api/types/v1"
	"github.com/sebas/dialdesk/internal/dialer"
	"github.com/sebas/dialdesk/internal/phone"
	"github.com/sebas/dialdesk/internal/store"
)

// Server serves the dialer web UI, the status API, and the provider
// webhook on a single listener.
type Server struct {
	addr       string
	httpServer *http.Server
	service    dialer.CallService
	sessions   *store.SessionStore
	records    store.RecordRepository
	templates  *Templates
	startTime  time.Time
}

// NewServer creates the HTTP server.
func NewServer(addr string, service dialer.CallService, sessions *store.SessionStore, records store.RecordRepository) (*Server, error) {
	templates, err := NewTemplates()
	if err != nil {
		return nil, err
	}

	s := &Server{
		addr:      addr,
		service:   service,
		sessions:  sessions,
		records:   records,
		templates: templates,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()

	// Web front end
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/initiate_call", s.handleInitiateCall)
	mux.HandleFunc("/calls/", s.handleCallPage)

	// JSON API
	mux.HandleFunc("/api/v1/calls/", s.handleCallStatus)
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/records", s.handleRecords)

	// Provider webhook
	mux.HandleFunc("/api/v1/provider/events", s.handleProviderEvents)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s, nil
}

// Handler returns the root handler. Used in tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	slog.Info("[API] Starting HTTP server", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("[API] Server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// --- Web front end ---

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.renderIndex(w, "")
}

func (s *Server) renderIndex(w http.ResponseWriter, errMsg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.RenderIndex(w, IndexData{Error: errMsg}); err != nil {
		slog.Error("[API] Failed to render index", "error", err)
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
	}
}

// handleInitiateCall accepts the dial form (or a JSON client) and
// starts a call. Browsers get a redirect to the progress page; API
// clients get 201 with the session ID.
func (s *Server) handleInitiateCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "malformed form data")
		return
	}
	number := r.PostFormValue("phone_number")

	snap, err := s.service.InitiateCall(r.Context(), number)
	if err != nil {
		msg := "invalid phone number"
		if errors.Is(err, phone.ErrMissingInput) {
			msg = "phone number is required"
		}
		s.writeError(w, r, http.StatusBadRequest, msg)
		return
	}

	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		s.encode(w, types.InitiateCallResponse{
			CallSID: snap.SessionID,
			Status:  snap.State.String(),
		})
		return
	}

	http.Redirect(w, r, "/calls/"+snap.SessionID, http.StatusSeeOther)
}

// handleCallPage renders the live progress page for a session.
func (s *Server) handleCallPage(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/calls/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		http.NotFound(w, r)
		return
	}

	snap, err := s.service.GetStatus(sessionID)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := CallData{
		SessionID:   snap.SessionID,
		PhoneNumber: snap.PhoneNumber,
		State:       snap.State.String(),
		Error:       snap.Error,
	}
	if err := s.templates.RenderCall(w, data); err != nil {
		slog.Error("[API] Failed to render call page", "error", err)
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
	}
}

// --- JSON API ---

// handleCallStatus returns the current state of a session.
// GET /api/v1/calls/{session_id}
func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/api/v1/calls/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		s.writeError(w, r, http.StatusBadRequest, "session ID required")
		return
	}

	snap, err := s.service.GetStatus(sessionID)
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, "call session not found")
		return
	}

	s.writeJSON(w, types.CallStatusResponse{
		CallSID:        snap.SessionID,
		State:          snap.State.String(),
		ProviderCallID: snap.ProviderCallID,
		Error:          snap.Error,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, types.HealthResponse{
		Status: "ok",
		Uptime: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var totalRecords int64
	if s.records != nil {
		n, err := s.records.Count(r.Context())
		if err != nil {
			slog.Error("[API] Failed to count records", "error", err)
		} else {
			totalRecords = n
		}
	}

	s.writeJSON(w, types.StatsResponse{
		TotalSessions:  s.sessions.Count(),
		ActiveSessions: s.sessions.ActiveCount(),
		TotalRecords:   totalRecords,
	})
}

// handleRecords lists recent call records.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.records == nil {
		s.writeJSON(w, []*store.CallRecord{})
		return
	}

	recs, err := s.records.ListRecent(r.Context(), 50)
	if err != nil {
		slog.Error("[API] Failed to list records", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "failed to list records")
		return
	}
	if recs == nil {
		recs = []*store.CallRecord{}
	}
	s.writeJSON(w, recs)
}

// --- Provider webhook ---

// handleProviderEvents accepts status callbacks from the provider.
// Always answers 204: the provider retries on errors, and a failed
// lookup here is not something a retry can fix.
func (s *Server) handleProviderEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		slog.Debug("[API] Malformed provider event", "error", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	callSID := r.PostFormValue("CallSid")
	status := r.PostFormValue("CallStatus")
	if callSID == "" || status == "" {
		slog.Debug("[API] Provider event missing fields", "call_sid", callSID, "status", status)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.service.HandleProviderEvent(callSID, status)
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

// wantsJSON reports whether the client asked for a JSON response.
func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json")
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	s.encode(w, v)
}

func (s *Server) encode(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode JSON", "error", err)
	}
}

// writeError replies with JSON for API clients and re-renders the form
// with an inline message for browsers.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	if wantsJSON(r) || strings.HasPrefix(r.URL.Path, "/api/") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		s.encode(w, types.ErrorResponse{Error: msg})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := s.templates.RenderIndex(w, IndexData{Error: msg}); err != nil {
		slog.Error("[API] Failed to render index", "error", err)
	}
}
