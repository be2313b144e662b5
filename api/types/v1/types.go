// Package types defines shared API types for the dialer service.
package types

// InitiateCallResponse is the response from POST /initiate_call.
type InitiateCallResponse struct {
	CallSID string `json:"call_sid"`
	Status  string `json:"status"`
}

// CallStatusResponse is the response from /api/v1/calls/{session_id}.
type CallStatusResponse struct {
	CallSID        string `json:"call_sid"`
	State          string `json:"state"`
	ProviderCallID string `json:"provider_call_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response from /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime"`
}

// StatsResponse is the response from /api/v1/stats.
type StatsResponse struct {
	TotalSessions  int   `json:"total_sessions"`
	ActiveSessions int   `json:"active_sessions"`
	TotalRecords   int64 `json:"total_records"`
}
