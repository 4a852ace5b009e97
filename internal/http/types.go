package http

import "github.com/fyrsmithlabs/leadflow/internal/notify"

// StartRequest is the body of POST /api/v1/conversation/start.
type StartRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// RespondRequest is the body of POST /api/v1/conversation/respond.
type RespondRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// ResetResponse is the body returned by POST /api/v1/conversation/reset.
type ResetResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// ErrorResponse is the body of every non-chat error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Services map[string]string `json:"services"`
	Notify   *NotifyStatus     `json:"notify,omitempty"`
}

// NotifyStatus reports the dispatcher as seen by the health check.
type NotifyStatus struct {
	Sink       string              `json:"sink"`
	Breaker    notify.BreakerState `json:"breaker"`
	QueueDepth int                 `json:"queue_depth"`
}
