package conversation

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/leadflow/internal/leads"
	"github.com/fyrsmithlabs/leadflow/internal/notify"
	"github.com/fyrsmithlabs/leadflow/internal/session"
)

// ResponseType tags every response.
type ResponseType string

const (
	ResponseNormal      ResponseType = "web_intelligent"
	ResponseRateLimited ResponseType = "rate_limited"
	ResponseRecovery    ResponseType = "error_recovery"
	ResponseSystemError ResponseType = "system_error"
	ResponseGreeting    ResponseType = "personalized_greeting"
)

// Request is one inbound chat message.
type Request struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// Response is always chat-shaped, whatever happened during the turn.
type Response struct {
	SessionID         string            `json:"session_id"`
	Response          string            `json:"response"`
	ResponseType      ResponseType      `json:"response_type"`
	FlowCompleted     bool              `json:"flow_completed"`
	ConfidenceScore   float64           `json:"confidence_score"`
	State             session.State     `json:"state,omitempty"`
	ExtractedData     map[string]string `json:"extracted_data"`
	CorrelationID     string            `json:"correlation_id"`
	RetryAfterSeconds int               `json:"retry_after_seconds,omitempty"`
}

// Completed reports the completion predicate callers rely on.
func (r Response) Completed() bool {
	return r.FlowCompleted && r.ConfidenceScore >= 1.0 && r.State == session.StateCompleted
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	SessionID       string                        `json:"session_id"`
	State           session.State                 `json:"state"`
	ExtractedData   map[string]session.FieldValue `json:"extracted_data"`
	ConfidenceScore float64                       `json:"confidence_score"`
	FlowCompleted   bool                          `json:"flow_completed"`
	MessageCount    int                           `json:"message_count"`
	CreatedAt       time.Time                     `json:"created_at"`
	LastActivityAt  time.Time                     `json:"last_activity_at"`
	CompletedAt     *time.Time                    `json:"completed_at,omitempty"`
	ErrorContext    *session.ErrorContext         `json:"error_context,omitempty"`
	Notification    *notify.Delivery              `json:"notification,omitempty"`
}

// RateLimiter gates inbound messages per session.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Locker serializes turns per session.
type Locker interface {
	Acquire(ctx context.Context, id string) (func(), error)
}

// Notifier hands completed leads off the request path.
type Notifier interface {
	Dispatch(ctx context.Context, p notify.Payload) error
	Status(correlationID string) (notify.Delivery, bool)
}

// Archive stores completed leads.
type Archive interface {
	Save(ctx context.Context, l leads.Lead) error
}

// Redactor strips personal data from free text.
type Redactor interface {
	Redact(text string) string
}

// MergePolicy decides whether a re-extracted field replaces the stored one.
type MergePolicy string

const (
	MergeGreaterOrEqual  MergePolicy = "greater_or_equal"
	MergeStrictlyGreater MergePolicy = "strictly_greater"
)

func (p MergePolicy) replaces(prev, next float64) bool {
	if p == MergeStrictlyGreater {
		return next > prev
	}
	return next >= prev
}
