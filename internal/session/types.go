package session

import (
	"fmt"
	"maps"
	"time"
)

// State represents the lifecycle state of a session.
type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateError     State = "error"
	StateExpired   State = "expired"
)

// ValidTransitions defines allowed state transitions. Self transitions are
// listed where a turn may leave the state unchanged.
var ValidTransitions = map[State][]State{
	StateActive:    {StateActive, StateCompleted, StateError, StateExpired},
	StateError:     {StateError, StateActive, StateCompleted, StateExpired},
	StateCompleted: {StateCompleted, StateExpired},
	StateExpired:   {}, // absorbing
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition unless s may move to target.
func (s State) CheckTransition(target State) error {
	if !s.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, target)
	}
	return nil
}

// FaultKind classifies a per-turn fault.
type FaultKind string

const (
	FaultRateLimitExceeded   FaultKind = "RateLimitExceeded"
	FaultLockTimeout         FaultKind = "LockTimeout"
	FaultExtractionFailure   FaultKind = "ExtractionFailure"
	FaultStorageFailure      FaultKind = "StorageFailure"
	FaultNotificationFailure FaultKind = "NotificationDeliveryFailure"
	FaultInvalidTransition   FaultKind = "InvalidStateTransition"
)

// FieldValue is one extracted field with the confidence it was captured at.
type FieldValue struct {
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ErrorContext is the snapshot kept across a failed turn so the next turn
// resumes instead of restarting.
type ErrorContext struct {
	Kind          FaultKind             `json:"kind"`
	Message       string                `json:"message"`
	RecoveredFrom State                 `json:"recovered_from"`
	LastGoodData  map[string]FieldValue `json:"last_good_data,omitempty"`
	LastGoodScore float64               `json:"last_good_score"`
	OccurredAt    time.Time             `json:"occurred_at"`
}

// Session is the durable state of one conversation.
type Session struct {
	ID                      string                `json:"session_id"`
	State                   State                 `json:"state"`
	ExtractedData           map[string]FieldValue `json:"extracted_data"`
	ConfidenceScore         float64               `json:"confidence_score"`
	CreatedAt               time.Time             `json:"created_at"`
	LastActivityAt          time.Time             `json:"last_activity_at"`
	ErrorContext            *ErrorContext         `json:"error_context,omitempty"`
	Version                 int64                 `json:"version"`
	CompletedAt             *time.Time            `json:"completed_at,omitempty"`
	CompletionCorrelationID string                `json:"completion_correlation_id,omitempty"`
	MessageCount            int                   `json:"message_count"`
}

// New returns an unsaved active session.
func New(id string, now time.Time) *Session {
	return &Session{
		ID:             id,
		State:          StateActive,
		ExtractedData:  make(map[string]FieldValue),
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.ExtractedData = maps.Clone(s.ExtractedData)
	if c.ExtractedData == nil {
		c.ExtractedData = make(map[string]FieldValue)
	}
	if s.ErrorContext != nil {
		ec := *s.ErrorContext
		ec.LastGoodData = maps.Clone(s.ErrorContext.LastGoodData)
		c.ErrorContext = &ec
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Value returns the value of field, or "".
func (s *Session) Value(field string) string {
	return s.ExtractedData[field].Value
}

// Has reports whether field holds a non-empty value.
func (s *Session) Has(field string) bool {
	return s.ExtractedData[field].Value != ""
}

// IdleSince reports whether the session has been idle longer than ttl at now.
func (s *Session) IdleSince(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.LastActivityAt) > ttl
}
