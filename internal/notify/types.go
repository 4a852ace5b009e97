package notify

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueFull        = errors.New("notification queue full")
	ErrDispatcherClosed = errors.New("dispatcher closed")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrSinkRejected     = errors.New("sink rejected notification")
	ErrInvalidPayload   = errors.New("invalid notification payload")
)

// Payload is the notification for one completed lead.
type Payload struct {
	CorrelationID   string            `json:"correlation_id"`
	SessionID       string            `json:"session_id"`
	Phone           string            `json:"phone"`
	Message         string            `json:"message"`
	Summary         string            `json:"summary"`
	Lead            map[string]string `json:"lead"`
	ConfidenceScore float64           `json:"confidence_score"`
	CompletedAt     time.Time         `json:"completed_at"`
}

// Validate checks the fields every sink relies on.
func (p Payload) Validate() error {
	switch {
	case p.CorrelationID == "":
		return errors.Join(ErrInvalidPayload, errors.New("correlation_id is required"))
	case p.SessionID == "":
		return errors.Join(ErrInvalidPayload, errors.New("session_id is required"))
	}
	return nil
}

// Sink sends one notification. Send must honor ctx.
type Sink interface {
	Name() string
	Send(ctx context.Context, p Payload) error
}

// DeliveryState is the outcome of a notification so far.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
)

// Delivery is the observable record of one notification.
type Delivery struct {
	CorrelationID string        `json:"correlation_id"`
	SessionID     string        `json:"session_id"`
	Sink          string        `json:"sink"`
	State         DeliveryState `json:"state"`
	Attempts      int           `json:"attempts"`
	LastError     string        `json:"last_error,omitempty"`
	QueuedAt      time.Time     `json:"queued_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// DeadLetter is a permanently failed notification.
type DeadLetter struct {
	Delivery Delivery
	Payload  Payload
}

// FailureRecorder persists dead letters.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, dl DeadLetter) error
}
