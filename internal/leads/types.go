package leads

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("lead not found")
	ErrInvalidLead   = errors.New("invalid lead")
	ErrUnknownDriver = errors.New("unknown archive driver")
)

// Lead is one completed conversation.
type Lead struct {
	// ID is the completion correlation id.
	ID              string
	SessionID       string
	Name            string
	Phone           string
	Email           string
	LegalArea       string
	Urgency         string
	Situation       string
	ConfidenceScore float64
	CompletedAt     time.Time
	// Data holds every extracted field, including ones without a column.
	Data map[string]string
}

// Validate checks the fields the archive keys on.
func (l Lead) Validate() error {
	if l.ID == "" {
		return errors.Join(ErrInvalidLead, errors.New("id is required"))
	}
	if l.SessionID == "" {
		return errors.Join(ErrInvalidLead, errors.New("session_id is required"))
	}
	if l.CompletedAt.IsZero() {
		return errors.Join(ErrInvalidLead, errors.New("completed_at is required"))
	}
	return nil
}

// Filter narrows List.
type Filter struct {
	LegalArea string
	Since     *time.Time
	Limit     int
	Offset    int
}

// Failure is a stored dead letter.
type Failure struct {
	CorrelationID string
	SessionID     string
	Sink          string
	Attempts      int
	LastError     string
	Payload       []byte
	FailedAt      time.Time
}
