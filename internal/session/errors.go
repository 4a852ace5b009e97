package session

import "errors"

// Store errors.
var (
	ErrNotFound        = errors.New("session not found")
	ErrAlreadyExists   = errors.New("session already exists")
	ErrVersionConflict = errors.New("session version conflict")
	ErrStoreClosed     = errors.New("session store closed")
)

// ErrLockTimeout is returned when a session lock cannot be acquired in time.
var ErrLockTimeout = errors.New("session lock timeout")

// ErrInvalidTransition is returned when a state change is not in
// ValidTransitions.
var ErrInvalidTransition = errors.New("invalid session state transition")

// ErrInvalidID is returned for malformed session ids.
var ErrInvalidID = errors.New("invalid session id")
