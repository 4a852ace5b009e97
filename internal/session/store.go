package session

import (
	"context"
	"time"
)

// Store persists sessions.
//
// Put commits the whole session atomically. A session with Version 0 is
// created and fails with ErrAlreadyExists if the id is taken; otherwise the
// stored version must equal s.Version or Put fails with ErrVersionConflict.
// On success s.Version holds the new version.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	// Sweep evicts sessions idle at now and returns them marked expired.
	// Stores with native expiry return nothing.
	Sweep(ctx context.Context, now time.Time) ([]*Session, error)
	Ping(ctx context.Context) error
	Close() error
}
