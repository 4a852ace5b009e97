package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// EvictHook runs for every session the sweeper evicts.
type EvictHook func(ctx context.Context, s *Session)

// Sweeper periodically evicts idle sessions from a Store.
type Sweeper struct {
	store    Store
	interval time.Duration
	hooks    []EvictHook
	logger   *zap.Logger
	now      func() time.Time
}

// NewSweeper creates a sweeper. A nil logger discards output.
func NewSweeper(store Store, interval time.Duration, logger *zap.Logger, hooks ...EvictHook) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		hooks:    hooks,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn("session sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce evicts idle sessions now and runs hooks for each.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	evicted, err := s.store.Sweep(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, sess := range evicted {
		for _, hook := range s.hooks {
			hook(ctx, sess)
		}
	}
	if len(evicted) > 0 {
		s.logger.Info("sessions expired", zap.Int("count", len(evicted)))
	}
	return len(evicted), nil
}
