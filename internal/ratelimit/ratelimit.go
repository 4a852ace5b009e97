package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Defaults match the conversation flow: the 11th message inside a minute is
// rejected.
const (
	DefaultWindow = time.Minute
	DefaultLimit  = 10
)

// ErrInvalidConfig is returned for a non-positive window or limit.
var ErrInvalidConfig = errors.New("ratelimit: invalid config")

// Config configures a limiter.
type Config struct {
	Window time.Duration
	Limit  int
}

// Validate checks the window and limit.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidConfig, c.Window)
	}
	if c.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidConfig, c.Limit)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.Limit == 0 {
		c.Limit = DefaultLimit
	}
	return c
}
