// Package ratelimit implements a fixed-window request limiter keyed by
// client and route.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// Config is the limiter policy: at most Max requests per key per Window.
type Config struct {
	Window time.Duration `yaml:"window" mapstructure:"window"`
	Max    int           `yaml:"max" mapstructure:"max"`
}

// DefaultConfig allows 30 requests per minute.
var DefaultConfig = Config{Window: time.Minute, Max: 30}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Count      int64
	Max        int
	RetryAfter int // whole seconds until the window resets
}

// Limiter applies a Config over a counter Store.
type Limiter struct {
	store Store
	cfg   Config
}

// New creates a Limiter. Zero fields in cfg take DefaultConfig values.
func New(store Store, cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig.Window
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultConfig.Max
	}
	return &Limiter{store: store, cfg: cfg}
}

// Config returns the effective policy.
func (l *Limiter) Config() Config { return l.cfg }

// Allow counts one request for key and reports whether it is within policy.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	c, err := l.store.Incr(ctx, key, l.cfg.Window)
	if err != nil {
		return Decision{Allowed: true, Max: l.cfg.Max}, eris.Wrapf(err, "ratelimit: allow %s", key)
	}
	d := Decision{
		Allowed: c.Count <= int64(l.cfg.Max),
		Count:   c.Count,
		Max:     l.cfg.Max,
	}
	if !d.Allowed {
		d.RetryAfter = retryAfter(c.Remaining)
	}
	return d, nil
}

// retryAfter rounds remaining up to whole seconds, never below one.
func retryAfter(remaining time.Duration) int {
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
