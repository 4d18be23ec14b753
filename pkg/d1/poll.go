package d1

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultPollAttempts = 60
	defaultPollInitial  = time.Second
	defaultPollCap      = 30 * time.Second
)

// NotImporting is the poll error D1 reports once no import is in flight.
const NotImporting = "Not currently importing anything."

// ErrPollExhausted is returned when the import is still running after the
// last poll attempt.
var ErrPollExhausted = eris.New("d1: import still running after max poll attempts")

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	attempts int
	initial  time.Duration
	cap      time.Duration
}

func defaultPollConfig() pollConfig {
	return pollConfig{
		attempts: defaultPollAttempts,
		initial:  defaultPollInitial,
		cap:      defaultPollCap,
	}
}

// WithPollAttempts overrides the maximum number of poll calls.
func WithPollAttempts(n int) PollOption {
	return func(c *pollConfig) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		if d > 0 {
			c.initial = d
		}
	}
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) {
		if d > 0 {
			c.cap = d
		}
	}
}

// PollImport polls until D1 reports success or that nothing is importing.
// The interval doubles from the initial value up to the cap: 1s -> 2s -> 4s
// ... -> 30s by default.
func PollImport(ctx context.Context, client Client, bookmark string, opts ...PollOption) (*PollResult, error) {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	interval := cfg.initial
	for attempt := 1; attempt <= cfg.attempts; attempt++ {
		res, err := client.Poll(ctx, bookmark)
		if err != nil {
			return nil, eris.Wrapf(err, "d1: poll import %s", bookmark)
		}
		zap.L().Debug("d1 poll",
			zap.Int("attempt", attempt),
			zap.String("status", res.Status),
			zap.Bool("success", res.Success),
			zap.String("error", res.Error),
		)

		switch {
		case res.Success:
			return res, nil
		case res.Error == NotImporting:
			return res, nil
		case res.Status == "error":
			return nil, eris.Errorf("d1: import failed: %s", res.Error)
		}
		if res.AtBookmark != "" {
			bookmark = res.AtBookmark
		}

		if attempt == cfg.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, eris.Wrapf(ctx.Err(), "d1: poll import %s cancelled", bookmark)
		case <-time.After(interval):
		}
		interval *= 2
		if interval > cfg.cap {
			interval = cfg.cap
		}
	}
	return nil, ErrPollExhausted
}
