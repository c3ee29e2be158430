package retry

import (
	"context"
	"math"
	"time"

	"optionsmetrics/pkg/errors"
)

// Strategy defines the retry strategy
type Strategy string

const (
	// StrategyExponential uses exponential backoff
	StrategyExponential Strategy = "exponential"
	// StrategyLinear uses linear backoff
	StrategyLinear Strategy = "linear"
	// StrategyFixed uses fixed delay
	StrategyFixed Strategy = "fixed"
)

// Config contains retry configuration
type Config struct {
	// MaxAttempts counts the first try; 3 means up to two retries
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Strategy     Strategy
	Multiplier   float64 // For exponential backoff

	// Retryable classifies errors; nil retries every error
	Retryable func(error) bool
	// OnRetry is called before sleeping ahead of attempt n+1
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns the store contention profile: 3 attempts, 500ms, ×1.5
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Strategy:     StrategyExponential,
		Multiplier:   1.5,
	}
}

// Retrier runs operations under a Config
type Retrier struct {
	config Config
}

// New creates a retrier, filling unset fields from DefaultConfig
func New(config Config) *Retrier {
	def := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = def.Multiplier
	}
	if config.Strategy == "" {
		config.Strategy = def.Strategy
	}
	return &Retrier{config: config}
}

// WithOnRetry returns a copy of r reporting retries to fn
func (r *Retrier) WithOnRetry(fn func(attempt int, err error, delay time.Duration)) *Retrier {
	cfg := r.config
	cfg.OnRetry = fn
	return &Retrier{config: cfg}
}

// Do executes fn until it succeeds, fails with a non-retryable error, the
// attempts are exhausted or ctx is done.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that return a value
func DoValue[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !r.retryable(err) {
			return zero, err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.delay(attempt - 1)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Wrap(ctx.Err(), "retry cancelled")
		case <-timer.C:
		}
	}

	return zero, errors.Wrapf(lastErr, "max attempts (%d) exceeded", r.config.MaxAttempts)
}

func (r *Retrier) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if r.config.Retryable == nil {
		return true
	}
	return r.config.Retryable(err)
}

// delay calculates the backoff before retry number attempt (0-based)
func (r *Retrier) delay(attempt int) time.Duration {
	var d time.Duration

	switch r.config.Strategy {
	case StrategyExponential:
		d = time.Duration(float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt)))
	case StrategyLinear:
		d = r.config.InitialDelay * time.Duration(1+attempt)
	default:
		d = r.config.InitialDelay
	}

	if d > r.config.MaxDelay {
		d = r.config.MaxDelay
	}
	return d
}
