package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

const jitterFraction = 0.1

type (
	Config struct {
		MaxRetries        int
		BaseDelay         time.Duration
		MaxDelay          time.Duration
		BackoffMultiplier float64
	}

	Option func(r *Retrier)

	// Retrier runs channel operations with bounded exponential backoff and jitter.
	Retrier struct {
		conf   Config
		sleep  func(ctx context.Context, d time.Duration) error
		jitter func(limit time.Duration) time.Duration
		log    *slog.Logger
	}
)

func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,                      //nolint:mnd // default
		BaseDelay:         500 * time.Millisecond, //nolint:mnd // default
		MaxDelay:          30 * time.Second,       //nolint:mnd // default
		BackoffMultiplier: 2,                      //nolint:mnd // default
	}
}

func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries %d must not be negative", c.MaxRetries)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("base delay %s must be positive", c.BaseDelay)
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("max delay %s must not be less than base delay %s", c.MaxDelay, c.BaseDelay)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier %v must be at least 1", c.BackoffMultiplier)
	}
	return nil
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retrier) {
		r.sleep = sleep
	}
}

func WithJitter(jitter func(limit time.Duration) time.Duration) Option {
	return func(r *Retrier) {
		r.jitter = jitter
	}
}

func New(conf Config, log *slog.Logger, opts ...Option) *Retrier {
	r := &Retrier{
		conf:   conf,
		sleep:  sleepContext,
		jitter: randomJitter,
		log:    log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs op until it succeeds, fails permanently or MaxRetries retries are spent.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.conf.MaxRetries; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrChannelRetryable, lastErr)
		}
		if Classify(lastErr) == ClassPermanent {
			return fmt.Errorf("%w: %w", ErrChannelPermanent, lastErr)
		}
		if attempt == r.conf.MaxRetries {
			break
		}

		delay := r.Delay(attempt, lastErr)
		r.log.DebugContext(ctx, "channel call failed, retrying",
			"attempt", attempt+1,
			"delay", delay.String(),
			"error", lastErr,
		)
		if err := r.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w: wait before retry: %w", ErrChannelRetryable, lastErr)
		}
	}

	return fmt.Errorf("%w: retries exhausted after %d attempts: %w", ErrChannelRetryable, r.conf.MaxRetries+1, lastErr)
}

// Delay returns the wait before retry number attempt+1.
// A channel supplied retry-after hint replaces the exponential delay and is not jittered.
func (r *Retrier) Delay(attempt int, err error) time.Duration {
	if hint, ok := RetryAfter(err); ok {
		return min(hint, r.conf.MaxDelay)
	}

	backoff := float64(r.conf.BaseDelay) * math.Pow(r.conf.BackoffMultiplier, float64(attempt))
	if backoff >= float64(r.conf.MaxDelay) {
		return r.conf.MaxDelay
	}
	delay := time.Duration(backoff)
	delay += r.jitter(time.Duration(backoff * jitterFraction))
	return min(delay, r.conf.MaxDelay)
}

// Execute is Do for operations that produce a value.
func Execute[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var res T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		res = v
		return nil
	})
	return res, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit) //nolint:gosec // jitter does not need crypto randomness
}
