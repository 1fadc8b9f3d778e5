// Package retry implements the Retry Controller (C2): exponential backoff
// with jitter, and transient/permanent error classification.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Strob0t/fortitude/internal/domain/ferrors"
)

// Config bounds the exponential backoff schedule. MaxRetries must be <= 10;
// InitialDelay must be < MaxDelay; Multiplier must be in (1, 10].
type Config struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterPercent uint64
	MaxRetries    uint64
	MaxElapsed    time.Duration
}

// Controller wraps fallible operations with backoff-with-jitter retry.
type Controller struct {
	cfg Config
}

// New validates cfg and returns a Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.MaxRetries > 10 {
		return nil, fmt.Errorf("max_retries %d exceeds 10: %w", cfg.MaxRetries, ferrors.ErrConfiguration)
	}
	if cfg.InitialDelay >= cfg.MaxDelay {
		return nil, fmt.Errorf("initial_delay must be < max_delay: %w", ferrors.ErrConfiguration)
	}
	if cfg.Multiplier <= 1 || cfg.Multiplier > 10 {
		return nil, fmt.Errorf("multiplier must be in (1,10]: %w", ferrors.ErrConfiguration)
	}
	return &Controller{cfg: cfg}, nil
}

// Classify sorts an error into transient (retry) or permanent (do not
// retry), per §4.2's classification table.
func Classify(err error) (transient bool, retryAfter time.Duration) {
	if err == nil {
		return false, 0
	}

	var rateLimited *ferrors.RateLimitedError
	if errors.As(err, &rateLimited) {
		return true, rateLimited.RetryAfter
	}

	var upstream *ferrors.UpstreamError
	if errors.As(err, &upstream) {
		if !upstream.Permanent || upstream.Status == http.StatusRequestTimeout || upstream.Status == http.StatusTooManyRequests {
			return true, 0
		}
		return false, 0
	}

	if errors.Is(err, ferrors.ErrTimeout) || errors.Is(err, ferrors.ErrTransientUpstream) {
		return true, 0
	}
	if errors.Is(err, ferrors.ErrPermanentUpstream) || errors.Is(err, ferrors.ErrAuthentication) || errors.Is(err, ferrors.ErrInvalidInput) {
		return false, 0
	}

	// Unclassified errors are treated as transient: a failure with no known
	// shape is more likely a fluke than an unrecoverable logic bug.
	return true, 0
}

// Execute runs op under c's validated backoff schedule.
func (c *Controller) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	return Execute(ctx, c.cfg, op)
}

// Execute runs op, retrying on transient failure with exponential backoff
// and jitter until success, ctx cancellation, MaxElapsed, or MaxRetries.
func Execute(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	backoff := retry.NewExponential(cfg.InitialDelay)
	backoff = retry.WithMaxRetries(cfg.MaxRetries, backoff)
	backoff = retry.WithCappedDuration(cfg.MaxDelay, backoff)
	if cfg.JitterPercent > 0 {
		backoff = retry.WithJitterPercent(cfg.JitterPercent, backoff)
	}
	if cfg.MaxElapsed > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.MaxElapsed)
		defer cancel()
	}

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		transient, retryAfter := Classify(err)
		if !transient {
			return err // non-retryable marker: go-retry stops on a plain (non-Retryable) error
		}
		if retryAfter > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryAfter):
			}
		}
		return retry.RetryableError(err)
	})
}
