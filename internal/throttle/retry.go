package throttle

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// RetryOptions configures Do.
type RetryOptions struct {
	Attempts int           // total tries, including the first
	Initial  time.Duration // delay before the second try
	MaxDelay time.Duration // cap for the doubling delay

	// Signatures overrides the built-in throttle signatures. Empty means
	// the defaults.
	Signatures []string

	// OnThrottle, when set, is called for every attempt whose error
	// matches a throttle signature, including the last one. Callers hook
	// the adaptive limiter here so the ceiling reacts to pushback that a
	// later attempt recovers from.
	OnThrottle func()
}

// DefaultRetryOptions returns the defaults used for provider calls.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		Attempts: 4,
		Initial:  500 * time.Millisecond,
		MaxDelay: 8 * time.Second,
	}
}

// Do runs fn with exponential backoff between failures. Throttle errors
// back off from a doubled starting delay since the provider told us to
// slow down. The last error is returned when all attempts fail.
func Do(ctx context.Context, opts RetryOptions, fn func() error) error {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}

	delay := opts.Initial
	var lastErr error

	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		throttled := matchesSignature(lastErr, opts.Signatures)
		if throttled && opts.OnThrottle != nil {
			opts.OnThrottle()
		}

		if attempt == opts.Attempts {
			break
		}

		wait := delay
		if throttled {
			wait *= 2
		}
		if opts.MaxDelay > 0 && wait > opts.MaxDelay {
			wait = opts.MaxDelay
		}

		log.Debug("Retrying after failure", "attempt", attempt, "wait", wait, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay *= 2
		if opts.MaxDelay > 0 && delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}

	return lastErr
}
