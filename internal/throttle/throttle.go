// Package throttle provides adaptive concurrency control for provider
// calls. The limiter halves its ceiling when a provider pushes back and
// creeps back up after sustained success.
package throttle

import (
	"context"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// DefaultRecoveryThreshold is how many consecutive successes raise the
// ceiling by one.
const DefaultRecoveryThreshold = 20

// AdaptiveLimiter bounds in-flight provider calls. The ceiling starts at
// max, halves on throttle signals (never below 1), and recovers one slot
// at a time toward max.
type AdaptiveLimiter struct {
	mu       sync.Mutex
	cond     *sync.Cond
	max      int
	limit    int
	inFlight int

	successes         int
	recoveryThreshold int
}

// NewAdaptiveLimiter creates a limiter with the given ceiling.
func NewAdaptiveLimiter(max int) *AdaptiveLimiter {
	if max < 1 {
		max = 1
	}
	l := &AdaptiveLimiter{
		max:               max,
		limit:             max,
		recoveryThreshold: DefaultRecoveryThreshold,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire blocks until a slot is available or the context is done.
func (l *AdaptiveLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	for l.inFlight >= l.limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.cond.Wait()
	}

	l.inFlight++
	return nil
}

// Throttled halves the ceiling in response to provider pushback, never
// below 1, and resets the success streak. It is safe to call while the
// slot is still held, so retry loops can report every throttled attempt
// rather than only the terminal outcome.
func (l *AdaptiveLimiter) Throttled() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.successes = 0
	newLimit := l.limit / 2
	if newLimit < 1 {
		newLimit = 1
	}
	if newLimit != l.limit {
		log.Warn("Provider throttling detected, reducing concurrency", "limit", newLimit)
		l.limit = newLimit
	}
}

// Release returns a slot and reports the call's terminal outcome. A nil
// error counts toward recovery; any failure resets the success streak.
// Throttle pushback is reported separately through Throttled.
func (l *AdaptiveLimiter) Release(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.inFlight--

	if err == nil {
		l.successes++
		if l.successes >= l.recoveryThreshold && l.limit < l.max {
			l.successes = 0
			l.limit++
			log.Debug("Raising concurrency after sustained success", "limit", l.limit)
		}
	} else {
		l.successes = 0
	}

	l.cond.Broadcast()
}

// Limit returns the current concurrency ceiling.
func (l *AdaptiveLimiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// Max returns the configured ceiling.
func (l *AdaptiveLimiter) Max() int {
	return l.max
}

// Built-in throttle signatures across providers. HTTP clients stringify
// status codes, so substring matching covers both wrapped errors and raw
// bodies.
var defaultSignatures = []string{
	"429",
	"rate limit",
	"rate_limit",
	"too many requests",
	"quota",
	"overloaded",
	"capacity",
}

// DefaultSignatures returns a copy of the built-in throttle signatures.
// Deployments hitting providers with different pushback wording override
// them through configuration.
func DefaultSignatures() []string {
	out := make([]string, len(defaultSignatures))
	copy(out, defaultSignatures)
	return out
}

// IsThrottle reports whether an error looks like provider pushback,
// matched against the built-in signatures.
func IsThrottle(err error) bool {
	return matchesSignature(err, nil)
}

// matchesSignature checks err against the given signatures; an empty list
// means the built-in defaults.
func matchesSignature(err error, signatures []string) bool {
	if err == nil {
		return false
	}
	if len(signatures) == 0 {
		signatures = defaultSignatures
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range signatures {
		if sig != "" && strings.Contains(msg, strings.ToLower(sig)) {
			return true
		}
	}
	return false
}
