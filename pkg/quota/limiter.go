// Package quota implements fixed-window admission control for provider calls.
//
// A Limiter is single-writer: it has no internal locking and its Check/Add
// sequence is not atomic. Share one between goroutines only behind a mutex,
// or give each worker its own.
package quota

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrAdmissionTimeout is returned when waiting for quota is aborted by a
// deadline or cancellation.
var ErrAdmissionTimeout = errors.New("admission timeout")

// DefaultPoll is the interval at which WaitUntilAllowed re-checks the quota.
const DefaultPoll = time.Second

// State is the result of charging a Limiter.
// When Exceeded is false only Remaining is meaningful; otherwise Overage and ResetAt are.
type State struct {
	Exceeded  bool
	Remaining float64
	Overage   float64
	ResetAt   time.Time
}

// Remaining returns a non-exceeded State.
func Remaining(v float64) State { return State{Remaining: v} }

// ExceededUntil returns an exceeded State.
func ExceededUntil(overage float64, resetAt time.Time) State {
	return State{Exceeded: true, Overage: overage, ResetAt: resetAt}
}

// Limiter tracks usage since lastReset against Allowed over a fixed Period.
type Limiter struct {
	Period  time.Duration
	Allowed float64

	usage     float64
	lastReset time.Time
	now       func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter allowing allowed units per period. The window starts now.
func New(allowed float64, period time.Duration, opts ...Option) *Limiter {
	l := &Limiter{Period: period, Allowed: allowed, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	l.lastReset = l.now()
	return l
}

// Check resets the window if it has elapsed and reports whether usage is
// within the allowed quota. Usage equal to the quota is still admitted.
func (l *Limiter) Check() bool {
	l.maybeReset()
	return l.usage <= l.Allowed
}

// Add charges amount against the quota. Usage is never clamped after an
// overshoot; it only drops when the window resets.
func (l *Limiter) Add(amount float64) State {
	l.maybeReset()
	l.usage += amount
	if l.usage <= l.Allowed {
		return Remaining(l.Allowed - l.usage)
	}
	return ExceededUntil(l.usage-l.Allowed, l.lastReset.Add(l.Period))
}

// Usage returns the usage accumulated in the current window.
func (l *Limiter) Usage() float64 { return l.usage }

// ResetAt returns when the current window ends.
func (l *Limiter) ResetAt() time.Time { return l.lastReset.Add(l.Period) }

// WaitUntilAllowed blocks until Check succeeds, polling every poll interval.
// It returns an error marked ErrAdmissionTimeout if ctx is done first.
func (l *Limiter) WaitUntilAllowed(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = DefaultPoll
	}
	if l.Check() {
		return nil
	}
	t := time.NewTimer(poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.Mark(errors.Wrapf(ctx.Err(), "quota %.0f/%s still exhausted", l.Allowed, l.Period), ErrAdmissionTimeout)
		case <-t.C:
			if l.Check() {
				return nil
			}
			t.Reset(poll)
		}
	}
}

func (l *Limiter) maybeReset() {
	now := l.now()
	if now.After(l.lastReset.Add(l.Period)) {
		l.usage = 0
		l.lastReset = now
	}
}
