package quota

import (
	"context"
	"time"
)

// Gate pairs a token-volume limiter with a call-count limiter. Work proceeds
// only when both admit, checked tokens first, then calls.
type Gate struct {
	Tokens *Limiter
	Calls  *Limiter
	// Poll is the re-check interval while waiting. Zero means DefaultPoll.
	Poll time.Duration
	// Timeout bounds a single Admit. Zero means wait until ctx is done.
	Timeout time.Duration
}

// NewGate builds a Gate from quota settings.
func NewGate(tokens float64, tokenPeriod time.Duration, calls float64, callPeriod time.Duration, opts ...Option) *Gate {
	return &Gate{
		Tokens: New(tokens, tokenPeriod, opts...),
		Calls:  New(calls, callPeriod, opts...),
	}
}

// Admit waits until both limiters allow work and charges one call.
func (g *Gate) Admit(ctx context.Context) error {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}
	if err := g.Tokens.WaitUntilAllowed(ctx, g.Poll); err != nil {
		return err
	}
	if err := g.Calls.WaitUntilAllowed(ctx, g.Poll); err != nil {
		return err
	}
	g.Calls.Add(1)
	return nil
}

// Charge feeds the actual token usage reported by the provider back into the
// token limiter. Work already done is never undone; only later calls wait.
func (g *Gate) Charge(tokens int64) State {
	return g.Tokens.Add(float64(tokens))
}
