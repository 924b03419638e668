package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Cycler runs one cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (Report, error)
}

// Loop runs c on every tick until ctx is done. Cycle errors are logged and
// the loop continues; the failed batch is reselected on a later tick.
func Loop(ctx context.Context, name string, c Cycler, tick time.Duration, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("loop", name))
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	log.Info("loop started", zap.Duration("tick", tick))
	for {
		select {
		case <-ctx.Done():
			log.Info("loop stopped")
			return nil
		case <-ticker.C:
			rep, err := c.RunCycle(ctx)
			switch {
			case err != nil && ctx.Err() != nil:
				return nil
			case err != nil:
				log.Error("cycle failed", zap.String("run_id", rep.RunID), zap.Int64s("items", rep.Items), zap.Error(err))
			case !rep.Idle():
				log.Debug("cycle done", zap.String("run_id", rep.RunID), zap.Int("persisted", rep.Persisted))
			}
		}
	}
}
