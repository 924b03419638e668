package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/propolis-ai/annotator/pkg/runner"
	"github.com/propolis-ai/annotator/pkg/telemetry"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the prediction and embedding loops until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Init(ctx, a.cfg.Telemetry, version, a.log)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					a.log.Warn("tracer shutdown", zap.Error(err))
				}
			}()

			ring, err := a.keyring(ctx)
			if err != nil {
				return err
			}
			pred, emb := a.runners(ring)

			a.log.Info("annotator started",
				zap.String("version", version),
				zap.Int("credentials", ring.Len()),
				zap.Stringer("prompt", pred.Identity()))

			g, ctx := errgroup.WithContext(ctx)
			if a.cfg.Prediction.Enabled {
				g.Go(func() error {
					return runner.Loop(ctx, "prediction", pred, a.cfg.Prediction.Tick.D(), a.log)
				})
			}
			if a.cfg.Embedding.Enabled {
				g.Go(func() error {
					return runner.Loop(ctx, "embedding", emb, a.cfg.Embedding.Tick.D(), a.log)
				})
			}
			return g.Wait()
		},
	}
}

func newOnceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run one prediction cycle and one embedding cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			ring, err := a.keyring(ctx)
			if err != nil {
				return err
			}
			pred, emb := a.runners(ring)

			out := cmd.OutOrStdout()
			if a.cfg.Prediction.Enabled {
				rep, err := pred.RunCycle(ctx)
				fmt.Fprint(out, formatReport("prediction", rep, err))
			}
			if a.cfg.Embedding.Enabled {
				rep, err := emb.RunCycle(ctx)
				fmt.Fprint(out, formatReport("embedding", rep, err))
			}
			return nil
		},
	}
}

func formatReport(loop string, rep runner.Report, err error) string {
	switch {
	case err != nil:
		return fmt.Sprintf("%s: failed on items %v: %v\n", loop, rep.Items, err)
	case rep.Idle():
		return fmt.Sprintf("%s: nothing to do\n", loop)
	}
	s := fmt.Sprintf("%s: %d items persisted, %d tokens (credential %d, run %s)\n",
		loop, rep.Persisted, rep.Usage.TotalTokens, rep.Credential, rep.RunID)
	if rep.Quota.Exceeded {
		s += fmt.Sprintf("  token quota exceeded by %.0f until %s\n", rep.Quota.Overage, rep.Quota.ResetAt.Format("15:04:05"))
	}
	return s
}
