package main

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/propolis-ai/annotator/pkg/audit"
	"github.com/propolis-ai/annotator/pkg/config"
	"github.com/propolis-ai/annotator/pkg/keyring"
	"github.com/propolis-ai/annotator/pkg/logging"
	"github.com/propolis-ai/annotator/pkg/prompt/statementmeta"
	"github.com/propolis-ai/annotator/pkg/provider"
	"github.com/propolis-ai/annotator/pkg/provider/openai"
	"github.com/propolis-ai/annotator/pkg/quota"
	"github.com/propolis-ai/annotator/pkg/runner"
	"github.com/propolis-ai/annotator/pkg/store/sqlite"
	"github.com/propolis-ai/annotator/pkg/tracker"
	"github.com/propolis-ai/annotator/pkg/vectorindex/qdrant"
)

const tracerName = "github.com/propolis-ai/annotator/cmd/annotator"

// loadConfig returns defaults when no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// app holds the long-lived collaborators shared by the commands.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *sqlite.Store
	tracker *tracker.SQLiteTracker
	audit   *audit.Logger
	mirror  *qdrant.Mirror
}

func openApp(configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}
	if a.store, err = sqlite.New(cfg.DBPath); err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	if a.tracker, err = tracker.New(cfg.DBPath); err != nil {
		a.Close()
		return nil, errors.Wrap(err, "open tracker")
	}
	if cfg.Audit.Enabled {
		if a.audit, err = audit.New(cfg.DBPath, cfg.Audit); err != nil {
			a.Close()
			return nil, errors.Wrap(err, "open audit log")
		}
	}
	if cfg.Qdrant.Enabled {
		if a.mirror, err = qdrant.New(cfg.Qdrant, log); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) Close() {
	if a.mirror != nil {
		_ = a.mirror.Close()
	}
	if a.audit != nil {
		_ = a.audit.Close()
	}
	if a.tracker != nil {
		_ = a.tracker.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.log.Sync()
}

// keyring registers every configured key and builds one client per key.
func (a *app) keyring(ctx context.Context) (*keyring.Ring, error) {
	p := a.cfg.Provider
	ring, err := keyring.New(ctx, a.store, p.Keys(), func(key string) (provider.Env, error) {
		return openai.New(openai.Config{
			BaseURL:         p.BaseURL,
			APIKey:          key,
			Model:           p.Model,
			ModerationModel: p.ModerationModel,
			EmbeddingModel:  p.EmbeddingModel,
			Temperature:     p.Temperature,
			Timeout:         p.Timeout.D(),
		}, nil)
	})
	if err != nil {
		return nil, err
	}
	if ring.Len() == 0 {
		return nil, keyring.ErrEmpty
	}
	return ring, nil
}

// gate builds a fresh limiter pair. Each loop gets its own.
func (a *app) gate() *quota.Gate {
	l := a.cfg.Limits
	g := quota.NewGate(l.TokensPerPeriod, l.TokenPeriod.D(), l.CallsPerPeriod, l.CallPeriod.D())
	g.Poll = l.PollInterval.D()
	g.Timeout = l.AdmissionTimeout.D()
	return g
}

func (a *app) options(loop string) []runner.Option {
	opts := []runner.Option{
		runner.WithTracker(a.tracker),
		runner.WithLogger(a.log.Named(loop)),
		runner.WithTracer(otel.Tracer(tracerName)),
	}
	if a.audit != nil {
		opts = append(opts, runner.WithAudit(a.audit))
	}
	return opts
}

func (a *app) runners(ring *keyring.Ring) (*runner.PromptRunner[statementmeta.Meta], *runner.EmbeddingsRunner) {
	pred := runner.NewPromptRunner(statementmeta.Template, a.cfg.Prediction.BatchSize,
		a.store, ring, a.gate(), a.options("prediction")...)

	embOpts := a.options("embedding")
	if a.mirror != nil {
		embOpts = append(embOpts, runner.WithMirror(a.mirror))
	}
	emb := runner.NewEmbeddingsRunner(a.cfg.Embedding.BatchSize, a.store, ring, a.gate(), embOpts...)
	return pred, emb
}
