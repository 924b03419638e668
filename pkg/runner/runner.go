// Package runner drives admission-gated, cache-correct prediction and
// embedding cycles against a provider.
//
// A runner is single-threaded: it owns its quota.Gate and must not be shared
// between goroutines. Run one runner per loop.
package runner

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/propolis-ai/annotator/pkg/keyring"
	"github.com/propolis-ai/annotator/pkg/models"
	"github.com/propolis-ai/annotator/pkg/quota"
)

const tracerName = "github.com/propolis-ai/annotator/pkg/runner"

// ErrFlagged is returned when moderation flags a batch. The flag cache has
// been updated by the time it is returned.
var ErrFlagged = errors.New("batch flagged by moderation")

// PredictionStore selects pending items and persists predictions and flags.
type PredictionStore interface {
	NextBatch(ctx context.Context, id models.PromptIdentity, limit int) ([]models.Item, error)
	SavePredictions(ctx context.Context, recs []models.PredictionRecord) error
	FlagItems(ctx context.Context, itemIDs []int64, state models.FlagState, categories []models.FlagCategory) error
	ResolveFlag(ctx context.Context, itemID int64) error
}

// EmbeddingStore selects unembedded items and persists embeddings.
type EmbeddingStore interface {
	Unembedded(ctx context.Context, limit int) ([]models.Item, error)
	SaveEmbeddings(ctx context.Context, recs []models.EmbeddingRecord) error
}

// Credentials hands out the environment to use for a cycle.
type Credentials interface {
	Next() (keyring.Entry, error)
}

// UsageRecorder is the usage ledger.
type UsageRecorder interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// Auditor stores the raw outcome of each invocation.
type Auditor interface {
	Log(ctx context.Context, entry models.AuditEntry) error
}

// Mirror receives embeddings after they were persisted.
type Mirror interface {
	Upsert(ctx context.Context, recs []models.EmbeddingRecord) error
}

// Report describes one cycle.
type Report struct {
	RunID      string
	Identity   models.PromptIdentity
	Items      []int64
	Persisted  int
	Credential int64
	Usage      models.Usage
	Quota      quota.State
}

// Idle reports whether the cycle found nothing to do.
func (r Report) Idle() bool { return len(r.Items) == 0 }

// Option configures the optional collaborators of a runner.
type Option func(*deps)

type deps struct {
	tracker UsageRecorder
	audit   Auditor
	mirror  Mirror
	log     *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
	warn    *rate.Sometimes
}

// WithTracker records every invocation in the usage ledger.
func WithTracker(t UsageRecorder) Option { return func(d *deps) { d.tracker = t } }

// WithAudit stores raw responses and outcomes.
func WithAudit(a Auditor) Option { return func(d *deps) { d.audit = a } }

// WithMirror copies persisted embeddings to a vector index.
func WithMirror(m Mirror) Option { return func(d *deps) { d.mirror = m } }

// WithLogger sets the logger. The default discards.
func WithLogger(l *zap.Logger) Option { return func(d *deps) { d.log = l } }

// WithTracer sets the tracer. The default is the global provider's.
func WithTracer(t trace.Tracer) Option { return func(d *deps) { d.tracer = t } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(d *deps) { d.now = now } }

func newDeps(opts []Option) deps {
	d := deps{
		log:  zap.NewNop(),
		now:  time.Now,
		warn: &rate.Sometimes{Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(&d)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	return d
}

func (d *deps) record(ctx context.Context, rec models.UsageRecord) {
	if d.tracker == nil {
		return
	}
	rec.CreatedAt = d.now().UTC()
	if err := d.tracker.Record(ctx, rec); err != nil {
		d.log.Warn("record usage failed", zap.Error(err))
	}
}

func (d *deps) auditLog(ctx context.Context, entry models.AuditEntry) {
	if d.audit == nil {
		return
	}
	entry.CreatedAt = d.now()
	if err := d.audit.Log(ctx, entry); err != nil {
		d.log.Warn("audit log failed", zap.Error(err))
	}
}

// charged logs the limiter state after usage was fed back. Overage warnings
// are throttled so a long window does not flood the log.
func (d *deps) charged(log *zap.Logger, st quota.State) {
	if !st.Exceeded {
		log.Debug("quota remaining", zap.Float64("remaining", st.Remaining))
		return
	}
	d.warn.Do(func() {
		log.Warn("token quota exceeded",
			zap.Float64("overage", st.Overage),
			zap.Duration("wait", st.ResetAt.Sub(d.now())))
	})
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func itemIDs(items []models.Item) []int64 {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
