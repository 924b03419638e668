package runner

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/propolis-ai/annotator/pkg/models"
	"github.com/propolis-ai/annotator/pkg/parser"
	"github.com/propolis-ai/annotator/pkg/prompt"
	"github.com/propolis-ai/annotator/pkg/provider"
	"github.com/propolis-ai/annotator/pkg/quota"
)

// PromptRunner classifies pending items with one batch prompt per cycle.
type PromptRunner[R any] struct {
	tmpl      prompt.Template[R]
	batchSize int
	store     PredictionStore
	keys      Credentials
	gate      *quota.Gate
	deps
}

// NewPromptRunner creates a runner for tmpl. gate is owned by the runner.
func NewPromptRunner[R any](tmpl prompt.Template[R], batchSize int, store PredictionStore, keys Credentials, gate *quota.Gate, opts ...Option) *PromptRunner[R] {
	return &PromptRunner[R]{
		tmpl:      tmpl,
		batchSize: batchSize,
		store:     store,
		keys:      keys,
		gate:      gate,
		deps:      newDeps(opts),
	}
}

// Apportion splits an aggregate token count evenly across n items. The
// remainder is dropped.
func Apportion(total int64, n int) int64 {
	if n <= 0 {
		return 0
	}
	return total / int64(n)
}

// Identity returns the identity of the template this runner executes.
func (r *PromptRunner[R]) Identity() models.PromptIdentity { return r.tmpl.Identity() }

// RunCycle selects the next batch, sends it as one request and persists one
// prediction per item. Nothing is persisted unless every item got a result,
// so a failed batch is simply selected again by the next cycle.
func (r *PromptRunner[R]) RunCycle(ctx context.Context) (rep Report, err error) {
	id := r.tmpl.Identity()
	rep = Report{RunID: uuid.NewString(), Identity: id}
	log := r.log.With(
		zap.String("run_id", rep.RunID),
		zap.String("prompt", id.Name),
		zap.Uint16("version", id.Version))

	ctx, span := r.tracer.Start(ctx, "prediction.cycle")
	span.SetAttributes(
		attribute.String("run.id", rep.RunID),
		attribute.String("prompt.name", id.Name),
		attribute.Int("prompt.version", int(id.Version)))
	defer func() { endSpan(span, err) }()

	items, err := r.store.NextBatch(ctx, id, r.batchSize)
	if err != nil {
		return rep, errors.Wrap(err, "select batch")
	}
	if len(items) == 0 {
		return rep, nil
	}
	rep.Items = itemIDs(items)
	span.SetAttributes(attribute.Int("batch.size", len(items)))
	log = log.With(zap.Int("batch", len(items)))

	cred, err := r.keys.Next()
	if err != nil {
		return rep, err
	}
	rep.Credential = cred.Credential.ID
	env := cred.Env
	info := env.Info()

	if err := r.gate.Admit(ctx); err != nil {
		return rep, err
	}
	log.Info("running prompt", zap.Int64s("items", rep.Items), zap.Int64("credential", rep.Credential))

	entry := models.AuditEntry{
		RunID:         rep.RunID,
		CredentialID:  rep.Credential,
		Environment:   info.String(),
		Operation:     models.OpCompletion,
		PromptName:    id.Name,
		PromptVersion: id.Version,
		ItemIDs:       rep.Items,
	}

	if info.ModerationModel != "" {
		if err := r.moderate(ctx, log, env, items, entry); err != nil {
			return rep, err
		}
	}

	batch := r.tmpl.For(items)
	start := r.now()
	res, err := env.Complete(ctx, id, batch.Primer())
	entry.LatencyMs = r.now().Sub(start).Milliseconds()
	if err != nil {
		entry.Outcome, entry.Error = models.OutcomeProviderError, err.Error()
		r.auditLog(ctx, entry)
		return rep, err
	}

	// Tokens are spent whether or not the reply parses.
	rep.Usage = models.Usage{PromptTokens: res.PromptTokens, CompletionTokens: res.CompletionTokens, TotalTokens: res.TotalTokens}
	rep.Quota = r.gate.Charge(res.TotalTokens)
	r.charged(log, rep.Quota)
	r.record(ctx, models.UsageRecord{
		CredentialID:     rep.Credential,
		Provider:         info.Provider,
		Model:            info.Model,
		Operation:        models.OpCompletion,
		PromptName:       id.Name,
		PromptVersion:    id.Version,
		Items:            len(items),
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		TotalTokens:      res.TotalTokens,
	})
	entry.Content = res.Content
	entry.TotalTokens = res.TotalTokens

	recs, err := r.records(batch, res, rep.Credential)
	if err != nil {
		entry.Outcome, entry.Error = models.OutcomeParseError, err.Error()
		r.auditLog(ctx, entry)
		log.Warn("response rejected", zap.Error(err))
		return rep, err
	}

	if err := r.store.SavePredictions(ctx, recs); err != nil {
		entry.Outcome, entry.Error = models.OutcomePersistError, err.Error()
		r.auditLog(ctx, entry)
		return rep, err
	}
	rep.Persisted = len(recs)

	entry.Outcome = models.OutcomeOK
	r.auditLog(ctx, entry)
	log.Info("predictions stored", zap.Int64("tokens", res.TotalTokens))
	return rep, nil
}

// records converts the reply into one record per item, in item order.
func (r *PromptRunner[R]) records(batch *prompt.Batch[R], res models.InvocationResult, credential int64) ([]models.PredictionRecord, error) {
	results, err := batch.HandleResponse(res)
	if err != nil {
		return nil, err
	}
	n := len(batch.Items)
	if len(results) != n {
		return nil, errors.Mark(errors.Newf("got %d results for %d items", len(results), n), parser.ErrParse)
	}

	env := res.Environment.String()
	now := r.now().UTC()
	recs := make([]models.PredictionRecord, n)
	for i, it := range batch.Items {
		data, err := json.Marshal(results[i])
		if err != nil {
			return nil, errors.Wrapf(err, "encode result for item %d", it.ID)
		}
		recs[i] = models.PredictionRecord{
			ItemID:           it.ID,
			Environment:      env,
			PromptName:       res.Identity.Name,
			PromptVersion:    res.Identity.Version,
			Result:           string(data),
			PromptTokens:     Apportion(res.PromptTokens, n),
			CompletionTokens: Apportion(res.CompletionTokens, n),
			TotalTokens:      Apportion(res.TotalTokens, n),
			CredentialID:     credential,
			CreatedAt:        now,
		}
	}
	return recs, nil
}

// moderate checks the batch text. A flagged batch of one marks the item
// flagged; a larger batch marks every item maybe-flagged so each gets
// checked on its own later.
func (r *PromptRunner[R]) moderate(ctx context.Context, log *zap.Logger, env provider.Env, items []models.Item, entry models.AuditEntry) error {
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	v, err := env.Moderate(ctx, strings.Join(texts, "\n"))
	if err != nil {
		entry.Operation = models.OpModeration
		entry.Outcome, entry.Error = models.OutcomeProviderError, err.Error()
		r.auditLog(ctx, entry)
		return err
	}

	ids := entry.ItemIDs
	if !v.Flagged {
		if len(items) == 1 {
			if err := r.store.ResolveFlag(ctx, ids[0]); err != nil {
				return err
			}
		}
		return nil
	}

	state := models.FlagMaybe
	if len(items) == 1 {
		state = models.FlagFlagged
	}
	cats := v.FlaggedCategories()
	log.Info("batch flagged", zap.Stringer("state", state), zap.Int("categories", len(cats)))
	if err := r.store.FlagItems(ctx, ids, state, cats); err != nil {
		return err
	}

	entry.Operation = models.OpModeration
	entry.Outcome = models.OutcomeFlagged
	r.auditLog(ctx, entry)
	return errors.Wrapf(ErrFlagged, "%d items marked %s", len(ids), state)
}
