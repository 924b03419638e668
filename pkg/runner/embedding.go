package runner

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/propolis-ai/annotator/pkg/models"
	"github.com/propolis-ai/annotator/pkg/provider"
	"github.com/propolis-ai/annotator/pkg/quota"
)

// EmbeddingsRunner embeds items that have no embedding yet.
type EmbeddingsRunner struct {
	batchSize int
	store     EmbeddingStore
	keys      Credentials
	gate      *quota.Gate
	deps
}

// NewEmbeddingsRunner creates an EmbeddingsRunner. gate is owned by the runner.
func NewEmbeddingsRunner(batchSize int, store EmbeddingStore, keys Credentials, gate *quota.Gate, opts ...Option) *EmbeddingsRunner {
	return &EmbeddingsRunner{
		batchSize: batchSize,
		store:     store,
		keys:      keys,
		gate:      gate,
		deps:      newDeps(opts),
	}
}

// RunCycle embeds the next batch. The reported usage is fed back into the
// token limiter after the call; an overage only delays later cycles and the
// embeddings already computed are stored.
func (r *EmbeddingsRunner) RunCycle(ctx context.Context) (rep Report, err error) {
	rep = Report{RunID: uuid.NewString()}
	log := r.log.With(zap.String("run_id", rep.RunID))

	ctx, span := r.tracer.Start(ctx, "embedding.cycle")
	span.SetAttributes(attribute.String("run.id", rep.RunID))
	defer func() { endSpan(span, err) }()

	items, err := r.store.Unembedded(ctx, r.batchSize)
	if err != nil {
		return rep, errors.Wrap(err, "select unembedded")
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
	info := cred.Env.Info()

	if err := r.gate.Admit(ctx); err != nil {
		return rep, err
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	entry := models.AuditEntry{
		RunID:        rep.RunID,
		CredentialID: rep.Credential,
		Environment:  info.String(),
		Operation:    models.OpEmbedding,
		ItemIDs:      rep.Items,
	}

	start := r.now()
	out, err := cred.Env.Embed(ctx, texts)
	entry.LatencyMs = r.now().Sub(start).Milliseconds()
	if err == nil && len(out.Vectors) != len(items) {
		err = errors.Mark(errors.Newf("got %d vectors for %d items", len(out.Vectors), len(items)), provider.ErrProvider)
	}
	if err != nil {
		entry.Outcome, entry.Error = models.OutcomeProviderError, err.Error()
		r.auditLog(ctx, entry)
		return rep, err
	}

	rep.Usage = models.Usage{PromptTokens: out.PromptTokens, TotalTokens: out.TotalTokens}
	rep.Quota = r.gate.Charge(out.TotalTokens)
	r.charged(log, rep.Quota)
	r.record(ctx, models.UsageRecord{
		CredentialID: rep.Credential,
		Provider:     info.Provider,
		Model:        info.Model,
		Operation:    models.OpEmbedding,
		Items:        len(items),
		PromptTokens: out.PromptTokens,
		TotalTokens:  out.TotalTokens,
	})
	entry.TotalTokens = out.TotalTokens

	now := r.now().UTC()
	recs := make([]models.EmbeddingRecord, len(items))
	for i, it := range items {
		recs[i] = models.EmbeddingRecord{
			ItemID:       it.ID,
			Vector:       out.Vectors[i],
			PromptTokens: out.PromptTokens,
			CredentialID: rep.Credential,
			CreatedAt:    now,
		}
	}
	if err := r.store.SaveEmbeddings(ctx, recs); err != nil {
		entry.Outcome, entry.Error = models.OutcomePersistError, err.Error()
		r.auditLog(ctx, entry)
		return rep, err
	}
	rep.Persisted = len(recs)

	if r.mirror != nil {
		if err := r.mirror.Upsert(ctx, recs); err != nil {
			log.Warn("vector mirror upsert failed", zap.Error(err))
		}
	}

	entry.Outcome = models.OutcomeOK
	r.auditLog(ctx, entry)
	log.Info("embeddings stored", zap.Int64("tokens", out.TotalTokens))
	return rep, nil
}
