package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propolis-ai/annotator/pkg/keyring"
	"github.com/propolis-ai/annotator/pkg/models"
	"github.com/propolis-ai/annotator/pkg/parser"
	"github.com/propolis-ai/annotator/pkg/prompt/statementmeta"
	"github.com/propolis-ai/annotator/pkg/provider"
	"github.com/propolis-ai/annotator/pkg/quota"
	"github.com/propolis-ai/annotator/pkg/store/sqlite"
)

// fakeEnv answers every statement line of the last primer message with a
// politics row, unless reply is set.
type fakeEnv struct {
	moderation  string
	flagged     func(text string) bool
	reply       func(lines []string) string
	completeErr error
	usage       models.Usage
	embedUsage  models.Usage

	mu          sync.Mutex
	completions int
	moderations int
	embeds      int
}

func (f *fakeEnv) Info() models.EnvironmentDescriptor {
	return models.EnvironmentDescriptor{Provider: "fake", Model: "fake-model", ModerationModel: f.moderation}
}

func (f *fakeEnv) Moderate(_ context.Context, text string) (provider.Verdict, error) {
	f.mu.Lock()
	f.moderations++
	f.mu.Unlock()
	v := provider.Verdict{Categories: []models.FlagCategory{{Name: "hate"}, {Name: "violence"}}}
	if f.flagged != nil && f.flagged(text) {
		v.Flagged = true
		v.Categories[0].Value = true
	}
	return v, nil
}

func (f *fakeEnv) Complete(_ context.Context, id models.PromptIdentity, primer []models.Message) (models.InvocationResult, error) {
	f.mu.Lock()
	f.completions++
	f.mu.Unlock()
	if f.completeErr != nil {
		return models.InvocationResult{}, f.completeErr
	}
	lines := strings.Split(primer[len(primer)-1].Content, "\n")
	content := politics(lines)
	if f.reply != nil {
		content = f.reply(lines)
	}
	return models.InvocationResult{
		Environment:      f.Info(),
		Identity:         id,
		Content:          content,
		PromptTokens:     f.usage.PromptTokens,
		CompletionTokens: f.usage.CompletionTokens,
		TotalTokens:      f.usage.TotalTokens,
	}, nil
}

func (f *fakeEnv) Embed(_ context.Context, texts []string) (provider.Embeddings, error) {
	f.mu.Lock()
	f.embeds++
	f.mu.Unlock()
	out := provider.Embeddings{PromptTokens: f.embedUsage.PromptTokens, TotalTokens: f.embedUsage.TotalTokens}
	for i := range texts {
		out.Vectors = append(out.Vectors, []float64{float64(i), float64(len(texts[i]))})
	}
	return out, nil
}

func politics(lines []string) string {
	var b strings.Builder
	for _, l := range lines {
		id, _, _ := strings.Cut(l, "|")
		fmt.Fprintf(&b, "%s|politics|liberalism:s|||tax:w||\n", id)
	}
	return b.String()
}

type staticKeys struct{ entry keyring.Entry }

func (k staticKeys) Next() (keyring.Entry, error) { return k.entry, nil }

type memAudit struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (m *memAudit) Log(_ context.Context, e models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) last() models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

type memTracker struct{ recs []models.UsageRecord }

func (m *memTracker) Record(_ context.Context, r models.UsageRecord) error {
	m.recs = append(m.recs, r)
	return nil
}

type memMirror struct{ recs []models.EmbeddingRecord }

func (m *memMirror) Upsert(_ context.Context, recs []models.EmbeddingRecord) error {
	m.recs = append(m.recs, recs...)
	return nil
}

func newStore(t *testing.T, n int) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "runner_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	items := make([]models.Item, n)
	for i := range items {
		items[i] = models.Item{ID: int64(i + 1), Text: fmt.Sprintf("statement %d", i+1)}
	}
	_, err = s.AddItems(context.Background(), items)
	require.NoError(t, err)
	return s
}

func openGate() *quota.Gate {
	return quota.NewGate(1e9, time.Minute, 1e9, time.Minute)
}

func keysFor(env provider.Env) staticKeys {
	return staticKeys{keyring.Entry{Credential: models.Credential{ID: 42}, Env: env}}
}

func TestApportion(t *testing.T) {
	assert.EqualValues(t, 3, Apportion(10, 3))
	assert.EqualValues(t, 0, Apportion(2, 3))
	assert.EqualValues(t, 5, Apportion(10, 2))
	assert.EqualValues(t, 0, Apportion(10, 0))
}

func TestPredictionCycleIsIdempotent(t *testing.T) {
	s := newStore(t, 3)
	env := &fakeEnv{usage: models.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}}
	r := NewPromptRunner(statementmeta.Template, 5, s, keysFor(env), openGate())
	ctx := context.Background()

	rep, err := r.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, rep.Items)
	assert.Equal(t, 3, rep.Persisted)
	assert.EqualValues(t, 42, rep.Credential)

	rep, err = r.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Idle())
	assert.Equal(t, 1, env.completions, "a cached batch must not be sent again")

	n, err := s.CountPredictions(ctx, statementmeta.Template.Identity())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestPredictionTokensApportioned(t *testing.T) {
	s := newStore(t, 3)
	env := &fakeEnv{usage: models.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}}
	gate := openGate()
	r := NewPromptRunner(statementmeta.Template, 5, s, keysFor(env), gate)
	ctx := context.Background()

	_, err := r.RunCycle(ctx)
	require.NoError(t, err)

	for id := int64(1); id <= 3; id++ {
		recs, err := s.Predictions(ctx, id)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		rec := recs[0]
		assert.EqualValues(t, 3, rec.TotalTokens)
		assert.EqualValues(t, 2, rec.PromptTokens)
		assert.EqualValues(t, 1, rec.CompletionTokens)
		assert.EqualValues(t, 42, rec.CredentialID)
		assert.Equal(t, "fake-model,fake", rec.Environment)
		assert.JSONEq(t, `{"kind":"politics","ideologies":[{"value":"liberalism","score":"strong"}],"tags":[{"value":"tax","score":"weak"}]}`, rec.Result)
	}

	// The limiter is charged with the reported total, not the apportioned sum.
	assert.EqualValues(t, 10, gate.Tokens.Usage())
	assert.EqualValues(t, 1, gate.Calls.Usage(), "one call per batch")
}

func TestParseFailurePersistsNothing(t *testing.T) {
	s := newStore(t, 3)
	env := &fakeEnv{
		usage: models.Usage{TotalTokens: 10},
		reply: func(lines []string) string { return politics(lines[:len(lines)-1]) },
	}
	audit := &memAudit{}
	r := NewPromptRunner(statementmeta.Template, 5, s, keysFor(env), openGate(), WithAudit(audit))
	ctx := context.Background()

	rep, err := r.RunCycle(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, parser.ErrParse))
	assert.Equal(t, 0, rep.Persisted)
	assert.EqualValues(t, 10, rep.Usage.TotalTokens)

	n, err := s.CountPredictions(ctx, statementmeta.Template.Identity())
	require.NoError(t, err)
	assert.Zero(t, n)

	e := audit.last()
	assert.Equal(t, models.OutcomeParseError, e.Outcome)
	assert.Contains(t, e.Content, "1|politics")

	again, err := s.NextBatch(ctx, statementmeta.Template.Identity(), 5)
	require.NoError(t, err)
	assert.Len(t, again, 3, "a rejected batch is reselected")
}

func TestProviderErrorPersistsNothing(t *testing.T) {
	s := newStore(t, 2)
	env := &fakeEnv{completeErr: errors.Mark(errors.New("502 bad gateway"), provider.ErrProvider)}
	audit := &memAudit{}
	tracker := &memTracker{}
	r := NewPromptRunner(statementmeta.Template, 5, s, keysFor(env), openGate(), WithAudit(audit), WithTracker(tracker))

	_, err := r.RunCycle(context.Background())
	assert.True(t, errors.Is(err, provider.ErrProvider))
	assert.Equal(t, models.OutcomeProviderError, audit.last().Outcome)
	assert.Empty(t, tracker.recs, "failed calls report no usage")
}

func TestVersionBumpRecomputes(t *testing.T) {
	s := newStore(t, 2)
	env := &fakeEnv{}
	ctx := context.Background()

	_, err := NewPromptRunner(statementmeta.Template, 5, s, keysFor(env), openGate()).RunCycle(ctx)
	require.NoError(t, err)

	v2 := statementmeta.Template
	v2.Version = 2
	rep, err := NewPromptRunner(v2, 5, s, keysFor(env), openGate()).RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Persisted)
	assert.Equal(t, 2, env.completions)
}

func TestFlaggedBatchIsSplit(t *testing.T) {
	s := newStore(t, 3)
	ctx := context.Background()
	env := &fakeEnv{
		moderation: "text-moderation-latest",
		flagged:    func(text string) bool { return strings.Contains(text, "statement 2") },
	}
	audit := &memAudit{}
	r := NewPromptRunner(statementmeta.Template, 5, s, keysFor(env), openGate(), WithAudit(audit))

	_, err := r.RunCycle(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFlagged))
	assert.Equal(t, 0, env.completions, "flagged batches are not completed")
	assert.Equal(t, models.OutcomeFlagged, audit.last().Outcome)
	for id := int64(1); id <= 3; id++ {
		f, err := s.Flag(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.FlagMaybe, f.State)
		assert.Equal(t, []models.FlagCategory{{Name: "hate", Value: true}}, f.Categories)
	}

	// Each maybe-flagged item is retried alone.
	rep, err := r.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, rep.Items)
	f, err := s.Flag(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.FlagClear, f.State)

	rep, err = r.RunCycle(ctx)
	assert.True(t, errors.Is(err, ErrFlagged))
	assert.Equal(t, []int64{2}, rep.Items)
	f, err = s.Flag(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.FlagFlagged, f.State)

	rep, err = r.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, rep.Items)

	rep, err = r.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Idle(), "flagged items are never selected again")
}

func TestTokenOverageDelaysNextCycle(t *testing.T) {
	s := newStore(t, 4)
	env := &fakeEnv{usage: models.Usage{TotalTokens: 50}}
	gate := quota.NewGate(20, time.Hour, 100, time.Hour)
	gate.Poll = time.Millisecond
	gate.Timeout = 20 * time.Millisecond
	r := NewPromptRunner(statementmeta.Template, 2, s, keysFor(env), gate)
	ctx := context.Background()

	rep, err := r.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Persisted, "work already done is kept")
	assert.True(t, rep.Quota.Exceeded)
	assert.EqualValues(t, 30, rep.Quota.Overage)

	_, err = r.RunCycle(ctx)
	assert.True(t, errors.Is(err, quota.ErrAdmissionTimeout))
	assert.Equal(t, 1, env.completions)
}

func TestTrackerRecordsCompletion(t *testing.T) {
	s := newStore(t, 2)
	env := &fakeEnv{usage: models.Usage{PromptTokens: 8, CompletionTokens: 4, TotalTokens: 12}}
	tracker := &memTracker{}
	r := NewPromptRunner(statementmeta.Template, 5, s, keysFor(env), openGate(), WithTracker(tracker))

	_, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, tracker.recs, 1)
	rec := tracker.recs[0]
	assert.Equal(t, models.OpCompletion, rec.Operation)
	assert.Equal(t, 2, rec.Items)
	assert.EqualValues(t, 12, rec.TotalTokens)
	assert.EqualValues(t, 42, rec.CredentialID)
	assert.Equal(t, "statement_meta", rec.PromptName)
}

func TestEmbeddingsCycle(t *testing.T) {
	s := newStore(t, 3)
	env := &fakeEnv{embedUsage: models.Usage{PromptTokens: 30, TotalTokens: 30}}
	gate := quota.NewGate(10, time.Hour, 100, time.Hour)
	mirror := &memMirror{}
	audit := &memAudit{}
	r := NewEmbeddingsRunner(2, s, keysFor(env), gate, WithMirror(mirror), WithAudit(audit))
	ctx := context.Background()

	rep, err := r.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Persisted, "overage does not discard completed work")
	assert.True(t, rep.Quota.Exceeded)
	assert.EqualValues(t, 20, rep.Quota.Overage)
	assert.Len(t, mirror.recs, 2)
	assert.Equal(t, models.OutcomeOK, audit.last().Outcome)

	rec, err := s.Embedding(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, float64(len("statement 2"))}, rec.Vector)
	assert.EqualValues(t, 30, rec.PromptTokens, "embeddings keep the batch total")
	assert.EqualValues(t, 42, rec.CredentialID)

	assert.False(t, gate.Tokens.Check(), "the next admission must wait")
}

func TestEmbeddingsIdle(t *testing.T) {
	s := newStore(t, 0)
	env := &fakeEnv{}
	rep, err := NewEmbeddingsRunner(5, s, keysFor(env), openGate()).RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Idle())
	assert.Zero(t, env.embeds)
}

type countingCycler struct {
	mu sync.Mutex
	n  int
}

func (c *countingCycler) RunCycle(context.Context) (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	if c.n%2 == 0 {
		return Report{}, errors.New("transient")
	}
	return Report{}, nil
}

func TestLoopRunsUntilCancelled(t *testing.T) {
	c := &countingCycler{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Loop(ctx, "test", c, time.Millisecond, nil) }()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.n >= 3
	}, time.Second, time.Millisecond, "loop must survive cycle errors")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
