package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/propolis-ai/annotator/pkg/models"
)

func tempCfg() models.AuditConfig {
	return models.AuditConfig{
		Enabled:       true,
		RetentionDays: 90,
		MaxBodySize:   1024,
	}
}

func mustNew(t *testing.T, cfg models.AuditConfig) *Logger {
	t.Helper()
	l, err := New(filepath.Join(t.TempDir(), "audit_test.db"), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleEntry() models.AuditEntry {
	return models.AuditEntry{
		ID:            "entry-001",
		RunID:         "run-1",
		CredentialID:  3,
		Environment:   "gpt-3.5-turbo,openai",
		Operation:     models.OpCompletion,
		PromptName:    "statement_meta",
		PromptVersion: 1,
		ItemIDs:       []int64{4, 5, 6},
		Outcome:       models.OutcomeOK,
		Content:       "4|politics|a|b|c|d|e|f",
		TotalTokens:   30,
		LatencyMs:     150,
		CreatedAt:     time.Now(),
	}
}

func TestLogAndQuery(t *testing.T) {
	l := mustNew(t, tempCfg())
	ctx := context.Background()

	if err := l.Log(ctx, sampleEntry()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{PromptName: "statement_meta"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ID != "entry-001" || e.RunID != "run-1" || e.Operation != models.OpCompletion {
		t.Errorf("unexpected entry %+v", e)
	}
	if len(e.ItemIDs) != 3 || e.ItemIDs[2] != 6 {
		t.Errorf("expected item ids to round-trip, got %v", e.ItemIDs)
	}
}

func TestLogAssignsID(t *testing.T) {
	l := mustNew(t, tempCfg())
	ctx := context.Background()

	entry := sampleEntry()
	entry.ID = ""
	if err := l.Log(ctx, entry); err != nil {
		t.Fatalf("Log: %v", err)
	}
	entries, _ := l.Query(ctx, models.AuditQueryOpts{RunID: "run-1"})
	if len(entries) != 1 || len(entries[0].ID) != 36 {
		t.Fatalf("expected generated uuid, got %+v", entries)
	}
}

func TestQueryByOutcome(t *testing.T) {
	l := mustNew(t, tempCfg())
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	failed := sampleEntry()
	failed.ID = "entry-002"
	failed.Outcome = models.OutcomeParseError
	failed.Error = "got 2 rows, expected 3"
	_ = l.Log(ctx, failed)

	entries, err := l.Query(ctx, models.AuditQueryOpts{Outcome: models.OutcomeParseError})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].Error != "got 2 rows, expected 3" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestContentTruncation(t *testing.T) {
	cfg := tempCfg()
	cfg.MaxBodySize = 16
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.Content = strings.Repeat("x", 100)
	if err := l.Log(ctx, entry); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{ID: "entry-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries[0].Content) != 16 {
		t.Errorf("expected truncated content len 16, got %d", len(entries[0].Content))
	}
}

func TestCleanup(t *testing.T) {
	cfg := tempCfg()
	cfg.RetentionDays = 1
	l := mustNew(t, cfg)
	ctx := context.Background()

	old := sampleEntry()
	old.CreatedAt = time.Now().AddDate(0, 0, -2)
	_ = l.Log(ctx, old)
	fresh := sampleEntry()
	fresh.ID = "entry-002"
	_ = l.Log(ctx, fresh)

	deleted, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestCleanupDisabled(t *testing.T) {
	cfg := tempCfg()
	cfg.RetentionDays = 0
	l := mustNew(t, cfg)
	ctx := context.Background()

	old := sampleEntry()
	old.CreatedAt = time.Now().AddDate(-1, 0, 0)
	_ = l.Log(ctx, old)

	deleted, err := l.Cleanup(ctx)
	if err != nil || deleted != 0 {
		t.Errorf("expected nothing deleted, got %d (%v)", deleted, err)
	}
}

func TestStats(t *testing.T) {
	l := mustNew(t, tempCfg())
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	e2 := sampleEntry()
	e2.ID = "entry-002"
	_ = l.Log(ctx, e2)

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) == 0 {
		t.Fatal("expected stats")
	}
	if stats[0].Count != 2 || stats[0].Outcome != models.OutcomeOK {
		t.Errorf("unexpected stat %+v", stats[0])
	}
}

func TestNilLoggerSafe(t *testing.T) {
	var l *Logger
	if err := l.Log(context.Background(), sampleEntry()); err != nil {
		t.Errorf("nil logger should be safe: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("nil close should be safe: %v", err)
	}
}

func TestNewInvalidPath(t *testing.T) {
	_, err := New(filepath.Join(os.TempDir(), "nonexistent", "deep", "path", "audit.db"), tempCfg())
	if err == nil {
		t.Error("expected error for invalid path")
	}
}
