// Package tracker keeps a ledger of provider invocations and their token usage.
package tracker

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/propolis-ai/annotator/pkg/models"
)

// Tracker records and queries token usage.
type Tracker interface {
	// Record stores a usage record.
	Record(ctx context.Context, rec models.UsageRecord) error
	// Since returns records created at or after since, newest first.
	Since(ctx context.Context, since time.Time) ([]models.UsageRecord, error)
	// TotalByCredential returns total tokens used with a credential since a given time.
	TotalByCredential(ctx context.Context, credentialID int64, since time.Time) (int64, error)
	// Summary returns usage grouped by operation, model and prompt. Cost is
	// estimated from pricing when a matching model entry exists.
	Summary(ctx context.Context, pricing []models.ModelPricing) ([]models.UsageSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	credential_id INTEGER NOT NULL DEFAULT 0,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	operation TEXT NOT NULL,
	prompt_name TEXT NOT NULL DEFAULT '',
	prompt_version INTEGER NOT NULL DEFAULT 0,
	items INTEGER NOT NULL DEFAULT 0,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_credential_time ON usage_records(credential_id, created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open tracker db")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "configure tracker db")
	}
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate tracker db")
	}
	return &SQLiteTracker{db: db}, nil
}

// Record stores a usage record.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records
		 (credential_id, provider, model, operation, prompt_name, prompt_version, items,
		  prompt_tokens, completion_tokens, total_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CredentialID, rec.Provider, rec.Model, string(rec.Operation), rec.PromptName, rec.PromptVersion, rec.Items,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "record usage")
	}
	return nil
}

// Since returns usage records created at or after since, newest first.
func (t *SQLiteTracker) Since(ctx context.Context, since time.Time) ([]models.UsageRecord, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, credential_id, provider, model, operation, prompt_name, prompt_version, items,
		        prompt_tokens, completion_tokens, total_tokens, created_at
		 FROM usage_records WHERE created_at >= ? ORDER BY created_at DESC, id DESC`,
		since.UTC(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "query usage")
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		var op string
		if err := rows.Scan(&r.ID, &r.CredentialID, &r.Provider, &r.Model, &op, &r.PromptName, &r.PromptVersion, &r.Items,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan usage")
		}
		r.Operation = models.Operation(op)
		records = append(records, r)
	}
	return records, rows.Err()
}

// TotalByCredential returns total tokens used with a credential since a given time.
func (t *SQLiteTracker) TotalByCredential(ctx context.Context, credentialID int64, since time.Time) (int64, error) {
	var total int64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_tokens), 0) FROM usage_records WHERE credential_id = ? AND created_at >= ?`,
		credentialID, since.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "total usage")
	}
	return total, nil
}

// Summary returns aggregated usage grouped by operation, model and prompt.
func (t *SQLiteTracker) Summary(ctx context.Context, pricing []models.ModelPricing) ([]models.UsageSummary, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT operation, model, prompt_name, prompt_version, COUNT(*), SUM(items),
		        SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens)
		 FROM usage_records
		 GROUP BY operation, model, prompt_name, prompt_version
		 ORDER BY operation, model, prompt_name, prompt_version`)
	if err != nil {
		return nil, errors.Wrap(err, "summary")
	}
	defer rows.Close()

	prices := make(map[string]models.ModelPricing, len(pricing))
	for _, p := range pricing {
		prices[p.Model] = p
	}

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		var op string
		if err := rows.Scan(&op, &s.Model, &s.PromptName, &s.PromptVersion, &s.Invocations, &s.Items,
			&s.TotalPrompt, &s.TotalCompletion, &s.TotalTokens); err != nil {
			return nil, errors.Wrap(err, "scan summary")
		}
		s.Operation = models.Operation(op)
		if p, ok := prices[s.Model]; ok {
			s.EstimatedCost = p.Cost(s.TotalPrompt, s.TotalCompletion)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
