package sqlite

import (
	"context"

	"github.com/propolis-ai/annotator/pkg/models"
)

// SavePredictions writes recs in one transaction. If any record's cache key
// already exists the whole batch is rolled back and ErrDuplicate returned.
func (s *Store) SavePredictions(ctx context.Context, recs []models.PredictionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(err, "begin save predictions")
	}
	defer rollback(tx)

	now := s.timestamp()
	for _, r := range recs {
		created := r.CreatedAt
		if created.IsZero() {
			created = now
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO predictions
			(item_id, environment, prompt_name, prompt_version, result,
			 prompt_tokens, completion_tokens, total_tokens, credential_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ItemID, r.Environment, r.PromptName, r.PromptVersion, r.Result,
			r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.CredentialID, created,
		)
		if err != nil {
			return wrap(err, "insert prediction")
		}
	}
	if err := tx.Commit(); err != nil {
		return wrap(err, "commit predictions")
	}
	return nil
}

// Predictions returns all predictions of an item, newest prompt version first.
func (s *Store) Predictions(ctx context.Context, itemID int64) ([]models.PredictionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, environment, prompt_name, prompt_version, result,
		        prompt_tokens, completion_tokens, total_tokens, credential_id, created_at
		 FROM predictions WHERE item_id = ?
		 ORDER BY prompt_name, prompt_version DESC`, itemID)
	if err != nil {
		return nil, wrap(err, "query predictions")
	}
	defer rows.Close()

	var out []models.PredictionRecord
	for rows.Next() {
		var r models.PredictionRecord
		if err := rows.Scan(&r.ItemID, &r.Environment, &r.PromptName, &r.PromptVersion, &r.Result,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.CredentialID, &r.CreatedAt); err != nil {
			return nil, wrap(err, "scan prediction")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "iterate predictions")
	}
	return out, nil
}

// CountPredictions returns how many items have a prediction for id.
func (s *Store) CountPredictions(ctx context.Context, id models.PromptIdentity) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM predictions WHERE prompt_name = ? AND prompt_version = ?`,
		id.Name, id.Version).Scan(&n)
	if err != nil {
		return 0, wrap(err, "count predictions")
	}
	return n, nil
}
