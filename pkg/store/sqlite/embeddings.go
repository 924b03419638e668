package sqlite

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"github.com/propolis-ai/annotator/pkg/models"
	"github.com/propolis-ai/annotator/pkg/vector"
)

// SaveEmbeddings writes recs in one transaction. An item that already has an
// embedding rolls back the whole batch with ErrDuplicate.
func (s *Store) SaveEmbeddings(ctx context.Context, recs []models.EmbeddingRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(err, "begin save embeddings")
	}
	defer rollback(tx)

	now := s.timestamp()
	for _, r := range recs {
		created := r.CreatedAt
		if created.IsZero() {
			created = now
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO embeddings (item_id, vector, dims, prompt_tokens, credential_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.ItemID, vector.Encode(r.Vector), len(r.Vector), r.PromptTokens, r.CredentialID, created,
		)
		if err != nil {
			return wrap(err, "insert embedding")
		}
	}
	if err := tx.Commit(); err != nil {
		return wrap(err, "commit embeddings")
	}
	return nil
}

// Embedding returns the embedding of an item or ErrNotFound.
func (s *Store) Embedding(ctx context.Context, itemID int64) (models.EmbeddingRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT item_id, vector, prompt_tokens, credential_id, created_at
		 FROM embeddings WHERE item_id = ?`, itemID)
	rec, err := scanEmbedding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EmbeddingRecord{}, errors.Wrapf(ErrNotFound, "embedding for item %d", itemID)
	}
	return rec, err
}

// Embeddings returns every stored embedding ordered by item id.
func (s *Store) Embeddings(ctx context.Context) ([]models.EmbeddingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, vector, prompt_tokens, credential_id, created_at
		 FROM embeddings ORDER BY item_id`)
	if err != nil {
		return nil, wrap(err, "query embeddings")
	}
	defer rows.Close()

	var out []models.EmbeddingRecord
	for rows.Next() {
		rec, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "iterate embeddings")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEmbedding(row scanner) (models.EmbeddingRecord, error) {
	var rec models.EmbeddingRecord
	var blob []byte
	if err := row.Scan(&rec.ItemID, &blob, &rec.PromptTokens, &rec.CredentialID, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, wrap(err, "scan embedding")
	}
	v, err := vector.DecodeBinary(blob)
	if err != nil {
		return rec, wrap(err, "decode embedding")
	}
	rec.Vector = v
	return rec, nil
}
