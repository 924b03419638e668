package sqlite

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"github.com/propolis-ai/annotator/pkg/models"
)

// AddItems inserts items. An item with ID 0 gets the next free id; an item
// whose id already exists is left untouched. It returns the number inserted.
func (s *Store) AddItems(ctx context.Context, items []models.Item) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap(err, "begin add items")
	}
	defer rollback(tx)

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO items (id, text, created_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return 0, wrap(err, "prepare add items")
	}
	defer stmt.Close()

	now := s.timestamp()
	var added int
	for _, it := range items {
		var id any
		if it.ID != 0 {
			id = it.ID
		}
		res, err := stmt.ExecContext(ctx, id, it.Text, now)
		if err != nil {
			return 0, wrap(err, "insert item")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, wrap(err, "commit add items")
	}
	return added, nil
}

// ItemByID returns one item or ErrNotFound.
func (s *Store) ItemByID(ctx context.Context, id int64) (models.Item, error) {
	it := models.Item{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT text FROM items WHERE id = ?`, id).Scan(&it.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Item{}, errors.Wrapf(ErrNotFound, "item %d", id)
	}
	if err != nil {
		return models.Item{}, wrap(err, "query item")
	}
	return it, nil
}

const pendingPrediction = `NOT EXISTS (
	SELECT 1 FROM predictions p
	WHERE p.item_id = i.id AND p.prompt_name = ? AND p.prompt_version = ?)`

// NextBatch selects up to limit items that have no prediction for id.
//
// Items flagged by moderation are skipped. An item marked maybe-flagged that
// still lacks a prediction is returned alone, before any regular batch, so
// that a batch-level flag gets resolved per item.
func (s *Store) NextBatch(ctx context.Context, id models.PromptIdentity, limit int) ([]models.Item, error) {
	if limit <= 0 {
		return nil, nil
	}

	single, err := s.queryItems(ctx, `
		SELECT i.id, i.text FROM items i
		JOIN flags f ON f.item_id = i.id
		WHERE f.state = ? AND `+pendingPrediction+`
		ORDER BY i.id LIMIT 1`,
		models.FlagMaybe, id.Name, id.Version)
	if err != nil {
		return nil, err
	}
	if len(single) > 0 {
		return single, nil
	}

	return s.queryItems(ctx, `
		SELECT i.id, i.text FROM items i
		WHERE `+pendingPrediction+`
		AND NOT EXISTS (SELECT 1 FROM flags f WHERE f.item_id = i.id AND f.state <> ?)
		ORDER BY i.id LIMIT ?`,
		id.Name, id.Version, models.FlagClear, limit)
}

// Unembedded selects up to limit items without an embedding.
func (s *Store) Unembedded(ctx context.Context, limit int) ([]models.Item, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.queryItems(ctx, `
		SELECT i.id, i.text FROM items i
		WHERE NOT EXISTS (SELECT 1 FROM embeddings e WHERE e.item_id = i.id)
		ORDER BY i.id LIMIT ?`, limit)
}

// CountItems returns the number of items.
func (s *Store) CountItems(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, wrap(err, "count items")
	}
	return n, nil
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]models.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(err, "select items")
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		var it models.Item
		if err := rows.Scan(&it.ID, &it.Text); err != nil {
			return nil, wrap(err, "scan item")
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "iterate items")
	}
	return items, nil
}
