package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/propolis-ai/annotator/pkg/models"
)

// FlagItems sets state and categories for every item, creating missing rows.
func (s *Store) FlagItems(ctx context.Context, itemIDs []int64, state models.FlagState, categories []models.FlagCategory) error {
	if categories == nil {
		categories = []models.FlagCategory{}
	}
	cats, err := json.Marshal(categories)
	if err != nil {
		return wrap(err, "encode flag categories")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(err, "begin flag items")
	}
	defer rollback(tx)

	now := s.timestamp()
	for _, id := range itemIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO flags (item_id, state, categories, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(item_id) DO UPDATE SET
			   state = excluded.state,
			   categories = excluded.categories,
			   updated_at = excluded.updated_at`,
			id, state, string(cats), now, now)
		if err != nil {
			return wrap(err, "upsert flag")
		}
	}
	if err := tx.Commit(); err != nil {
		return wrap(err, "commit flags")
	}
	return nil
}

// ResolveFlag clears a maybe-flagged item after it passed moderation on its
// own. Items in any other state are left alone.
func (s *Store) ResolveFlag(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE flags SET state = ?, updated_at = ? WHERE item_id = ? AND state = ?`,
		models.FlagClear, s.timestamp(), itemID, models.FlagMaybe)
	return wrap(err, "resolve flag")
}

// Flag returns the flag of an item or ErrNotFound.
func (s *Store) Flag(ctx context.Context, itemID int64) (models.FlagRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT item_id, state, categories, created_at FROM flags WHERE item_id = ?`, itemID)
	rec, err := scanFlag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FlagRecord{}, errors.Wrapf(ErrNotFound, "flag for item %d", itemID)
	}
	return rec, err
}

// Flags lists flags in a non-clear state, ordered by item id.
func (s *Store) Flags(ctx context.Context) ([]models.FlagRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, state, categories, created_at FROM flags
		 WHERE state <> ? ORDER BY item_id`, models.FlagClear)
	if err != nil {
		return nil, wrap(err, "query flags")
	}
	defer rows.Close()

	var out []models.FlagRecord
	for rows.Next() {
		rec, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "iterate flags")
	}
	return out, nil
}

func scanFlag(row scanner) (models.FlagRecord, error) {
	var rec models.FlagRecord
	var cats string
	if err := row.Scan(&rec.ItemID, &rec.State, &cats, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, wrap(err, "scan flag")
	}
	if err := json.Unmarshal([]byte(cats), &rec.Categories); err != nil {
		return rec, wrap(err, "decode flag categories")
	}
	return rec, nil
}
