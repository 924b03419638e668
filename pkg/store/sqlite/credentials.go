package sqlite

import (
	"context"

	"github.com/propolis-ai/annotator/pkg/models"
)

// Credential returns the credential row for hash, creating it if needed.
func (s *Store) Credential(ctx context.Context, hash, note string) (models.Credential, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (hash, note, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(hash) DO NOTHING`, hash, note, s.timestamp())
	if err != nil {
		return models.Credential{}, wrap(err, "insert credential")
	}

	c := models.Credential{Hash: hash}
	err = s.db.QueryRowContext(ctx,
		`SELECT id, note FROM credentials WHERE hash = ?`, hash).Scan(&c.ID, &c.Note)
	if err != nil {
		return models.Credential{}, wrap(err, "query credential")
	}
	return c, nil
}
