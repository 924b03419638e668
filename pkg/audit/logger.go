// Package audit keeps the raw provider responses of each cycle so failed
// batches can be inspected after the fact.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/propolis-ai/annotator/pkg/models"
)

// Logger writes and queries audit entries in SQLite.
type Logger struct {
	db   *sql.DB
	cfg  models.AuditConfig
	done chan struct{}
	wg   sync.WaitGroup
}

// New opens the audit database, creates the schema and starts the hourly
// retention cleanup.
func New(dbPath string, cfg models.AuditConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open audit db")
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate audit db")
	}

	l := &Logger{
		db:   db,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.retentionLoop()

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS audit_log (
		id             TEXT PRIMARY KEY,
		run_id         TEXT NOT NULL,
		credential_id  INTEGER NOT NULL DEFAULT 0,
		environment    TEXT NOT NULL,
		operation      TEXT NOT NULL,
		prompt_name    TEXT NOT NULL DEFAULT '',
		prompt_version INTEGER NOT NULL DEFAULT 0,
		item_ids       TEXT NOT NULL,
		outcome        TEXT NOT NULL,
		content        TEXT,
		error          TEXT,
		total_tokens   INTEGER NOT NULL DEFAULT 0,
		latency_ms     INTEGER NOT NULL DEFAULT 0,
		created_at     DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_log(run_id);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_outcome ON audit_log(outcome);`)
	return err
}

// Log inserts an entry. A nil Logger discards everything.
func (l *Logger) Log(ctx context.Context, entry models.AuditEntry) error {
	if l == nil || l.db == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	content := entry.Content
	if l.cfg.MaxBodySize > 0 && len(content) > l.cfg.MaxBodySize {
		content = content[:l.cfg.MaxBodySize]
	}
	ids := entry.ItemIDs
	if ids == nil {
		ids = []int64{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return errors.Wrap(err, "encode item ids")
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO audit_log
		(id, run_id, credential_id, environment, operation, prompt_name, prompt_version,
		 item_ids, outcome, content, error, total_tokens, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RunID, entry.CredentialID, entry.Environment, string(entry.Operation),
		entry.PromptName, entry.PromptVersion, string(idsJSON), string(entry.Outcome),
		content, entry.Error, entry.TotalTokens, entry.LatencyMs, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "insert audit entry")
	}
	return nil
}

// Query returns audit entries matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	q := `SELECT id, run_id, credential_id, environment, operation, prompt_name, prompt_version,
		item_ids, outcome, content, error, total_tokens, latency_ms, created_at
		FROM audit_log WHERE 1=1`
	var args []any

	if opts.ID != "" {
		q += " AND id = ?"
		args = append(args, opts.ID)
	}
	if opts.RunID != "" {
		q += " AND run_id = ?"
		args = append(args, opts.RunID)
	}
	if opts.PromptName != "" {
		q += " AND prompt_name = ?"
		args = append(args, opts.PromptName)
	}
	if opts.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, string(opts.Outcome))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query audit")
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var op, outcome, ids string
		var content, errText sql.NullString
		if err := rows.Scan(
			&e.ID, &e.RunID, &e.CredentialID, &e.Environment, &op, &e.PromptName, &e.PromptVersion,
			&ids, &outcome, &content, &errText, &e.TotalTokens, &e.LatencyMs, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan audit row")
		}
		e.Operation = models.Operation(op)
		e.Outcome = models.Outcome(outcome)
		e.Content = content.String
		e.Error = errText.String
		_ = json.Unmarshal([]byte(ids), &e.ItemIDs)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns aggregate counts grouped by outcome and day.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT outcome, date(created_at) as day, count(*) as cnt
		 FROM audit_log GROUP BY outcome, day ORDER BY day DESC, outcome`)
	if err != nil {
		return nil, errors.Wrap(err, "audit stats")
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var s models.AuditStat
		var outcome string
		var day sql.NullString
		if err := rows.Scan(&outcome, &day, &s.Count); err != nil {
			return nil, errors.Wrap(err, "scan audit stat")
		}
		s.Outcome = models.Outcome(outcome)
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the configured retention period.
// A non-positive retention keeps everything.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "audit cleanup")
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}
