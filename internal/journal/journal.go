// Package journal keeps a SQLite history of display transactions.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"duodisplayd/internal/engine"
	"duodisplayd/internal/logging"
	"duodisplayd/internal/orientation"
)

// Transaction outcomes.
const (
	OutcomeApplied     = "applied"
	OutcomeSoftFailure = "soft_failure"
	OutcomeFailed      = "failed"
)

// Entry is one journaled transaction.
type Entry struct {
	ID           string               `json:"id"`
	Started      time.Time            `json:"started"`
	Duration     time.Duration        `json:"duration"`
	Panel1       string               `json:"panel1"`
	Panel2       string               `json:"panel2"`
	Rotation1    orientation.Rotation `json:"rotation1"`
	Rotation2    orientation.Rotation `json:"rotation2"`
	Enabled1     bool                 `json:"enabled1"`
	Enabled2     bool                 `json:"enabled2"`
	Primary      string               `json:"primary,omitempty"`
	Shortcut     bool                 `json:"shortcut"`
	Outcome      string               `json:"outcome"`
	Error        string               `json:"error,omitempty"`
	SoftFailures []string             `json:"soft_failures,omitempty"`
}

// Options bound the size of the journal. Zero values disable a bound.
type Options struct {
	RetentionDays int
	MaxEntries    int
	Logger        *logging.Logger
}

// Journal is the transaction history. It implements engine.Recorder.
type Journal struct {
	db   *sql.DB
	opts Options
	log  *logging.Logger
}

// Open opens or creates the database at path and migrates it.
func Open(path string, opts Options) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{
		db:   db,
		opts: opts,
		log:  logging.OrDefault(opts.Logger).WithComponent("journal"),
	}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Record implements engine.Recorder.
func (j *Journal) Record(ctx context.Context, res engine.Result, txErr error) error {
	outcome := OutcomeApplied
	var errText sql.NullString
	switch {
	case txErr != nil:
		outcome = OutcomeFailed
		errText = sql.NullString{String: txErr.Error(), Valid: true}
	case len(res.SoftFailures) > 0:
		outcome = OutcomeSoftFailure
	}

	var soft sql.NullString
	if len(res.SoftFailures) > 0 {
		msgs := make([]string, len(res.SoftFailures))
		for i, e := range res.SoftFailures {
			msgs[i] = e.Error()
		}
		data, err := json.Marshal(msgs)
		if err != nil {
			return fmt.Errorf("encode soft failures: %w", err)
		}
		soft = sql.NullString{String: string(data), Valid: true}
	}

	req := res.Request
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO transactions (id, started_ns, duration_ns, panel1, panel2, rotation1, rotation2,
			enabled1, enabled2, primary_panel, outcome, error, shortcut, soft_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.TransactionID, res.Started.UnixNano(), int64(res.Duration), req.Panel1, req.Panel2,
		int(req.Rotation1), int(req.Rotation2), req.Enabled1, req.Enabled2,
		nullString(res.Primary), outcome, errText, res.Shortcut, soft,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// History returns up to limit entries, newest first. A limit of 0 or less
// returns everything.
func (j *Journal) History(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, started_ns, duration_ns, panel1, panel2, rotation1, rotation2,
			enabled1, enabled2, primary_panel, outcome, error, shortcut, soft_failures
		FROM transactions
		ORDER BY started_ns DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                Entry
			startedNs, durNs int64
			rot1, rot2       int
			primary, errText sql.NullString
			soft             sql.NullString
		)
		if err := rows.Scan(&e.ID, &startedNs, &durNs, &e.Panel1, &e.Panel2, &rot1, &rot2,
			&e.Enabled1, &e.Enabled2, &primary, &e.Outcome, &errText, &e.Shortcut, &soft); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		e.Started = time.Unix(0, startedNs)
		e.Duration = time.Duration(durNs)
		e.Rotation1, e.Rotation2 = orientation.Rotation(rot1), orientation.Rotation(rot2)
		e.Primary, e.Error = primary.String, errText.String
		if soft.Valid {
			if err := json.Unmarshal([]byte(soft.String), &e.SoftFailures); err != nil {
				return nil, fmt.Errorf("decode soft failures of %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of journaled transactions.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// Prune deletes entries older than the retention period and the oldest
// entries beyond MaxEntries. It returns the number of deleted rows.
func (j *Journal) Prune(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64

	if j.opts.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -j.opts.RetentionDays).UnixNano()
		res, err := j.db.ExecContext(ctx, "DELETE FROM transactions WHERE started_ns < ?", cutoff)
		if err != nil {
			return deleted, fmt.Errorf("prune by age: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if j.opts.MaxEntries > 0 {
		res, err := j.db.ExecContext(ctx, `
			DELETE FROM transactions WHERE rowid NOT IN (
				SELECT rowid FROM transactions ORDER BY started_ns DESC, rowid DESC LIMIT ?
			)`, j.opts.MaxEntries)
		if err != nil {
			return deleted, fmt.Errorf("prune by count: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	return deleted, nil
}

// RunPruner prunes on every tick until ctx is done.
func (j *Journal) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := j.Prune(ctx, now)
			if err != nil {
				j.log.Warn("journal prune failed", "error", err)
			} else if n > 0 {
				j.log.Debug("journal pruned", "deleted", n)
			}
		}
	}
}
