package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
	"github.com/ByteInternet/nginx-config-reloader/internal/reconciler"
)

const (
	defaultKeep   = 500
	recordTimeout = 5 * time.Second
)

// Entry is one stored attempt.
type Entry struct {
	ID         int64                  `json:"id"`
	AttemptID  string                 `json:"attempt_id"`
	Trigger    reconciler.Trigger     `json:"trigger"`
	Outcome    reconciler.Outcome     `json:"outcome"`
	Kind       reconciler.FailureKind `json:"failure_kind,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Published  bool                   `json:"published,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
}

// Duration is the wall time of the attempt.
func (e Entry) Duration() time.Duration {
	if e.FinishedAt.Before(e.StartedAt) {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Store is the SQLite-backed attempt log.
type Store struct {
	db     *sql.DB
	path   string
	keep   int
	logger *slog.Logger
}

// Open creates or opens the database at path. keep bounds the number of
// stored attempts; zero selects the default.
func Open(path string, keep int, logger *slog.Logger) (*Store, error) {
	if keep <= 0 {
		keep = defaultKeep
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	store := &Store{db: db, path: path, keep: keep, logger: logging.NewComponentLogger(logger, "history")}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores res and drops attempts beyond the retention limit.
func (s *Store) Record(ctx context.Context, res reconciler.Result) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (
            attempt_id, trigger_name, outcome, failure_kind, message, published, started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.AttemptID,
		string(res.Trigger),
		string(res.Outcome),
		nullableString(string(res.Kind)),
		nullableString(res.Message),
		boolToInt(res.Published),
		res.StartedAt.UTC().Format(time.RFC3339Nano),
		res.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM attempts WHERE id NOT IN (SELECT id FROM attempts ORDER BY id DESC LIMIT ?)`,
		s.keep,
	); err != nil {
		return fmt.Errorf("prune attempts: %w", err)
	}
	return nil
}

// Observe records res. Skipped attempts carry no information and are dropped.
func (s *Store) Observe(res reconciler.Result) {
	if res.Outcome == reconciler.OutcomeSkipped {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.Record(ctx, res); err != nil {
		logging.WarnWithContext(s.logger, "attempt not recorded", "history_write_failed",
			logging.Path(s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the attempt is missing from the history"),
		)
	}
}

// List returns up to limit attempts, newest first. A non-empty outcome filters.
func (s *Store) List(ctx context.Context, limit int, outcome reconciler.Outcome) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, attempt_id, trigger_name, outcome, failure_kind, message, published, started_at, finished_at
        FROM attempts`
	args := []any{}
	if outcome != "" {
		query += ` WHERE outcome = ?`
		args = append(args, string(outcome))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Counts groups stored attempts by outcome.
func (s *Store) Counts(ctx context.Context) (map[reconciler.Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(1) FROM attempts GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}
	defer rows.Close()

	counts := make(map[reconciler.Outcome]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		counts[reconciler.Outcome(outcome)] = count
	}
	return counts, rows.Err()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		entry      Entry
		trigger    string
		outcome    string
		kind       sql.NullString
		message    sql.NullString
		published  int
		startedAt  string
		finishedAt string
	)
	if err := rows.Scan(&entry.ID, &entry.AttemptID, &trigger, &outcome, &kind, &message, &published, &startedAt, &finishedAt); err != nil {
		return Entry{}, fmt.Errorf("scan attempt: %w", err)
	}
	entry.Trigger = reconciler.Trigger(trigger)
	entry.Outcome = reconciler.Outcome(outcome)
	entry.Kind = reconciler.FailureKind(kind.String)
	entry.Message = message.String
	entry.Published = published != 0
	entry.StartedAt = parseTime(startedAt)
	entry.FinishedAt = parseTime(finishedAt)
	return entry, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
