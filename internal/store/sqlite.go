package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteDB implements DB on a single SQLite file.
type SQLiteDB struct {
	db *sql.DB
}

var _ DB = (*SQLiteDB)(nil)

// NewSQLiteDB opens (or creates) the database at path. Use ":memory:" in tests.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite is not concurrent for writes
	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Migrate applies every pending migration.
func (s *SQLiteDB) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, sub)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// exec retries writes that lose a lock race with another process.
func (s *SQLiteDB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	backoff := retry.WithMaxRetries(5, retry.NewExponential(10*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		if isBusy(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	return res, err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// SaveRun inserts run, assigning an ID and creation time when missing.
func (s *SQLiteDB) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.State == "" {
		run.State = RunRunning
	}

	_, err := s.exec(ctx, `INSERT INTO runs (
		id, target, start_key, end_key, mode, attempts, prefix_length, workers,
		resumed, state, examined, match_count, engine_version, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Target, run.Start, run.End, run.Mode, run.Attempts, run.PrefixLength, run.Workers,
		boolInt(run.Resumed), run.State, int64(run.Examined), int64(run.MatchCount), run.EngineVersion,
		run.CreatedAt.UnixMilli(),
	)
	return err
}

// FinishRun records the final state and counters of a run.
func (s *SQLiteDB) FinishRun(ctx context.Context, id, state string, examined, matches uint64) error {
	res, err := s.exec(ctx, `UPDATE runs SET state = ?, examined = ?, match_count = ?, finished_at = ? WHERE id = ?`,
		state, int64(examined), int64(matches), time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *SQLiteDB) SaveMatch(ctx context.Context, m *Match) error {
	if m.FoundAt.IsZero() {
		m.FoundAt = time.Now().UTC()
	}
	res, err := s.exec(ctx, `INSERT INTO matches (run_id, worker, key_hex, address, prefix, found_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.RunID, m.Worker, m.Key, m.Address, m.Prefix, m.FoundAt.UnixMilli())
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		m.ID = id
	}
	return nil
}

const runColumns = `id, target, start_key, end_key, mode, attempts, prefix_length, workers,
	resumed, state, examined, match_count, engine_version, created_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run               Run
		resumed           int
		examined, matches int64
		createdAt         int64
		finishedAt        sql.NullInt64
	)
	err := row.Scan(&run.ID, &run.Target, &run.Start, &run.End, &run.Mode, &run.Attempts,
		&run.PrefixLength, &run.Workers, &resumed, &run.State, &examined, &matches,
		&run.EngineVersion, &createdAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	run.Resumed = resumed == 1
	run.Examined = uint64(examined)
	run.MatchCount = uint64(matches)
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64).UTC()
		run.FinishedAt = &t
	}
	return &run, nil
}

func (s *SQLiteDB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// ListRuns returns a page of runs, newest first. PerPage defaults to 50.
func (s *SQLiteDB) ListRuns(ctx context.Context, query RunsQuery) (*RunsList, error) {
	var totalCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to get total count: %w", err)
	}

	if query.PerPage <= 0 {
		query.PerPage = 50
	}
	if query.Page <= 0 {
		query.Page = 1
	}
	totalPages := (totalCount + query.PerPage - 1) / query.PerPage
	offset := (query.Page - 1) * query.PerPage

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
		ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, query.PerPage, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return &RunsList{
		Runs:       runs,
		TotalCount: totalCount,
		Page:       query.Page,
		PerPage:    query.PerPage,
		TotalPages: totalPages,
	}, nil
}

// GetMatches returns a run's matches in the order they were found.
func (s *SQLiteDB) GetMatches(ctx context.Context, runID string) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, run_id, worker, key_hex, address, prefix, found_at
		FROM matches WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var m Match
		var foundAt int64
		if err := rows.Scan(&m.ID, &m.RunID, &m.Worker, &m.Key, &m.Address, &m.Prefix, &foundAt); err != nil {
			return nil, err
		}
		m.FoundAt = time.UnixMilli(foundAt).UTC()
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
