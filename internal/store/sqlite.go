package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	apperrors "conviction-engine/internal/errors"
	"conviction-engine/internal/models"
	"conviction-engine/internal/snapshot"
)

// SQLiteStore implements SnapshotStore using SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu          sync.RWMutex
	lastSuccess map[models.Source]time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer per cycle; readers only at startup.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:          db,
		lastSuccess: make(map[models.Source]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Committed snapshots, payload is the JSON encoded snapshot
	CREATE TABLE IF NOT EXISTS snapshots (
		version INTEGER PRIMARY KEY,
		cycle_id TEXT NOT NULL UNIQUE,
		profile TEXT NOT NULL,
		as_of DATETIME NOT NULL,
		committed_at DATETIME NOT NULL,
		tickers INTEGER NOT NULL,
		events INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Per-source outcome of every cycle
	CREATE TABLE IF NOT EXISTS source_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_id TEXT NOT NULL,
		source TEXT NOT NULL,
		ok INTEGER NOT NULL,
		reused INTEGER DEFAULT 0,
		events INTEGER NOT NULL,
		dropped INTEGER NOT NULL,
		error TEXT,
		duration INTEGER NOT NULL,
		run_at DATETIME NOT NULL,
		UNIQUE(cycle_id, source)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_committed ON snapshots(committed_at);
	CREATE INDEX IF NOT EXISTS idx_source_runs_source ON source_runs(source, run_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabaseError, err)
	}
	return nil
}

// ============================================================================
// Snapshot Methods
// ============================================================================

// SaveSnapshot stores a committed snapshot. Saving a version twice replaces
// the earlier row, which happens when a stale flag is persisted.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *snapshot.Snapshot) error {
	if snap == nil || snap.Version == 0 {
		return fmt.Errorf("%w: snapshot has not been published", apperrors.ErrDatabaseError)
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots (version, cycle_id, profile, as_of, committed_at, tickers, events, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, snap.Version, snap.CycleID.String(), snap.Profile, snap.AsOf.UTC(), snap.CommittedAt.UTC(),
		len(snap.Convictions), len(snap.Events), string(payload))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadLatest returns the snapshot with the highest version. It returns
// ErrNoSnapshot when the database is empty.
func (s *SQLiteStore) LoadLatest(ctx context.Context) (*snapshot.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM snapshots ORDER BY version DESC LIMIT 1
	`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap snapshot.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// ListSnapshots returns snapshot headers, newest first.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT version, cycle_id, profile, as_of, committed_at, tickers, events
		FROM snapshots
		ORDER BY version DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var infos []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var cycleID string
		if err := rows.Scan(&info.Version, &cycleID, &info.Profile, &info.AsOf, &info.CommittedAt, &info.Tickers, &info.Events); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		info.CycleID, _ = uuid.Parse(cycleID)
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return infos, nil
}

// Prune deletes all but the newest keep snapshots and the source runs of
// the deleted cycles.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM source_runs WHERE cycle_id IN (
			SELECT cycle_id FROM snapshots WHERE version NOT IN (
				SELECT version FROM snapshots ORDER BY version DESC LIMIT ?
			)
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune source runs: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM snapshots WHERE version NOT IN (
			SELECT version FROM snapshots ORDER BY version DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}

// ============================================================================
// Source Run Methods
// ============================================================================

// RecordSourceRuns stores the per-source outcome of a cycle.
func (s *SQLiteStore) RecordSourceRuns(ctx context.Context, runs []SourceRun) error {
	if len(runs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO source_runs (cycle_id, source, ok, reused, events, dropped, error, duration, run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range runs {
		_, err := stmt.ExecContext(ctx, r.CycleID.String(), string(r.Source), boolToInt(r.OK), boolToInt(r.Reused),
			r.Events, r.Dropped, r.Error, r.Duration.Nanoseconds(), r.RunAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert source run for %s: %w", r.Source, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit source runs: %w", err)
	}

	s.mu.Lock()
	for _, r := range runs {
		if r.OK && !r.Reused && r.RunAt.After(s.lastSuccess[r.Source]) {
			s.lastSuccess[r.Source] = r.RunAt.UTC()
		}
	}
	s.mu.Unlock()

	return nil
}

// GetSourceRuns retrieves source runs, newest first.
func (s *SQLiteStore) GetSourceRuns(ctx context.Context, filter RunFilter) ([]SourceRun, error) {
	query := "SELECT cycle_id, source, ok, reused, events, dropped, error, duration, run_at FROM source_runs WHERE 1=1"
	args := []interface{}{}

	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, string(filter.Source))
	}
	if filter.FailedOnly {
		query += " AND ok = 0"
	}
	if !filter.Since.IsZero() {
		query += " AND run_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY run_at DESC, source ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query source runs: %w", err)
	}
	defer rows.Close()

	var runs []SourceRun
	for rows.Next() {
		var r SourceRun
		var cycleID, source string
		var ok, reused int
		var errMsg sql.NullString
		var duration int64
		if err := rows.Scan(&cycleID, &source, &ok, &reused, &r.Events, &r.Dropped, &errMsg, &duration, &r.RunAt); err != nil {
			return nil, fmt.Errorf("failed to scan source run: %w", err)
		}
		r.CycleID, _ = uuid.Parse(cycleID)
		r.Source = models.Source(source)
		r.OK = ok == 1
		r.Reused = reused == 1
		r.Error = errMsg.String
		r.Duration = time.Duration(duration)
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source runs: %w", err)
	}

	return runs, nil
}

// GetLastSuccess returns when src last produced fresh data, or the zero
// time when it never has.
func (s *SQLiteStore) GetLastSuccess(ctx context.Context, src models.Source) (time.Time, error) {
	s.mu.RLock()
	if t, ok := s.lastSuccess[src]; ok {
		s.mu.RUnlock()
		return t, nil
	}
	s.mu.RUnlock()

	var runAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT run_at FROM source_runs
		WHERE source = ? AND ok = 1 AND reused = 0
		ORDER BY run_at DESC LIMIT 1
	`, string(src)).Scan(&runAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last success: %w", err)
	}

	runAt = runAt.UTC()
	s.mu.Lock()
	s.lastSuccess[src] = runAt
	s.mu.Unlock()

	return runAt, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
