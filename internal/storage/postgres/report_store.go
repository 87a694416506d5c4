// Package postgres persists league reports as JSONB documents.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and table names. Records live in Table
// and league summaries in Table+"_leagues".
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// ReportStore implements crawler.ReportStore on Postgres.
type ReportStore struct {
	db      DB
	records string
	leagues string
	now     func() time.Time
}

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config) (*ReportStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithDB(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an existing pool. Tests pass a pgxmock pool.
func NewWithDB(db DB, table string) (*ReportStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if table == "" {
		table = "matches"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ReportStore{
		db:      db,
		records: table,
		leagues: table + "_leagues",
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the pool.
func (s *ReportStore) Close() {
	if s != nil && s.db != nil {
		s.db.Close()
	}
}

// Ping checks connectivity for readiness probes.
func (s *ReportStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the tables and indexes when missing.
func (s *ReportStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	window_key  TEXT NOT NULL,
	sequence    INTEGER NOT NULL,
	status      TEXT NOT NULL,
	match_date  TEXT,
	match_time  TEXT,
	doc         JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
)`, s.records),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_entity_idx ON %[1]s (entity_id, window_key, sequence)`, s.records),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	entity_id         TEXT PRIMARY KEY,
	entity_label      TEXT NOT NULL,
	completed         INTEGER NOT NULL,
	scheduled         INTEGER NOT NULL,
	windows_attempted INTEGER NOT NULL,
	windows_failed    INTEGER NOT NULL,
	failed_windows    JSONB NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
)`, s.leagues),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertReports writes every summary and record in one transaction. Records
// are keyed by their synthesized id, so replaying a session is a no-op.
func (s *ReportStore) UpsertReports(ctx context.Context, reports []crawler.EntityReport) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := s.now()
	for _, r := range reports {
		if err = s.upsertSummary(ctx, tx, r, now); err != nil {
			return err
		}
		for _, rec := range r.Records {
			if err = s.upsertRecord(ctx, tx, rec, now); err != nil {
				return err
			}
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func (s *ReportStore) upsertSummary(ctx context.Context, tx pgx.Tx, r crawler.EntityReport, now time.Time) error {
	failed := r.FailedWindows
	if failed == nil {
		failed = []string{}
	}
	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal failed windows: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (entity_id, entity_label, completed, scheduled, windows_attempted, windows_failed, failed_windows, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (entity_id) DO UPDATE SET
	entity_label = EXCLUDED.entity_label,
	completed = EXCLUDED.completed,
	scheduled = EXCLUDED.scheduled,
	windows_attempted = EXCLUDED.windows_attempted,
	windows_failed = EXCLUDED.windows_failed,
	failed_windows = EXCLUDED.failed_windows,
	updated_at = EXCLUDED.updated_at`, s.leagues)
	_, err = tx.Exec(ctx, query,
		r.EntityID, r.EntityLabel, r.Completed, r.Scheduled,
		r.WindowsAttempted, r.WindowsFailed, failedJSON, now)
	if err != nil {
		return fmt.Errorf("upsert league %s: %w", r.EntityID, err)
	}
	return nil
}

func (s *ReportStore) upsertRecord(ctx context.Context, tx pgx.Tx, rec crawler.NormalizedRecord, now time.Time) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, entity_id, window_key, sequence, status, match_date, match_time, doc, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	match_date = EXCLUDED.match_date,
	match_time = EXCLUDED.match_time,
	doc = EXCLUDED.doc,
	updated_at = EXCLUDED.updated_at
WHERE %s.doc IS DISTINCT FROM EXCLUDED.doc`, s.records, s.records)
	_, err = tx.Exec(ctx, query,
		rec.ID, rec.EntityID, rec.WindowKey, rec.Sequence, string(rec.Status),
		rec.Date, rec.Time, doc, now)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}
	return nil
}

// ListReports returns league summaries ordered by entity id, without records.
func (s *ReportStore) ListReports(ctx context.Context) ([]crawler.EntityReport, error) {
	query := fmt.Sprintf(`
SELECT entity_id, entity_label, completed, scheduled, windows_attempted, windows_failed, failed_windows
FROM %s ORDER BY entity_id`, s.leagues)
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list leagues: %w", err)
	}
	defer rows.Close()

	out := []crawler.EntityReport{}
	for rows.Next() {
		var (
			r      crawler.EntityReport
			failed []byte
		)
		if err := rows.Scan(&r.EntityID, &r.EntityLabel, &r.Completed, &r.Scheduled,
			&r.WindowsAttempted, &r.WindowsFailed, &failed); err != nil {
			return nil, fmt.Errorf("scan league: %w", err)
		}
		if len(failed) > 0 {
			if err := json.Unmarshal(failed, &r.FailedWindows); err != nil {
				return nil, fmt.Errorf("decode failed windows for %s: %w", r.EntityID, err)
			}
		}
		if len(r.FailedWindows) == 0 {
			r.FailedWindows = nil
		}
		r.Records = []crawler.NormalizedRecord{}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leagues: %w", err)
	}
	return out, nil
}

// ListMatches returns one league's records ordered by window and sequence.
// An empty status matches every record.
func (s *ReportStore) ListMatches(ctx context.Context, entityID string, status crawler.RecordStatus) ([]crawler.NormalizedRecord, error) {
	query := fmt.Sprintf(`
SELECT doc FROM %s
WHERE entity_id = $1 AND ($2 = '' OR status = $2)
ORDER BY window_key, sequence`, s.records)
	return s.queryDocs(ctx, query, entityID, string(status))
}

// RecentResults returns up to limit completed matches, newest first.
func (s *ReportStore) RecentResults(ctx context.Context, limit int) ([]crawler.NormalizedRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
SELECT doc FROM %s
WHERE status = $1
ORDER BY match_date DESC NULLS LAST, match_time DESC NULLS LAST, id
LIMIT $2`, s.records)
	return s.queryDocs(ctx, query, string(crawler.RecordCompleted), limit)
}

func (s *ReportStore) queryDocs(ctx context.Context, query string, args ...any) ([]crawler.NormalizedRecord, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	out := []crawler.NormalizedRecord{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		var rec crawler.NormalizedRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("decode match: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return out, nil
}
