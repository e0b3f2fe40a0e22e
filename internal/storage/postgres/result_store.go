// Package postgres persists crawl history in Postgres.
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

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "crawl_records"

// Config controls the Postgres connection pool used for crawl records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ResultStore implements crawler.ResultStore on a pgx pool.
type ResultStore struct {
	pool  querier
	table string
}

var _ crawler.ResultStore = (*ResultStore)(nil)

// New connects to Postgres and creates the records table if it is missing.
func New(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
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
	store, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ResultStore{pool: pool, table: table}, nil
}

// Migrate creates the records table and its recency index.
func (s *ResultStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	strategy TEXT NOT NULL,
	status TEXT NOT NULL,
	seed_urls JSONB NOT NULL,
	domains JSONB NOT NULL,
	max_pages INTEGER NOT NULL,
	max_depth INTEGER NOT NULL,
	processed_pages INTEGER NOT NULL,
	results JSONB NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS %[1]s_start_time_idx ON %[1]s (start_time DESC, id DESC);`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Save upserts a record.
func (s *ResultStore) Save(ctx context.Context, record crawler.CrawlRecord) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	seeds, err := json.Marshal(nonNilStrings(record.SeedURLs))
	if err != nil {
		return fmt.Errorf("marshal seed urls: %w", err)
	}
	domains, err := json.Marshal(nonNilStrings(record.Domains))
	if err != nil {
		return fmt.Errorf("marshal domains: %w", err)
	}
	results := record.Results
	if results == nil {
		results = map[string][]string{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, strategy, status, seed_urls, domains, max_pages, max_depth,
	processed_pages, results, start_time, end_time, error
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	processed_pages = EXCLUDED.processed_pages,
	results = EXCLUDED.results,
	end_time = EXCLUDED.end_time,
	error = EXCLUDED.error`, s.table)

	args := []any{
		record.ID,
		string(record.Strategy),
		string(record.Status),
		seeds,
		domains,
		record.MaxPages,
		record.MaxDepth,
		record.ProcessedPages,
		resultsJSON,
		record.StartTime,
		record.EndTime,
		record.Error,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert crawl record: %w", err)
	}
	return nil
}

// FindByID fetches one record.
func (s *ResultStore) FindByID(ctx context.Context, id string) (crawler.CrawlRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, columns, s.table)
	record, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CrawlRecord{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.CrawlRecord{}, fmt.Errorf("find crawl record %s: %w", id, err)
	}
	return record, nil
}

// FindAll returns one page of records, newest first.
func (s *ResultStore) FindAll(ctx context.Context, page, size int, status *crawler.Status) ([]crawler.CrawlRecord, error) {
	if size <= 0 {
		return []crawler.CrawlRecord{}, nil
	}
	offset := max(page, 0) * size

	var (
		rows pgx.Rows
		err  error
	)
	if status != nil {
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = $3 ORDER BY start_time DESC, id DESC LIMIT $1 OFFSET $2`, columns, s.table)
		rows, err = s.pool.Query(ctx, query, size, offset, string(*status))
	} else {
		query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY start_time DESC, id DESC LIMIT $1 OFFSET $2`, columns, s.table)
		rows, err = s.pool.Query(ctx, query, size, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list crawl records: %w", err)
	}
	defer rows.Close()

	out := make([]crawler.CrawlRecord, 0, size)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crawl record: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl records: %w", err)
	}
	return out, nil
}

// Cleanup deletes everything but the keep newest records.
func (s *ResultStore) Cleanup(ctx context.Context, keep int) (int, error) {
	query := fmt.Sprintf(`
DELETE FROM %[1]s WHERE id NOT IN (
	SELECT id FROM %[1]s ORDER BY start_time DESC, id DESC LIMIT $1
)`, s.table)
	tag, err := s.pool.Exec(ctx, query, max(keep, 0))
	if err != nil {
		return 0, fmt.Errorf("cleanup crawl records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

const columns = `id, strategy, status, seed_urls, domains, max_pages, max_depth, processed_pages, results, start_time, end_time, error`

func scanRecord(row pgx.Row) (crawler.CrawlRecord, error) {
	var (
		record                      crawler.CrawlRecord
		strategy, status            string
		seeds, domains, resultsJSON []byte
		endTime                     *time.Time
	)
	if err := row.Scan(
		&record.ID,
		&strategy,
		&status,
		&seeds,
		&domains,
		&record.MaxPages,
		&record.MaxDepth,
		&record.ProcessedPages,
		&resultsJSON,
		&record.StartTime,
		&endTime,
		&record.Error,
	); err != nil {
		return crawler.CrawlRecord{}, err
	}
	record.Strategy = crawler.Strategy(strategy)
	record.Status = crawler.Status(status)
	record.EndTime = endTime
	if err := json.Unmarshal(seeds, &record.SeedURLs); err != nil {
		return crawler.CrawlRecord{}, fmt.Errorf("decode seed urls: %w", err)
	}
	if err := json.Unmarshal(domains, &record.Domains); err != nil {
		return crawler.CrawlRecord{}, fmt.Errorf("decode domains: %w", err)
	}
	if err := json.Unmarshal(resultsJSON, &record.Results); err != nil {
		return crawler.CrawlRecord{}, fmt.Errorf("decode results: %w", err)
	}
	return record, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
