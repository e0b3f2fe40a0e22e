// Package sqlite persists crawl history in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// DriverName is the database/sql driver used for SQLite.
const DriverName = "sqlite"

func init() {
	sqlx.BindDriver(DriverName, sqlx.QUESTION)
}

// Config locates the database file.
type Config struct {
	Path string
}

const schema = `
CREATE TABLE IF NOT EXISTS crawl_records (
	id TEXT PRIMARY KEY,
	strategy TEXT NOT NULL,
	status TEXT NOT NULL,
	seed_urls TEXT NOT NULL,
	domains TEXT NOT NULL,
	max_pages INTEGER NOT NULL,
	max_depth INTEGER NOT NULL,
	processed_pages INTEGER NOT NULL,
	results TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	end_time INTEGER,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS crawl_records_start_time_idx ON crawl_records (start_time DESC, id DESC);`

const selectColumns = `id, strategy, status, seed_urls, domains, max_pages, max_depth, processed_pages, results, start_time, end_time, error`

// recordRow is the on-disk shape of a crawler.CrawlRecord. Times are stored as
// Unix nanoseconds.
type recordRow struct {
	ID             string        `db:"id"`
	Strategy       string        `db:"strategy"`
	Status         string        `db:"status"`
	SeedURLs       string        `db:"seed_urls"`
	Domains        string        `db:"domains"`
	MaxPages       int           `db:"max_pages"`
	MaxDepth       int           `db:"max_depth"`
	ProcessedPages int           `db:"processed_pages"`
	Results        string        `db:"results"`
	StartTime      int64         `db:"start_time"`
	EndTime        sql.NullInt64 `db:"end_time"`
	Error          string        `db:"error"`
}

// ResultStore implements crawler.ResultStore with sqlx.
type ResultStore struct {
	db *sqlx.DB
}

var _ crawler.ResultStore = (*ResultStore)(nil)

// Open connects to the database file and applies the schema.
func Open(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage.sqlite.path is required")
	}
	db, err := sqlx.ConnectContext(ctx, DriverName, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	store := NewWithDB(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an existing handle.
func NewWithDB(db *sqlx.DB) *ResultStore {
	return &ResultStore{db: db}
}

// Migrate applies the schema.
func (s *ResultStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *ResultStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Save upserts a record.
func (s *ResultStore) Save(ctx context.Context, record crawler.CrawlRecord) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	row, err := toRow(record)
	if err != nil {
		return err
	}
	const query = `
INSERT INTO crawl_records (` + selectColumns + `)
VALUES (:id, :strategy, :status, :seed_urls, :domains, :max_pages, :max_depth, :processed_pages, :results, :start_time, :end_time, :error)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	processed_pages = excluded.processed_pages,
	results = excluded.results,
	end_time = excluded.end_time,
	error = excluded.error`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("upsert crawl record: %w", err)
	}
	return nil
}

// FindByID fetches one record.
func (s *ResultStore) FindByID(ctx context.Context, id string) (crawler.CrawlRecord, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row, `SELECT `+selectColumns+` FROM crawl_records WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.CrawlRecord{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.CrawlRecord{}, fmt.Errorf("find crawl record %s: %w", id, err)
	}
	return row.toRecord()
}

// FindAll returns one page of records, newest first.
func (s *ResultStore) FindAll(ctx context.Context, page, size int, status *crawler.Status) ([]crawler.CrawlRecord, error) {
	if size <= 0 {
		return []crawler.CrawlRecord{}, nil
	}
	offset := max(page, 0) * size

	var (
		rows []recordRow
		err  error
	)
	if status != nil {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT `+selectColumns+` FROM crawl_records WHERE status = ? ORDER BY start_time DESC, id DESC LIMIT ? OFFSET ?`,
			string(*status), size, offset)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT `+selectColumns+` FROM crawl_records ORDER BY start_time DESC, id DESC LIMIT ? OFFSET ?`,
			size, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list crawl records: %w", err)
	}

	out := make([]crawler.CrawlRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

// Cleanup deletes everything but the keep newest records.
func (s *ResultStore) Cleanup(ctx context.Context, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM crawl_records WHERE id NOT IN (
	SELECT id FROM crawl_records ORDER BY start_time DESC, id DESC LIMIT ?
)`, max(keep, 0))
	if err != nil {
		return 0, fmt.Errorf("cleanup crawl records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rows affected: %w", err)
	}
	return int(n), nil
}

func toRow(record crawler.CrawlRecord) (recordRow, error) {
	seeds, err := marshalString(nonNil(record.SeedURLs))
	if err != nil {
		return recordRow{}, fmt.Errorf("marshal seed urls: %w", err)
	}
	domains, err := marshalString(nonNil(record.Domains))
	if err != nil {
		return recordRow{}, fmt.Errorf("marshal domains: %w", err)
	}
	results := record.Results
	if results == nil {
		results = map[string][]string{}
	}
	resultsJSON, err := marshalString(results)
	if err != nil {
		return recordRow{}, fmt.Errorf("marshal results: %w", err)
	}
	row := recordRow{
		ID:             record.ID,
		Strategy:       string(record.Strategy),
		Status:         string(record.Status),
		SeedURLs:       seeds,
		Domains:        domains,
		MaxPages:       record.MaxPages,
		MaxDepth:       record.MaxDepth,
		ProcessedPages: record.ProcessedPages,
		Results:        resultsJSON,
		StartTime:      record.StartTime.UnixNano(),
		Error:          record.Error,
	}
	if record.EndTime != nil {
		row.EndTime = sql.NullInt64{Int64: record.EndTime.UnixNano(), Valid: true}
	}
	return row, nil
}

func (r recordRow) toRecord() (crawler.CrawlRecord, error) {
	record := crawler.CrawlRecord{
		ID:             r.ID,
		Strategy:       crawler.Strategy(r.Strategy),
		Status:         crawler.Status(r.Status),
		MaxPages:       r.MaxPages,
		MaxDepth:       r.MaxDepth,
		ProcessedPages: r.ProcessedPages,
		StartTime:      time.Unix(0, r.StartTime).UTC(),
		Error:          r.Error,
	}
	if r.EndTime.Valid {
		end := time.Unix(0, r.EndTime.Int64).UTC()
		record.EndTime = &end
	}
	if err := json.Unmarshal([]byte(r.SeedURLs), &record.SeedURLs); err != nil {
		return crawler.CrawlRecord{}, fmt.Errorf("decode seed urls: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Domains), &record.Domains); err != nil {
		return crawler.CrawlRecord{}, fmt.Errorf("decode domains: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Results), &record.Results); err != nil {
		return crawler.CrawlRecord{}, fmt.Errorf("decode results: %w", err)
	}
	return record, nil
}

func marshalString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
