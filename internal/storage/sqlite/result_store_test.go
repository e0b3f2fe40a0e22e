package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

func newMockStore(t *testing.T) (*ResultStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(sqlx.NewDb(db, DriverName)), mock
}

var rowColumns = []string{
	"id", "strategy", "status", "seed_urls", "domains", "max_pages", "max_depth",
	"processed_pages", "results", "start_time", "end_time", "error",
}

func TestSaveBindsNamedParameters(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(time.Second)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO crawl_records")).
		WithArgs(
			"crawl-1", "SINGLE_DOMAIN", "STOPPED",
			`["https://a.com"]`, `["a.com"]`,
			10, 2, 1,
			`{"https://a.com":[]}`,
			start.UnixNano(), end.UnixNano(), "",
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Save(context.Background(), crawler.CrawlRecord{
		ID:             "crawl-1",
		Strategy:       crawler.StrategySingleDomain,
		Status:         crawler.StatusStopped,
		SeedURLs:       []string{"https://a.com"},
		Domains:        []string{"a.com"},
		MaxPages:       10,
		MaxDepth:       2,
		ProcessedPages: 1,
		Results:        map[string][]string{"https://a.com": {}},
		StartTime:      start,
		EndTime:        &end,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDMapsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	start := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM crawl_records WHERE id = ?")).
		WithArgs("crawl-1").
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(
			"crawl-1", "SINGLE_DOMAIN", "RUNNING", `["https://a.com"]`, `["a.com"]`,
			10, 2, 0, `{}`, start.UnixNano(), nil, "",
		))

	rec, err := store.FindByID(context.Background(), "crawl-1")
	require.NoError(t, err)
	require.Equal(t, crawler.StatusRunning, rec.Status)
	require.Equal(t, start, rec.StartTime)
	require.Nil(t, rec.EndTime)
	require.Empty(t, rec.Results)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM crawl_records").WithArgs("nope").WillReturnRows(sqlmock.NewRows(rowColumns))

	_, err := store.FindByID(context.Background(), "nope")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestFindAllPassesPaging(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = ? ORDER BY start_time DESC, id DESC LIMIT ? OFFSET ?")).
		WithArgs("COMPLETED", 5, 10).
		WillReturnRows(sqlmock.NewRows(rowColumns))

	completed := crawler.StatusCompleted
	records, err := store.FindAll(context.Background(), 2, 5, &completed)
	require.NoError(t, err)
	require.Empty(t, records)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM crawl_records").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectExec("DELETE FROM crawl_records").WillReturnError(errors.New("database is locked"))

	_, err := store.FindAll(context.Background(), 0, 10, nil)
	require.ErrorContains(t, err, "list crawl records")
	_, err = store.Cleanup(context.Background(), 10)
	require.ErrorContains(t, err, "cleanup crawl records")
}

func TestRoundTripOnDisk(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "history.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 4; i++ {
		status := crawler.StatusCompleted
		if i == 3 {
			status = crawler.StatusRunning
		}
		require.NoError(t, store.Save(ctx, crawler.CrawlRecord{
			ID:        fmt.Sprintf("c%d", i),
			Strategy:  crawler.StrategySingleDomain,
			Status:    status,
			SeedURLs:  []string{"https://a.com"},
			Domains:   []string{"a.com"},
			MaxPages:  10,
			Results:   map[string][]string{"https://a.com": {"https://a.com/x"}},
			StartTime: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	end := base.Add(time.Hour)
	require.NoError(t, store.Save(ctx, crawler.CrawlRecord{
		ID:             "c3",
		Strategy:       crawler.StrategySingleDomain,
		Status:         crawler.StatusCompleted,
		ProcessedPages: 2,
		StartTime:      base.Add(3 * time.Minute),
		EndTime:        &end,
	}))

	got, err := store.FindByID(ctx, "c3")
	require.NoError(t, err)
	require.Equal(t, crawler.StatusCompleted, got.Status)
	require.Equal(t, 2, got.ProcessedPages)
	require.Equal(t, end, *got.EndTime)
	require.Equal(t, []string{"https://a.com"}, got.SeedURLs, "seed urls are immutable after insert")

	page, err := store.FindAll(ctx, 0, 2, nil)
	require.NoError(t, err)
	require.Equal(t, "c3", page[0].ID)
	require.Equal(t, "c2", page[1].ID)

	removed, err := store.Cleanup(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	_, err = store.FindByID(ctx, "c0")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
