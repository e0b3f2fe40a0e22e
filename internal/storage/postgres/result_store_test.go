package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

var recordColumns = []string{
	"id", "strategy", "status", "seed_urls", "domains", "max_pages", "max_depth",
	"processed_pages", "results", "start_time", "end_time", "error",
}

func newMockStore(t *testing.T) (*ResultStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "records; DROP TABLE x")
	require.Error(t, err)
	_, err = NewWithPool(nil, "")
	require.Error(t, err)
	store, err := NewWithPool(mock, "history")
	require.NoError(t, err)
	require.Equal(t, "history", store.table)
}

func TestMigrateCreatesTable(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS crawl_records")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveUpsertsRecord(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(time.Minute)
	rec := crawler.CrawlRecord{
		ID:             "crawl-1",
		Strategy:       crawler.StrategySingleDomain,
		Status:         crawler.StatusCompleted,
		SeedURLs:       []string{"https://a.com"},
		Domains:        []string{"a.com"},
		MaxPages:       10,
		MaxDepth:       2,
		ProcessedPages: 1,
		Results:        map[string][]string{"https://a.com": {}},
		StartTime:      start,
		EndTime:        &end,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO crawl_records")).
		WithArgs(
			"crawl-1",
			"SINGLE_DOMAIN",
			"COMPLETED",
			[]byte(`["https://a.com"]`),
			[]byte(`["a.com"]`),
			10,
			2,
			1,
			[]byte(`{"https://a.com":[]}`),
			start,
			&end,
			"",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRequiresID(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)
	require.Error(t, store.Save(context.Background(), crawler.CrawlRecord{}))
}

func TestSaveWrapsExecError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO crawl_records").WillReturnError(errors.New("connection reset"))

	err := store.Save(context.Background(), crawler.CrawlRecord{ID: "x"})
	require.ErrorContains(t, err, "upsert crawl record")
}

func TestFindByID(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(time.Minute)
	rows := pgxmock.NewRows(recordColumns).AddRow(
		"crawl-1", "MULTI_DOMAIN", "TIMED_OUT",
		[]byte(`["https://a.com"]`), []byte(`["a.com"]`),
		50, 3, 2,
		[]byte(`{"https://a.com":["https://b.com/"],"https://b.com/":[]}`),
		start, &end, "",
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM crawl_records WHERE id = $1")).
		WithArgs("crawl-1").
		WillReturnRows(rows)

	rec, err := store.FindByID(context.Background(), "crawl-1")
	require.NoError(t, err)
	require.Equal(t, crawler.StrategyMultiDomain, rec.Strategy)
	require.Equal(t, crawler.StatusTimedOut, rec.Status)
	require.Equal(t, []string{"https://a.com"}, rec.SeedURLs)
	require.Equal(t, 2, rec.ProcessedPages)
	require.Equal(t, []string{"https://b.com/"}, rec.Results["https://a.com"])
	require.Equal(t, end, *rec.EndTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM crawl_records").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(recordColumns))

	_, err := store.FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestFindAllWithStatusFilter(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	start := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows(recordColumns).
		AddRow("b", "SINGLE_DOMAIN", "FAILED", []byte(`[]`), []byte(`[]`), 1, 0, 0, []byte(`{}`), start.Add(time.Minute), nil, "boom").
		AddRow("a", "SINGLE_DOMAIN", "FAILED", []byte(`[]`), []byte(`[]`), 1, 0, 0, []byte(`{}`), start, nil, "boom")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $3 ORDER BY start_time DESC, id DESC LIMIT $1 OFFSET $2")).
		WithArgs(2, 4, "FAILED").
		WillReturnRows(rows)

	failed := crawler.StatusFailed
	records, err := store.FindAll(context.Background(), 2, 2, &failed)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "b", records[0].ID)
	require.Equal(t, "boom", records[1].Error)
	require.Nil(t, records[1].EndTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAllWithoutFilter(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY start_time DESC, id DESC LIMIT $1 OFFSET $2")).
		WithArgs(20, 0).
		WillReturnRows(pgxmock.NewRows(recordColumns))

	records, err := store.FindAll(context.Background(), -1, 20, nil)
	require.NoError(t, err)
	require.Empty(t, records)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupReportsDeletedRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM crawl_records WHERE id NOT IN")).
		WithArgs(100).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	removed, err := store.Cleanup(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, 7, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}
