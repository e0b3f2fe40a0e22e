package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

const testConfigYAML = `
logging:
  level: error
crawl:
  poll_interval: 5ms
  default_max_pages: 10
  default_max_depth: 2
pool:
  core_workers: 2
  max_workers: 2
http:
  timeout: 2s
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o600))
	return path
}

func newTestSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Path == "/" {
			_, _ = fmt.Fprint(w, `<a href="/one">one</a><a href="/two">two</a>`)
			return
		}
		_, _ = fmt.Fprint(w, `<p>leaf</p>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCrawlCommandPrintsSnapshot(t *testing.T) {
	t.Parallel()

	site := newTestSite(t)
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{"crawl", "--config", writeConfig(t), "--no-progress", site.URL + "/"})

	require.NoError(t, root.Execute())

	var snap crawler.Snapshot
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &snap))
	require.Equal(t, crawler.StatusCompleted, snap.Status)
	require.Equal(t, 3, snap.ProcessedPages)
	require.Equal(t, 10, snap.MaxPages)
	require.ElementsMatch(t, []string{site.URL + "/one", site.URL + "/two"}, snap.Results[site.URL+"/"])
}

func TestCrawlCommandReadsURLFile(t *testing.T) {
	t.Parallel()

	site := newTestSite(t)
	list := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(list, []byte("# seeds\n"+site.URL+"/one\n"), 0o600))

	var stdout bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"crawl", "--config", writeConfig(t), "--no-progress", "--max-pages", "1", "-f", list})

	require.NoError(t, root.Execute())

	var snap crawler.Snapshot
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &snap))
	require.Equal(t, 1, snap.ProcessedPages)
	require.Contains(t, snap.Results, site.URL+"/one")
}

func TestCrawlCommandErrors(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no urls", []string{"crawl", "--config", cfgPath}, "at least one URL"},
		{"missing file", []string{"crawl", "--config", cfgPath, "-f", filepath.Join(t.TempDir(), "nope.txt")}, "open url file"},
		{"bad strategy", []string{"crawl", "--config", cfgPath, "--strategy", "SIDEWAYS", "https://a.com"}, "Unknown crawl strategy"},
		{"bad config", []string{"crawl", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "https://a.com"}, "load config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root := newRootCmd()
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			root.SetArgs(tt.args)
			err := root.Execute()
			require.ErrorContains(t, err, tt.want)
		})
	}
}

// finalizingWatcher reports a terminal live snapshot while the crawl is still
// registered, then the stored record once it is not.
type finalizingWatcher struct {
	mu     sync.Mutex
	polls  int
	active int
}

func (f *finalizingWatcher) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *finalizingWatcher) Status(context.Context, string) (crawler.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.polls == 1 {
		f.active = 0
		return crawler.Snapshot{Status: crawler.StatusTimedOut, ProcessedPages: 1, MaxPages: 10}, nil
	}
	return crawler.Snapshot{Status: crawler.StatusTimedOut, ProcessedPages: 2, MaxPages: 10, ResultsCount: 2}, nil
}

func (f *finalizingWatcher) Stop(context.Context, string) (bool, error) {
	return false, nil
}

func TestWaitForCrawlReadsBackAfterFinalize(t *testing.T) {
	t.Parallel()

	w := &finalizingWatcher{active: 1}
	snap, err := waitForCrawl(context.Background(), w, "crawl-1", io.Discard)
	require.NoError(t, err)
	require.Equal(t, 2, snap.ProcessedPages)
	require.Equal(t, 2, snap.ResultsCount)
	require.Equal(t, 2, w.polls)
}
