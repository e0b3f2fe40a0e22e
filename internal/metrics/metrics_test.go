package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://Docs.Example.com/a#x": "docs.example.com",
		"https://www.example.com/":     "example.com",
		"example.com/path":             "example.com",
		"example.com:8080":             "example.com",
		"ftp://example.com":            "unknown",
		"mailto:me@example.com":        "unknown",
		"http://%":                     "unknown",
		"":                             "unknown",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeSite(in), in)
	}
}

func TestObservePageLabelsStrategyAndOutcome(t *testing.T) {
	ObservePage("metrics-test", true)
	ObservePage("metrics-test", false)
	ObservePage("metrics-test", false)

	require.InDelta(t, 1, testutil.ToFloat64(pagesTotal.WithLabelValues("metrics-test", "ok")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(pagesTotal.WithLabelValues("metrics-test", "failed")), 0)
}

func TestCrawlAndPoolCollectors(t *testing.T) {
	before := testutil.ToFloat64(crawlsTotal.WithLabelValues("MULTI_DOMAIN", "metrics-test"))
	ObserveCrawl("MULTI_DOMAIN", "metrics-test")
	require.InDelta(t, before+1, testutil.ToFloat64(crawlsTotal.WithLabelValues("MULTI_DOMAIN", "metrics-test")), 0)

	active := testutil.ToFloat64(activeCrawls)
	IncActiveCrawls()
	IncActiveCrawls()
	DecActiveCrawls()
	require.InDelta(t, active+1, testutil.ToFloat64(activeCrawls), 0)
	DecActiveCrawls()

	SetPoolLiveWorkers(3)
	require.InDelta(t, 3, testutil.ToFloat64(poolLiveWorkers), 0)

	drops := testutil.ToFloat64(frontierDroppedTotal)
	ObserveFrontierDrop()
	require.InDelta(t, drops+1, testutil.ToFloat64(frontierDroppedTotal), 0)

	ObserveRateLimitDelay(250 * time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(rateLimitDelaySeconds))
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveDrainTimeout()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "sitecrawler_drain_timeouts_total")
}

func FuzzSanitizeSite(f *testing.F) {
	for _, seed := range []string{"http://example.com", "www.a.com/x", "tel:123"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		if SanitizeSite(raw) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty label", raw)
		}
	})
}
