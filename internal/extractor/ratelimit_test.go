package extractor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHostLimiterDelaysSameHost(t *testing.T) {
	t.Parallel()

	l := newHostLimiter(10, 1)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestHostLimiterIsolatesHosts(t *testing.T) {
	t.Parallel()

	l := newHostLimiter(1, 1)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestHostLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := newHostLimiter(0.1, 1)
	require.NoError(t, l.Wait(context.Background(), "https://slow.com/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.com/next"))
}

func TestHostLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := newHostLimiter(0, 0)
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://fast.com/"))
	}
}
