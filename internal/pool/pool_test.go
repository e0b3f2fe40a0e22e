package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.GreaterOrEqual(t, cfg.CoreWorkers, 2)
	require.GreaterOrEqual(t, cfg.MaxWorkers, cfg.CoreWorkers)
	require.Equal(t, 1000, cfg.QueueSize)
	require.Equal(t, 60*time.Second, cfg.IdleTimeout)
}

func TestSubmitRunsEveryTask(t *testing.T) {
	t.Parallel()

	p := New(Config{CoreWorkers: 2, MaxWorkers: 4, QueueSize: 8, IdleTimeout: time.Second}, zap.NewNop())
	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			count.Add(1)
		}))
	}
	wg.Wait()
	require.Equal(t, int32(200), count.Load())
	require.NoError(t, p.Shutdown(context.Background()))
	require.LessOrEqual(t, p.Live(), 0)
}

func TestSaturatedPoolRunsOnCaller(t *testing.T) {
	t.Parallel()

	p := New(Config{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 0, IdleTimeout: time.Second}, zap.NewNop())
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	ran := false
	require.NoError(t, p.Submit(func() { ran = true }))
	require.True(t, ran, "saturated pool should run the task before Submit returns")

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestIdleWorkersShrinkToCore(t *testing.T) {
	t.Parallel()

	p := New(Config{CoreWorkers: 1, MaxWorkers: 3, QueueSize: 0, IdleTimeout: 20 * time.Millisecond}, zap.NewNop())
	release := make(chan struct{})
	var started sync.WaitGroup
	for i := 0; i < 3; i++ {
		started.Add(1)
		require.NoError(t, p.Submit(func() {
			started.Done()
			<-release
		}))
	}
	started.Wait()
	require.Equal(t, 3, p.Live())

	close(release)
	require.Eventually(t, func() bool { return p.Live() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdownDrainsQueuedTasks(t *testing.T) {
	t.Parallel()

	p := New(Config{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 10, IdleTimeout: time.Second}, zap.NewNop())
	release := make(chan struct{})
	require.NoError(t, p.Submit(func() { <-release }))

	var count atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(func() { count.Add(1) }))
	}
	close(release)

	require.NoError(t, p.Shutdown(context.Background()))
	require.Equal(t, int32(5), count.Load())
	require.ErrorIs(t, p.Submit(func() {}), crawler.ErrPoolClosed)
	require.NoError(t, p.Shutdown(context.Background()), "shutdown is idempotent")
}

func TestShutdownHonorsContext(t *testing.T) {
	t.Parallel()

	p := New(Config{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 1, IdleTimeout: time.Second}, zap.NewNop())
	release := make(chan struct{})
	require.NoError(t, p.Submit(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	t.Parallel()

	p := New(Config{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 4, IdleTimeout: time.Second}, zap.NewNop())
	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { panic("boom") }))
	require.NoError(t, p.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task after panic never ran")
	}
	require.NoError(t, p.Shutdown(context.Background()))
}
