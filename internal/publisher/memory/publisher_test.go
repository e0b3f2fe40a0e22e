package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

func TestPublisherLogsInOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pub := New()
	id, err := pub.Publish(ctx, "crawl-events", crawler.Event{Type: crawler.EventCrawlFinished, CrawlID: "a"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)
	id, err = pub.Publish(ctx, "audit", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "crawl-events", msgs[0].Topic)
	require.Equal(t, "audit", msgs[1].Topic)
	require.Equal(t, "memory-2", msgs[1].ID)

	msgs[0].Topic = "changed"
	require.Equal(t, "crawl-events", pub.Messages()[0].Topic)

	events := pub.Events()
	require.Len(t, events, 1)
	require.Equal(t, "a", events[0].CrawlID)
}
