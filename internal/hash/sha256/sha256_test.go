package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

var _ crawler.Hasher = (*Hasher)(nil)

func TestHashKnownDigest(t *testing.T) {
	t.Parallel()

	got, err := New().Hash([]byte(`{"id":"crawl-1"}`))
	require.NoError(t, err)
	require.Len(t, got, 64)

	again, err := New().Hash([]byte(`{"id":"crawl-1"}`))
	require.NoError(t, err)
	require.Equal(t, got, again)

	empty, err := New().Hash(nil)
	require.NoError(t, err)
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", empty)

	other, err := New().Hash([]byte(`{"id":"crawl-2"}`))
	require.NoError(t, err)
	require.NotEqual(t, got, other)
}
