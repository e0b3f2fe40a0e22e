package visited

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExactAddOnce(t *testing.T) {
	t.Parallel()

	s := NewExact()
	require.True(t, s.Add("https://a.com"))
	require.False(t, s.Add("https://a.com"))
	require.True(t, s.Contains("https://a.com"))
	require.False(t, s.Contains("https://b.com"))
	require.Equal(t, 1, s.Len())
}

func TestBloomAddOnce(t *testing.T) {
	t.Parallel()

	s := NewBloom(1000, 0.001)
	require.True(t, s.Add("https://a.com"))
	require.False(t, s.Add("https://a.com"))
	require.Equal(t, 1, s.Len())
}

func TestSetsAdmitEachKeyOnceUnderContention(t *testing.T) {
	t.Parallel()

	sets := map[string]Set{
		"exact": NewExact(),
		"bloom": NewBloom(10000, 0.0001),
	}
	for name, set := range sets {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			var admitted atomic.Int64
			var wg sync.WaitGroup
			for w := 0; w < 16; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 50; i++ {
						if set.Add(fmt.Sprintf("https://a.com/%d", i)) {
							admitted.Add(1)
						}
					}
				}()
			}
			wg.Wait()
			require.LessOrEqual(t, admitted.Load(), int64(50))
			require.Equal(t, int(admitted.Load()), set.Len())
		})
	}
}
