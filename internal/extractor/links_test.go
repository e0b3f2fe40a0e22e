package extractor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCandidateHref(t *testing.T) {
	t.Parallel()

	tests := []struct {
		href string
		want bool
	}{
		{"/about", true},
		{"page.html", true},
		{"https://a.com/x", true},
		{"", false},
		{"   ", false},
		{"/", false},
		{"#section", false},
		{"mailto:a@b.com", false},
		{"MAILTO:a@b.com", false},
		{"tel:123", false},
		{"javascript:alert(1)", false},
		{"ftp://host/file", false},
		{"data:image/png;base64,AAAA", false},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, candidateHref(tc.href), tc.href)
	}
}

func TestLinkSetKeepsOrderAndDropsDuplicates(t *testing.T) {
	t.Parallel()

	set := newLinkSet()
	for _, link := range []string{
		"https://a.com/2",
		"https://a.com/1",
		"https://a.com/2",
		"",
		"ws://a.com/socket",
		"http://b.com/",
		"not a url at all",
	} {
		set.add(link)
	}
	require.Equal(t, []string{"https://a.com/2", "https://a.com/1", "http://b.com/"}, set.list())
	require.NotNil(t, newLinkSet().list())
}
