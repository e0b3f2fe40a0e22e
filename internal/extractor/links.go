package extractor

import (
	"net/url"
	"strings"
)

var excludedPrefixes = []string{"mailto:", "tel:", "javascript:", "ftp:", "data:", "#"}

// candidateHref filters raw href values before they are resolved.
func candidateHref(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || href == "/" {
		return false
	}
	lower := strings.ToLower(href)
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	return true
}

// linkSet keeps absolute http(s) links in insertion order.
type linkSet struct {
	seen  map[string]struct{}
	order []string
}

func newLinkSet() *linkSet {
	return &linkSet{seen: make(map[string]struct{})}
}

func (s *linkSet) add(abs string) {
	if abs == "" {
		return
	}
	u, err := url.Parse(abs)
	if err != nil || u.Host == "" {
		return
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return
	}
	if _, dup := s.seen[abs]; dup {
		return
	}
	s.seen[abs] = struct{}{}
	s.order = append(s.order, abs)
}

func (s *linkSet) list() []string {
	return append([]string{}, s.order...)
}
