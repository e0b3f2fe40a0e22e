// Package urlutil canonicalizes crawl URLs and tests them against a host scope.
package urlutil

import (
	"net/url"
	"sort"
	"strings"
)

// Normalize returns the deduplication key for raw. URLs without a scheme are
// treated as https. The fragment is dropped and trailing slashes are removed from
// every path except the domain root. Anything that is not an http(s) URL with a
// host is rejected.
func Normalize(raw string) (string, bool) {
	u, ok := parse(raw)
	if !ok {
		return "", false
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = strings.TrimRight(u.RawPath, "/")
		if u.Path == "" {
			u.Path = "/"
			u.RawPath = ""
		}
	}
	return u.String(), true
}

// Host returns the lower-cased hostname of raw with a leading "www." removed.
func Host(raw string) (string, bool) {
	u, ok := parse(raw)
	if !ok {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" {
		return "", false
	}
	return host, true
}

// Valid reports whether raw normalizes to an http(s) URL.
func Valid(raw string) bool {
	_, ok := parse(raw)
	return ok
}

// InScope reports whether the host of raw is exactly one of allowed.
func InScope(raw string, allowed HostSet) bool {
	host, ok := Host(raw)
	return ok && allowed.Contains(host)
}

func parse(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		if hasOtherScheme(raw) {
			return nil, false
		}
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return nil, false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u, true
}

// hasOtherScheme detects "mailto:x" style prefixes while still accepting
// scheme-less "host:port/path" input.
func hasOtherScheme(raw string) bool {
	i := strings.IndexByte(raw, ':')
	if i <= 0 || strings.ContainsRune(raw[:i], '/') {
		return false
	}
	rest := raw[i+1:]
	return rest == "" || rest[0] < '0' || rest[0] > '9'
}

// HostSet is an immutable set of normalized hostnames.
type HostSet struct {
	hosts map[string]struct{}
}

// NewHostSet derives the hosts of every parseable URL in urls.
func NewHostSet(urls []string) HostSet {
	hosts := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		if host, ok := Host(raw); ok {
			hosts[host] = struct{}{}
		}
	}
	return HostSet{hosts: hosts}
}

// Contains reports exact membership.
func (s HostSet) Contains(host string) bool {
	_, ok := s.hosts[host]
	return ok
}

// Len returns the number of hosts.
func (s HostSet) Len() int {
	return len(s.hosts)
}

// Sorted returns the hosts in lexical order.
func (s HostSet) Sorted() []string {
	out := make([]string, 0, len(s.hosts))
	for host := range s.hosts {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}
