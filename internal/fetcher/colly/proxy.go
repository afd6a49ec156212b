package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// ProxyProvider hands out outbound proxies. Next is called for the first
// request of a session and again before every retry.
type ProxyProvider interface {
	Next(ctx context.Context) (*url.URL, error)
}

// ErrNoProxies is returned by a provider with nothing to hand out.
var ErrNoProxies = errors.New("no proxies configured")

// StaticProxies rotates round-robin through a fixed list.
type StaticProxies struct {
	mu      sync.Mutex
	proxies []*url.URL
	next    int
}

// NewStaticProxies parses raw proxy addresses. Entries without a scheme are
// treated as http proxies ("10.0.0.1:8080").
func NewStaticProxies(raw []string) (*StaticProxies, error) {
	proxies := make([]*url.URL, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "://") {
			entry = "http://" + entry
		}
		u, err := url.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", entry, err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("parse proxy %q: missing host", entry)
		}
		proxies = append(proxies, u)
	}
	return &StaticProxies{proxies: proxies}, nil
}

// Next returns the following proxy in the list.
func (s *StaticProxies) Next(context.Context) (*url.URL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.proxies) == 0 {
		return nil, ErrNoProxies
	}
	u := s.proxies[s.next%len(s.proxies)]
	s.next++
	return u, nil
}
