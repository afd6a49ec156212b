package crawler

import (
	"context"
	"time"
)

// identitySet records identity keys already accepted in one dedup scope.
// It is owned by a single goroutine.
type identitySet struct {
	seen map[string]struct{}
}

func newIdentitySet() *identitySet {
	return &identitySet{seen: make(map[string]struct{})}
}

// MarkIfNew stores key if it has not been seen before and returns true.
func (s *identitySet) MarkIfNew(key string) bool {
	if key == "" {
		return false
	}
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func (s *identitySet) Len() int {
	return len(s.seen)
}

// pauseController abstracts the inter-page and inter-record delays.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
