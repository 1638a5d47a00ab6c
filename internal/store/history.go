package store

import (
	"errors"
	"sync"
	"time"

	"github.com/overpitch/fire-risk-dashboard-sub000/internal/cache"
)

// ErrNoHistory is returned when no snapshots fall in the requested window.
var ErrNoHistory = errors.New("no snapshots recorded")

// History keeps a bounded, time-ordered ring of committed snapshots so the
// API can serve recent readings without touching the live cache.
type History struct {
	mu    sync.RWMutex
	max   int
	snaps []*cache.Snapshot
}

// NewHistory creates a History retaining up to max snapshots. A non-positive
// max keeps the last 24 (four hours at the default refresh cadence).
func NewHistory(max int) *History {
	if max <= 0 {
		max = 24
	}
	return &History{max: max}
}

// Append records a committed snapshot, evicting the oldest past capacity.
func (h *History) Append(s *cache.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.snaps = append(h.snaps, s)
	if len(h.snaps) > h.max {
		over := len(h.snaps) - h.max
		h.snaps = h.snaps[over:]
	}
}

// Latest returns the most recent snapshot.
func (h *History) Latest() (*cache.Snapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.snaps) == 0 {
		return nil, ErrNoHistory
	}
	return h.snaps[len(h.snaps)-1], nil
}

// Range returns all snapshots between from and to (inclusive).
func (h *History) Range(from, to time.Time) ([]*cache.Snapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*cache.Snapshot
	for _, s := range h.snaps {
		if !s.Timestamp.Before(from) && !s.Timestamp.After(to) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoHistory
	}
	return out, nil
}

// Nearest returns the snapshot closest in time to t.
func (h *History) Nearest(t time.Time) (*cache.Snapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.snaps) == 0 {
		return nil, ErrNoHistory
	}

	best := h.snaps[0]
	bestDelta := absDuration(best.Timestamp.Sub(t))
	for _, s := range h.snaps[1:] {
		if d := absDuration(s.Timestamp.Sub(t)); d < bestDelta {
			best, bestDelta = s, d
		}
	}
	return best, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
