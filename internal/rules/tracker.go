package rules

import (
	"sync"
	"time"
)

// DefaultTrackerCleanupInterval gates HitTracker.Cleanup sweeps.
const DefaultTrackerCleanupInterval = 30 * time.Second

type hitKey struct {
	address string
	ruleID  int
}

// HitTracker keeps recent hit timestamps per (address, rule) for repeated-event
// conditions. Windows are measured against event timestamps only, so replayed
// or lagging history rate-limits the same way live traffic does.
type HitTracker struct {
	mu              sync.Mutex
	hits            map[hitKey][]time.Time
	latest          time.Time
	lastCleanup     time.Time
	cleanupInterval time.Duration
}

func NewHitTracker(cleanupInterval time.Duration) *HitTracker {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultTrackerCleanupInterval
	}
	return &HitTracker{
		hits:            make(map[hitKey][]time.Time),
		cleanupInterval: cleanupInterval,
	}
}

// Record registers a hit at ts and reports whether attempts hits now fall
// within window. A firing clears the history for the key.
func (t *HitTracker) Record(address string, ruleID, attempts int, window time.Duration, ts time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ts.After(t.latest) {
		t.latest = ts
	}

	key := hitKey{address: address, ruleID: ruleID}
	hits := prune(append(t.hits[key], ts), ts, window)
	if len(hits) > attempts {
		hits = hits[len(hits)-attempts:]
	}

	if len(hits) >= attempts {
		delete(t.hits, key)
		return true
	}
	t.hits[key] = hits
	return false
}

// Cleanup drops trackers for rules not in windows and trackers with no hits
// inside their rule's window, at most once per cleanup interval. windows maps
// active repeated-event rule IDs to their windows. now only gates the sweep;
// windows are measured from the latest event timestamp recorded.
func (t *HitTracker) Cleanup(now time.Time, windows map[int]time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.lastCleanup.IsZero() && now.Sub(t.lastCleanup) < t.cleanupInterval {
		return 0
	}
	t.lastCleanup = now

	removed := 0
	for key, hits := range t.hits {
		window, ok := windows[key.ruleID]
		if ok {
			hits = prune(hits, t.latest, window)
		}
		if !ok || len(hits) == 0 {
			delete(t.hits, key)
			removed++
			continue
		}
		t.hits[key] = hits
	}
	return removed
}

// Len returns the number of tracked (address, rule) pairs.
func (t *HitTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.hits)
}

// Hits returns the retained hit count for one pair.
func (t *HitTracker) Hits(address string, ruleID int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.hits[hitKey{address: address, ruleID: ruleID}])
}

// prune drops leading hits older than window relative to ref. hits is ordered.
func prune(hits []time.Time, ref time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(hits) && ref.Sub(hits[i]) > window {
		i++
	}
	return hits[i:]
}
