// Package blocklist holds source addresses whose traffic is dropped until an expiry.
package blocklist

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultCleanupInterval gates CleanupExpired sweeps.
	DefaultCleanupInterval = 300 * time.Second

	// PermanentDuration is the lifetime of entries installed by SetBulk.
	PermanentDuration = 100 * 365 * 24 * time.Hour
)

// Entry is one blocked address.
type Entry struct {
	Address string    `json:"address"`
	Expires time.Time `json:"expires"`
}

// Manager maps addresses to expiry times. It never errors: unknown and expired
// addresses are simply not blocked.
type Manager struct {
	mu              sync.Mutex
	entries         map[string]time.Time
	lastCleanup     time.Time
	cleanupInterval time.Duration
	now             func() time.Time
	logger          *logrus.Logger
}

func NewManager(cleanupInterval time.Duration, logger *logrus.Logger) *Manager {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &Manager{
		entries:         make(map[string]time.Time),
		cleanupInterval: cleanupInterval,
		now:             time.Now,
		logger:          logger,
	}
}

// WithClock replaces the clock used to compute expiries.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// IsBlocked reports whether addr is blocked at now. An expired entry is removed here.
func (m *Manager) IsBlocked(addr string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	expires, ok := m.entries[addr]
	if !ok {
		return false
	}
	if now.Before(expires) {
		return true
	}
	delete(m.entries, addr)
	return false
}

// AddTemporary blocks addr for the given number of minutes from now. Callers
// pass the same clock they later hand to IsBlocked.
func (m *Manager) AddTemporary(addr string, minutes int, now time.Time) time.Time {
	expires := now.Add(time.Duration(minutes) * time.Minute)

	m.mu.Lock()
	m.entries[addr] = expires
	m.mu.Unlock()

	m.logger.Infof("Blocked %s until %s", addr, expires.Format(time.RFC3339))
	return expires
}

// SetBulk blocks every address in addrs effectively forever. Existing entries are kept.
func (m *Manager) SetBulk(addrs []string) {
	expires := m.now().Add(PermanentDuration)

	m.mu.Lock()
	for _, addr := range addrs {
		if addr == "" {
			continue
		}
		m.entries[addr] = expires
	}
	m.mu.Unlock()

	m.logger.Infof("Blocklist updated with %d addresses", len(addrs))
}

// CleanupExpired drops expired entries, at most once per cleanup interval.
// It returns the number of entries removed.
func (m *Manager) CleanupExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastCleanup.IsZero() && now.Sub(m.lastCleanup) < m.cleanupInterval {
		return 0
	}
	m.lastCleanup = now

	removed := 0
	for addr, expires := range m.entries {
		if !now.Before(expires) {
			delete(m.entries, addr)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debugf("Removed %d expired blocklist entries", removed)
	}
	return removed
}

// Snapshot returns the current entries sorted by address.
func (m *Manager) Snapshot() []Entry {
	m.mu.Lock()
	out := make([]Entry, 0, len(m.entries))
	for addr, expires := range m.entries {
		out = append(out, Entry{Address: addr, Expires: expires})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
