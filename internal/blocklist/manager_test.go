package blocklist

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

var base = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newTestManager(interval time.Duration) *Manager {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewManager(interval, logger).WithClock(func() time.Time { return base })
}

func TestManager_ExpiryIgnoresCleanupPasses(t *testing.T) {
	for _, sweeps := range []int{0, 1, 10} {
		m := newTestManager(time.Second)
		m.AddTemporary("10.0.0.5", 5, base)

		for i := 0; i < sweeps; i++ {
			m.CleanupExpired(base.Add(time.Duration(i) * 20 * time.Second))
		}

		assert.True(t, m.IsBlocked("10.0.0.5", base), "sweeps=%d", sweeps)
		assert.True(t, m.IsBlocked("10.0.0.5", base.Add(4*time.Minute+59*time.Second)), "sweeps=%d", sweeps)
		assert.False(t, m.IsBlocked("10.0.0.5", base.Add(5*time.Minute)), "sweeps=%d", sweeps)
		assert.False(t, m.IsBlocked("10.0.0.5", base.Add(time.Hour)), "sweeps=%d", sweeps)
	}
}

func TestManager_LazyRemoval(t *testing.T) {
	m := newTestManager(time.Hour)
	m.AddTemporary("10.0.0.5", 1, base)
	assert.Equal(t, 1, m.Len())

	assert.False(t, m.IsBlocked("10.0.0.5", base.Add(2*time.Minute)))
	assert.Equal(t, 0, m.Len())
}

func TestManager_AddTemporaryUsesCallerClock(t *testing.T) {
	m := newTestManager(time.Hour)
	logTime := base.Add(-3 * time.Hour)

	expires := m.AddTemporary("10.0.0.5", 30, logTime)
	assert.Equal(t, logTime.Add(30*time.Minute), expires)
	assert.True(t, m.IsBlocked("10.0.0.5", logTime.Add(29*time.Minute)))
	assert.False(t, m.IsBlocked("10.0.0.5", logTime.Add(31*time.Minute)))
}

func TestManager_UnknownAddress(t *testing.T) {
	m := newTestManager(0)
	assert.False(t, m.IsBlocked("198.51.100.1", base))
}

func TestManager_SetBulkIsPermanent(t *testing.T) {
	m := newTestManager(0)
	m.SetBulk([]string{"1.1.1.1", "", "2.2.2.2"})

	assert.Equal(t, 2, m.Len())
	assert.True(t, m.IsBlocked("1.1.1.1", base.Add(50*365*24*time.Hour)))
	assert.True(t, m.IsBlocked("2.2.2.2", base))

	snap := m.Snapshot()
	assert.Equal(t, "1.1.1.1", snap[0].Address)
	assert.Equal(t, "2.2.2.2", snap[1].Address)
}

func TestManager_CleanupGate(t *testing.T) {
	m := newTestManager(300 * time.Second)
	m.AddTemporary("a", 1, base)
	m.AddTemporary("b", 10, base)

	// First sweep always runs.
	assert.Equal(t, 0, m.CleanupExpired(base))

	// Within the gate nothing is swept even though "a" expired.
	assert.Equal(t, 0, m.CleanupExpired(base.Add(2*time.Minute)))
	assert.Equal(t, 2, m.Len())

	assert.Equal(t, 1, m.CleanupExpired(base.Add(300*time.Second)))
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, "b", m.Snapshot()[0].Address)
}

func TestNewManager_DefaultInterval(t *testing.T) {
	m := NewManager(0, logrus.New())
	assert.Equal(t, DefaultCleanupInterval, m.cleanupInterval)
}
