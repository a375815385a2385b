package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"log-guard/internal/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(items []Item) []string {
	var out []string
	for _, it := range items {
		if !it.Notice {
			out = append(out, it.Line)
		}
	}
	return out
}

func notices(items []Item) []string {
	var out []string
	for _, it := range items {
		if it.Notice {
			out = append(out, it.Line)
		}
	}
	return out
}

func appendFile(t *testing.T, path, content string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestFileTail_BacklogThenGrowth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\n\nthree\n"), 0o644))

	tail := NewFileTail(path, 0)
	defer tail.Close()
	assert.Equal(t, DefaultPollInterval, tail.Delay())
	ctx := context.Background()

	items, err := tail.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, lines(items))
	assert.Equal(t, []string{
		"[INFO] Processing 3 historical lines...",
		"[INFO] Monitoring " + path + " started. Awaiting new entries.",
	}, notices(items))
	assert.True(t, items[0].Notice)

	items, err = tail.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	appendFile(t, path, "four\nfi")
	items, err = tail.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"four"}, lines(items))

	appendFile(t, path, "ve\n")
	items, err = tail.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"five"}, lines(items))
}

func TestFileTail_EmptyFileHasNoBacklogBanner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	tail := NewFileTail(path, time.Second)
	defer tail.Close()

	items, err := tail.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, strings.HasSuffix(items[0].Line, "started. Awaiting new entries."))
}

func TestFileTail_Truncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("a long first line\nanother long line\n"), 0o644))

	tail := NewFileTail(path, 0)
	defer tail.Close()
	ctx := context.Background()
	_, err := tail.Next(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("new\n"), 0o644))
	items, err := tail.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"[WARNING] Log file truncated. Restarting read."}, notices(items))
	assert.Equal(t, []string{"new"}, lines(items))
}

func TestFileTail_Vanished(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))

	tail := NewFileTail(path, 0)
	defer tail.Close()
	_, err := tail.Next(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	items, err := tail.Next(context.Background())
	assert.True(t, errors.Is(err, ErrSourceGone))
	assert.Equal(t, []string{"[ERROR] Monitored file disappeared: " + path}, notices(items))
}

func TestFileTail_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.log")

	items, err := NewFileTail(path, 0).Next(context.Background())
	assert.True(t, errors.Is(err, ErrSourceGone))
	assert.Equal(t, []string{"[ERROR] File not found: " + path}, notices(items))
}

func TestSynthetic_Lines(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 30, 0, 0, time.Local)
	sim := NewSynthetic(SyntheticConfig{AnomalyProbability: 1, Seed: 7}).WithClock(func() time.Time { return fixed })
	p := parser.New()

	for i := 0; i < 50; i++ {
		l := sim.Generate()
		assert.True(t, strings.HasSuffix(l, " (SIM)"))
		parsed, err := p.Parse(l)
		require.NoError(t, err)
		assert.True(t, parsed.Templated)
		assert.True(t, parsed.Timestamp.Equal(fixed))
		assert.Contains(t, []string{"Critical", "Error", "Warn"}, parsed.Level)
		assert.True(t, strings.HasPrefix(parser.ExtractAddress(l), "103."))
	}

	benign := NewSynthetic(SyntheticConfig{AnomalyProbability: 0, Seed: 7})
	for i := 0; i < 50; i++ {
		l := benign.Generate()
		assert.True(t, strings.HasPrefix(parser.ExtractAddress(l), "192.168.1."))
	}
}

func TestSynthetic_AnomalyRate(t *testing.T) {
	sim := NewSynthetic(SyntheticConfig{AnomalyProbability: DefaultAnomalyProbability, Seed: 42})
	anomalies := 0
	const n = 10000
	for i := 0; i < n; i++ {
		if strings.HasPrefix(parser.ExtractAddress(sim.Generate()), "103.") {
			anomalies++
		}
	}
	rate := float64(anomalies) / n
	assert.InDelta(t, DefaultAnomalyProbability, rate, 0.02)
}

func TestSynthetic_Delay(t *testing.T) {
	sim := NewSynthetic(SyntheticConfig{Seed: 1})
	for i := 0; i < 100; i++ {
		d := sim.Delay()
		assert.True(t, d >= DefaultMinDelay && d <= DefaultMaxDelay, "delay %s out of range", d)
	}

	items, err := sim.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.False(t, items[0].Notice)
}
