package detection

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"log-guard/internal/model"
)

type fakeModel struct {
	outlier  bool
	decision float64
	err      error
	calls    int
}

func (f *fakeModel) Predict(string) (bool, error) {
	f.calls++
	return f.outlier, f.err
}

func (f *fakeModel) DecisionScore(string) (float64, error) {
	return f.decision, f.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestScore_Heuristics(t *testing.T) {
	s := NewScorer(quietLogger())

	tests := []struct {
		name     string
		message  string
		anomaly  bool
		level    model.Severity
		category string
	}{
		{"root login", "10.0.0.5 - Root Login Failed", true, model.SeverityCritical, model.CategoryCritical},
		{"dos", "Denial of Service (DoS)", true, model.SeverityCritical, model.CategoryCritical},
		{"sql injection", "SQL Injection Detected", true, model.SeverityError, model.CategoryError},
		{"unauthorized", "Unauthorized access", true, model.SeverityWarn, model.CategoryWarn},
		{"health check", "Health Check OK", false, model.SeverityInfo, model.CategoryInfo},
		{"debug trace", "Debug trace logged", false, model.SeverityInfo, model.CategoryInfo},
		{"general", "User 123 logged out", false, model.SeverityInfo, model.CategoryGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := s.Score(tt.message, tt.message)
			assert.Equal(t, tt.anomaly, v.Anomaly)
			assert.Equal(t, tt.level, v.Level)
			assert.Equal(t, tt.category, v.Category)
			assert.False(t, v.ModelFlag)
		})
	}
}

func TestScore_FirstBucketWins(t *testing.T) {
	s := NewScorer(quietLogger())

	// ROOT and FAILED both match; only the critical weight applies.
	v := s.Score("root failed", "root failed")
	assert.Equal(t, 2.0, v.Score)
	assert.Equal(t, model.CategoryCritical, v.Category)
}

func TestScore_AddressFromOriginalLine(t *testing.T) {
	s := NewScorer(quietLogger())

	v := s.Score("connection from 203.0.113.9 refused", "connection from IP_REDACTED refused")
	assert.Equal(t, "203.0.113.9", v.Address)

	v = s.Score("no address", "no address")
	assert.Equal(t, model.UnknownAddress, v.Address)
}

func TestScore_MoreKeywordsNeverLowerSeverity(t *testing.T) {
	s := NewScorer(quietLogger())

	base := s.Score("user logged out", "user logged out")
	for _, extra := range []string{"timeout", "sql", "malware"} {
		v := s.Score("user logged out "+extra, "user logged out "+extra)
		assert.True(t, v.Score >= base.Score, extra)
		assert.True(t, v.Level.AtLeast(base.Level), extra)
	}
}

func TestScore_ModelOutlier(t *testing.T) {
	s := NewScorer(quietLogger())
	s.SetModel("fake", &fakeModel{outlier: true, decision: -0.25})
	assert.Equal(t, StatusModelActive, s.Status())

	v := s.Score("User 123 logged out", "User 123 logged out")
	assert.True(t, v.Anomaly)
	assert.True(t, v.ModelFlag)
	assert.Equal(t, model.CategoryMLAnomaly, v.Category)
	assert.Equal(t, model.SeverityError, v.Level)
	assert.InDelta(t, 0.5, v.ModelScore, 1e-9)

	// Keyword categories other than General and Info are kept.
	v = s.Score("SQL Injection Detected", "SQL Injection Detected")
	assert.Equal(t, model.CategoryError, v.Category)
	assert.Equal(t, model.SeverityCritical, v.Level)
}

func TestScore_ModelInlierAddsNothing(t *testing.T) {
	s := NewScorer(quietLogger())
	s.SetModel("fake", &fakeModel{outlier: false, decision: 0.3})

	v := s.Score("Health Check OK", "Health Check OK")
	assert.False(t, v.Anomaly)
	assert.False(t, v.ModelFlag)
	assert.Equal(t, model.CategoryInfo, v.Category)
}

func TestScore_FailingModelDegrades(t *testing.T) {
	s := NewScorer(quietLogger())
	fm := &fakeModel{err: errors.New("boom")}
	s.SetModel("broken", fm)

	for i := 0; i < 3; i++ {
		v := s.Score("Root Login Failed", "Root Login Failed")
		assert.Equal(t, 2.0, v.Score)
		assert.False(t, v.ModelFlag)
	}
	assert.Equal(t, 3, fm.calls)
}

func TestNormalizeDecision(t *testing.T) {
	assert.Equal(t, 1.0, normalizeDecision(-2))
	assert.Equal(t, 0.01, normalizeDecision(-0.5))
	assert.InDelta(t, 0.8, normalizeDecision(-0.1), 1e-9)
}

func TestLoadModel(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: tokens
offset: 0.2
unknown_weight: 0.0
vocabulary:
  exfiltration: 1.0
  OK: -0.5
`), 0o644))

	s := NewScorer(quietLogger())
	ok, msg := s.LoadModel(path)
	require.True(t, ok, msg)
	assert.Equal(t, StatusModelActive, s.Status())
	assert.Contains(t, s.StatusLine(), "tokens")

	v := s.Score("exfiltration", "exfiltration")
	assert.True(t, v.ModelFlag)
	assert.Equal(t, model.CategoryMLAnomaly, v.Category)

	v = s.Score("ok", "ok")
	assert.False(t, v.ModelFlag)

	ok, msg = s.LoadModel(filepath.Join(dir, "missing.yaml"))
	assert.False(t, ok)
	assert.Contains(t, msg, "Failed to load model")
	assert.Equal(t, StatusHeuristicOnly, s.Status())

	v = s.Score("exfiltration", "exfiltration")
	assert.False(t, v.ModelFlag)

	s.ClearModel()
	assert.Equal(t, StatusNone, s.Status())
}

func TestLoadTokenModel_Errors(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("name: x\n"), 0o644))
	_, err := LoadTokenModel(empty)
	assert.True(t, errors.Is(err, ErrModelLoad))

	garbage := filepath.Join(dir, "garbage.yaml")
	require.NoError(t, os.WriteFile(garbage, []byte("vocabulary: [1, 2"), 0o644))
	_, err = LoadTokenModel(garbage)
	assert.True(t, errors.Is(err, ErrModelLoad))
}
