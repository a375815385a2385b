// Package detection scores parsed log lines with keyword heuristics and an
// optional, swappable anomaly model.
package detection

import (
	"fmt"
	"strings"
	"sync"

	"log-guard/internal/model"
	"log-guard/internal/parser"

	"github.com/sirupsen/logrus"
)

// Score weights and thresholds.
const (
	weightCritical = 2.0
	weightError    = 1.2
	weightWarn     = 0.5
	weightModel    = 1.5

	anomalyThreshold  = 0.4
	criticalThreshold = 1.8
	errorThreshold    = 1.0
	warnThreshold     = 0.5
)

type bucket struct {
	keywords []string
	weight   float64
	category string
}

// Inspected in order; the first bucket with a matching keyword wins.
var buckets = []bucket{
	{[]string{"CRITICAL", "ROOT", "DOS", "MALWARE"}, weightCritical, model.CategoryCritical},
	{[]string{"ERROR", "SQL", "INJECTION", "PRIVILEGE"}, weightError, model.CategoryError},
	{[]string{"FAILED", "WARN", "TIMEOUT", "AUTH", "UNAUTHORIZED"}, weightWarn, model.CategoryWarn},
	{[]string{"INFO", "HEALTH", "DEBUG"}, 0, model.CategoryInfo},
}

// ModelStatus describes the model binding of a Scorer.
type ModelStatus string

const (
	StatusNone          ModelStatus = "none"
	StatusHeuristicOnly ModelStatus = "heuristic-only"
	StatusModelActive   ModelStatus = "model-active"
)

// Verdict is the outcome of scoring one line.
type Verdict struct {
	Anomaly    bool
	Level      model.Severity
	Category   string
	Address    string
	Score      float64
	ModelScore float64
	ModelFlag  bool
}

// Scorer combines the heuristic and model signals. It is safe for concurrent use.
type Scorer struct {
	mu           sync.RWMutex
	model        AnomalyModel
	modelName    string
	status       ModelStatus
	statusReason string
	warnedOnce   bool
	logger       *logrus.Logger
}

func NewScorer(logger *logrus.Logger) *Scorer {
	return &Scorer{
		status: StatusNone,
		logger: logger,
	}
}

// SetModel binds m under the given display name.
func (s *Scorer) SetModel(name string, m AnomalyModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m == nil {
		s.model = nil
		s.modelName = ""
		s.status = StatusNone
		s.statusReason = ""
		return
	}
	s.model = m
	s.modelName = name
	s.status = StatusModelActive
	s.statusReason = ""
	s.warnedOnce = false
	s.logger.Infof("Anomaly model %q bound", name)
}

// ClearModel removes the current model; scoring becomes heuristic-only.
func (s *Scorer) ClearModel() {
	s.SetModel("", nil)
}

// LoadModel loads a TokenModel from path and binds it. On failure the previous
// model is dropped and the scorer degrades to heuristics.
func (s *Scorer) LoadModel(path string) (bool, string) {
	m, err := LoadTokenModel(path)
	if err != nil {
		s.mu.Lock()
		s.model = nil
		s.modelName = ""
		s.status = StatusHeuristicOnly
		s.statusReason = err.Error()
		s.mu.Unlock()
		s.logger.Warnf("Anomaly model disabled: %v", err)
		return false, fmt.Sprintf("Failed to load model: %v", err)
	}
	s.SetModel(m.Name, m)
	return true, fmt.Sprintf("Model %q loaded successfully.", m.Name)
}

func (s *Scorer) Status() ModelStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// StatusLine is a human-readable summary of the model binding.
func (s *Scorer) StatusLine() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.status {
	case StatusModelActive:
		return fmt.Sprintf("%s (%s)", s.status, s.modelName)
	case StatusHeuristicOnly:
		return fmt.Sprintf("%s (model failed: %s)", s.status, s.statusReason)
	}
	return fmt.Sprintf("%s (heuristics only)", s.status)
}

// Score computes the verdict for one line. message is the parsed message;
// the address is always taken from the original line.
func (s *Scorer) Score(line, message string) Verdict {
	v := Verdict{
		Address:  parser.ExtractAddress(line),
		Category: model.CategoryGeneral,
	}

	text := strings.ToUpper(message)
	for _, b := range buckets {
		if containsAny(text, b.keywords) {
			v.Score += b.weight
			v.Category = b.category
			break
		}
	}

	s.applyModel(message, &v)

	v.Anomaly = v.Score > anomalyThreshold
	v.Level = levelFor(v.Score)
	return v
}

func (s *Scorer) applyModel(message string, v *Verdict) {
	s.mu.RLock()
	m := s.model
	s.mu.RUnlock()
	if m == nil {
		return
	}

	outlier, err := m.Predict(message)
	if err == nil && outlier {
		var decision float64
		decision, err = m.DecisionScore(message)
		if err == nil {
			v.ModelFlag = true
			v.ModelScore = normalizeDecision(decision)
			v.Score += weightModel
			if v.Category == model.CategoryGeneral || v.Category == model.CategoryInfo {
				v.Category = model.CategoryMLAnomaly
			}
		}
	}
	if err != nil {
		s.mu.Lock()
		if !s.warnedOnce {
			s.warnedOnce = true
			s.logger.Warnf("Anomaly model inference failed, scoring heuristically: %v", err)
		}
		s.mu.Unlock()
	}
}

// normalizeDecision maps a negative decision value into (0, 1] for display.
func normalizeDecision(decision float64) float64 {
	score := 1.0 - decision/-0.5
	if score < 0.01 {
		score = 0.01
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func levelFor(score float64) model.Severity {
	switch {
	case score >= criticalThreshold:
		return model.SeverityCritical
	case score >= errorThreshold:
		return model.SeverityError
	case score >= warnThreshold:
		return model.SeverityWarn
	}
	return model.SeverityInfo
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
