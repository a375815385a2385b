package monitor

import (
	"sync"
	"time"

	"log-guard/internal/buffer"
	"log-guard/internal/client"
	"log-guard/internal/model"
)

// State holds the running counters and the three shared rings behind one
// mutex. It is written by the worker and read by everything else.
type State struct {
	mu sync.Mutex

	logsProcessed  int64
	anomaliesTotal int64
	threatsBlocked int64
	actionCounts   map[model.ActionKind]int64

	secondStart         time.Time
	anomaliesThisSecond int64
	lastTrend           time.Time

	history *buffer.Ring[model.LogEvent]
	alerts  *buffer.Ring[model.Alert]
	trend   *buffer.Ring[model.TrendPoint]

	metrics *client.PrometheusMetrics
	now     func() time.Time
}

// NewState creates the shared state with the given ring capacities.
func NewState(historySize, alertSize, trendSize int, metrics *client.PrometheusMetrics) *State {
	return &State{
		actionCounts: make(map[model.ActionKind]int64),
		history:      buffer.NewRing[model.LogEvent](historySize),
		alerts:       buffer.NewRing[model.Alert](alertSize),
		trend:        buffer.NewRing[model.TrendPoint](trendSize),
		metrics:      metrics,
		now:          time.Now,
	}
}

func (s *State) WithClock(now func() time.Time) *State {
	s.now = now
	return s
}

func (s *State) RecordEvent(event model.LogEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logsProcessed++
	s.history.Push(event)
}

// RecordAnomaly counts an anomaly and buffers its alert.
func (s *State) RecordAnomaly(alert model.Alert, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomaliesTotal++
	if now.Sub(s.secondStart) >= time.Second {
		s.secondStart = now
		s.anomaliesThisSecond = 0
	}
	s.anomaliesThisSecond++
	s.alerts.Push(alert)
}

func (s *State) RecordProactiveBlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threatsBlocked++
}

// RecordTrend appends a trend point when at least a second has passed since
// the previous one, or unconditionally when force is set.
func (s *State) RecordTrend(now time.Time, force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !force && now.Sub(s.lastTrend) < time.Second {
		return
	}
	s.trend.Push(model.TrendPoint{
		Timestamp:      now,
		AnomaliesTotal: s.anomaliesTotal,
		ThreatsBlocked: s.threatsBlocked,
	})
	s.lastTrend = now
}

// IncrementAction implements rules.Counters.
func (s *State) IncrementAction(kind model.ActionKind) {
	s.mu.Lock()
	s.actionCounts[kind]++
	s.mu.Unlock()
	s.metrics.RecordRuleAction(string(kind))
}

// IncrementBlocked implements rules.Counters.
func (s *State) IncrementBlocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threatsBlocked++
}

// Stats returns a copy of the counters.
func (s *State) Stats() model.RunningStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[model.ActionKind]int64, len(s.actionCounts))
	for k, v := range s.actionCounts {
		counts[k] = v
	}
	thisSecond := s.anomaliesThisSecond
	if s.now().Sub(s.secondStart) >= time.Second {
		thisSecond = 0
	}
	return model.RunningStats{
		LogsProcessed:       s.logsProcessed,
		AnomaliesTotal:      s.anomaliesTotal,
		ThreatsBlocked:      s.threatsBlocked,
		AnomaliesThisSecond: thisSecond,
		ActionCounts:        counts,
	}
}

// Logs returns up to n history entries, newest first. n <= 0 returns all.
func (s *State) Logs(n int) []model.LogEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return s.history.Items()
	}
	return s.history.Newest(n)
}

func (s *State) Alerts() []model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts.Items()
}

// DrainAlerts returns the buffered alerts and empties the buffer.
func (s *State) DrainAlerts() []model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts.Drain()
}

func (s *State) Trend() []model.TrendPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trend.Items()
}
