package storage

import (
	"strings"
	"sync"
	"time"

	"log-guard/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Storage keeps the recent consumer lines and rule alerts for the API and
// fans them out to stream subscribers. It implements monitor.Sink.
type Storage struct {
	mu          sync.RWMutex
	lines       []Line
	alerts      []model.Alert
	maxLines    int
	maxAlerts   int
	logger      *logrus.Logger
	lineSubs    map[*LineSubscriber]bool
	lineSubsMu  sync.RWMutex
	alertSubs   map[*AlertSubscriber]bool
	alertSubsMu sync.RWMutex
}

// Line is one line delivered by the monitor.
type Line struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

type LineSubscriber struct {
	ID       string
	Channel  chan Line
	LastSeen time.Time
}

type AlertSubscriber struct {
	ID       string
	Channel  chan model.Alert
	Filter   AlertFilter
	LastSeen time.Time
}

type AlertFilter struct {
	Severity string
	Address  string
}

func (f AlertFilter) matches(a model.Alert) bool {
	if f.Severity != "" && !strings.EqualFold(a.Severity.String(), f.Severity) {
		return false
	}
	if f.Address != "" && a.Address != f.Address {
		return false
	}
	return true
}

func NewStorage(maxLines, maxAlerts int, logger *logrus.Logger) *Storage {
	if maxLines <= 0 {
		maxLines = 1000
	}
	if maxAlerts <= 0 {
		maxAlerts = 10000
	}
	return &Storage{
		lines:     make([]Line, 0),
		alerts:    make([]model.Alert, 0),
		maxLines:  maxLines,
		maxAlerts: maxAlerts,
		logger:    logger,
		lineSubs:  make(map[*LineSubscriber]bool),
		alertSubs: make(map[*AlertSubscriber]bool),
	}
}

// ProcessLine records a line and forwards it to subscribers. It never fails;
// slow subscribers miss lines instead.
func (s *Storage) ProcessLine(text string) error {
	s.mu.Lock()
	var seq uint64 = 1
	if n := len(s.lines); n > 0 {
		seq = s.lines[n-1].Seq + 1
	}
	line := Line{Seq: seq, Timestamp: time.Now(), Text: text}
	s.lines = append(s.lines, line)
	if len(s.lines) > s.maxLines {
		s.lines = s.lines[len(s.lines)-s.maxLines:]
	}
	s.mu.Unlock()

	s.notifyLineSubscribers(line)
	return nil
}

// GetLines returns up to limit lines, latest first.
func (s *Storage) GetLines(limit int, search string) []Line {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Line, 0)
	for i := len(s.lines) - 1; i >= 0 && len(result) < limit; i-- {
		if search != "" && !contains(s.lines[i].Text, search) {
			continue
		}
		result = append(result, s.lines[i])
	}
	return result
}

func (s *Storage) SubscribeLines() *LineSubscriber {
	sub := &LineSubscriber{
		ID:       uuid.New().String(),
		Channel:  make(chan Line, 100),
		LastSeen: time.Now(),
	}
	s.lineSubsMu.Lock()
	defer s.lineSubsMu.Unlock()
	s.lineSubs[sub] = true
	return sub
}

func (s *Storage) UnsubscribeLines(sub *LineSubscriber) {
	s.lineSubsMu.Lock()
	defer s.lineSubsMu.Unlock()
	if _, ok := s.lineSubs[sub]; !ok {
		return
	}
	delete(s.lineSubs, sub)
	close(sub.Channel)
}

func (s *Storage) notifyLineSubscribers(line Line) {
	s.lineSubsMu.RLock()
	defer s.lineSubsMu.RUnlock()

	for sub := range s.lineSubs {
		select {
		case sub.Channel <- line:
			sub.LastSeen = time.Now()
		default:
			// Channel full, skip
		}
	}
}

// AddAlert stores a rule alert and notifies subscribers.
func (s *Storage) AddAlert(alert model.Alert) {
	s.mu.Lock()
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	s.alerts = append(s.alerts, alert)
	if len(s.alerts) > s.maxAlerts {
		s.alerts = s.alerts[len(s.alerts)-s.maxAlerts:]
	}
	s.mu.Unlock()

	s.notifyAlertSubscribers(alert)
}

func (s *Storage) GetAlerts(limit int, severity, address, search string) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := AlertFilter{Severity: severity, Address: address}
	result := make([]model.Alert, 0)
	for i := len(s.alerts) - 1; i >= 0 && len(result) < limit; i-- {
		a := s.alerts[i]
		if !filter.matches(a) {
			continue
		}
		if search != "" && !contains(a.Description, search) {
			continue
		}
		result = append(result, a)
	}
	return result
}

func (s *Storage) GetAlertByID(id string) *model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.alerts {
		if s.alerts[i].ID == id {
			a := s.alerts[i]
			return &a
		}
	}
	return nil
}

func (s *Storage) SubscribeAlerts(filter AlertFilter) *AlertSubscriber {
	sub := &AlertSubscriber{
		ID:       uuid.New().String(),
		Channel:  make(chan model.Alert, 100),
		Filter:   filter,
		LastSeen: time.Now(),
	}
	s.alertSubsMu.Lock()
	defer s.alertSubsMu.Unlock()
	s.alertSubs[sub] = true
	return sub
}

func (s *Storage) UnsubscribeAlerts(sub *AlertSubscriber) {
	s.alertSubsMu.Lock()
	defer s.alertSubsMu.Unlock()
	if _, ok := s.alertSubs[sub]; !ok {
		return
	}
	delete(s.alertSubs, sub)
	close(sub.Channel)
}

func (s *Storage) notifyAlertSubscribers(alert model.Alert) {
	s.alertSubsMu.RLock()
	defer s.alertSubsMu.RUnlock()

	for sub := range s.alertSubs {
		if !sub.Filter.matches(alert) {
			continue
		}
		select {
		case sub.Channel <- alert:
			sub.LastSeen = time.Now()
		default:
			s.logger.Debugf("Alert subscriber %s is full, dropping alert", sub.ID)
		}
	}
}

func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
