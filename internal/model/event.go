package model

import "time"

// UnknownAddress is used when no IP address could be extracted from a line.
const UnknownAddress = "unknown"

// Categories assigned by the detection scorer.
const (
	CategoryCritical  = "Critical"
	CategoryError     = "Error"
	CategoryWarn      = "Warn"
	CategoryInfo      = "Info"
	CategoryGeneral   = "General"
	CategoryMLAnomaly = "MLAnomaly"
)

// LogEvent is one fully processed line. It is never mutated after creation.
type LogEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Level      Severity  `json:"level"`
	Address    string    `json:"address"`
	Message    string    `json:"message"`
	Category   string    `json:"category"`
	Anomaly    bool      `json:"anomaly"`
	Score      float64   `json:"score"`
	ModelScore float64   `json:"model_score,omitempty"`
	ModelFlag  bool      `json:"model_flag,omitempty"`
}

// HasAddress reports whether the event carries a real source address.
func (e *LogEvent) HasAddress() bool {
	return e.Address != "" && e.Address != UnknownAddress
}

type Alert struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Severity    Severity  `json:"severity"`
	Address     string    `json:"address"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Rule        string    `json:"rule,omitempty"`
	Recipient   string    `json:"recipient,omitempty"`
}

// TrendPoint is one sample of the cumulative detection/blocking trend.
type TrendPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	AnomaliesTotal int64     `json:"anomalies_total"`
	ThreatsBlocked int64     `json:"threats_blocked"`
}

// RunningStats is a copy of the engine counters.
type RunningStats struct {
	LogsProcessed       int64                `json:"logs_processed"`
	AnomaliesTotal      int64                `json:"anomalies_total"`
	ThreatsBlocked      int64                `json:"threats_blocked"`
	AnomaliesThisSecond int64                `json:"anomalies_this_second"`
	ActionCounts        map[ActionKind]int64 `json:"action_counts"`
}

// TrafficRecord is what gets persisted for every accepted line.
type TrafficRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Address   string    `json:"address"`
	Level     Severity  `json:"level"`
	RawLine   string    `json:"raw_line"`
	Category  string    `json:"category"`
}

// AuditRecord is what gets persisted for every action taken.
type AuditRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	UserID    int       `json:"user_id"`
	Details   string    `json:"details"`
}
