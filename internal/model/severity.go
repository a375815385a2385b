package model

import (
	"fmt"
	"strings"
)

// Severity is an ordered log level. Lower values are more severe.
type Severity int

const (
	SeverityCritical Severity = iota
	SeverityError
	SeverityWarn
	SeverityInfo
	SeverityDebug
)

// SeverityOrder lists every level, most severe first.
var SeverityOrder = []Severity{SeverityCritical, SeverityError, SeverityWarn, SeverityInfo, SeverityDebug}

var severityNames = map[Severity]string{
	SeverityCritical: "Critical",
	SeverityError:    "Error",
	SeverityWarn:     "Warn",
	SeverityInfo:     "Info",
	SeverityDebug:    "Debug",
}

var severityAliases = map[string]Severity{
	"critical": SeverityCritical,
	"crit":     SeverityCritical,
	"fatal":    SeverityCritical,
	"error":    SeverityError,
	"err":      SeverityError,
	"warn":     SeverityWarn,
	"warning":  SeverityWarn,
	"info":     SeverityInfo,
	"debug":    SeverityDebug,
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// AtLeast reports whether s is as severe as min or more.
func (s Severity) AtLeast(min Severity) bool {
	return s <= min
}

// IsLow reports whether s is Info or Debug.
func (s Severity) IsLow() bool {
	return s >= SeverityInfo
}

// ParseSeverity maps a level name (case-insensitive, common aliases accepted) to a Severity.
func ParseSeverity(name string) (Severity, error) {
	if sev, ok := severityAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return sev, nil
	}
	return SeverityInfo, fmt.Errorf("unknown severity level %q", name)
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	sev, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = sev
	return nil
}
