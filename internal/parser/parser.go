// Package parser turns raw log lines into timestamp, level and message.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"log-guard/internal/model"
)

// TimestampLayout is the timestamp format used inside the bracketed template.
const TimestampLayout = "2006-01-02 15:04:05"

// Redacted replaces addresses in the message of lines that do not match the template.
const Redacted = "IP_REDACTED"

// ErrMalformedTimestamp is returned when a templated line carries an unparseable timestamp.
var ErrMalformedTimestamp = errors.New("malformed timestamp")

var (
	addressPattern = regexp.MustCompile(`(?:\d{1,3}\.){3}\d{1,3}|(?:[a-fA-F0-9]{1,4}:){7}[a-fA-F0-9]{1,4}`)
	linePattern    = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\]\s+\[([A-Za-z]+)\]\s+(.*)$`)
)

// Parsed holds the fields extracted from one line.
type Parsed struct {
	Timestamp time.Time
	Level     string
	Message   string
	// Templated is false when the fallback path produced the fields.
	Templated bool
}

// Parser extracts fields from log lines. The zero value is not usable; use New.
type Parser struct {
	now      func() time.Time
	location *time.Location
}

func New() *Parser {
	return &Parser{
		now:      time.Now,
		location: time.Local,
	}
}

// WithClock replaces the clock used for fallback timestamps.
func (p *Parser) WithClock(now func() time.Time) *Parser {
	p.now = now
	return p
}

// WithLocation sets the zone template timestamps are interpreted in.
func (p *Parser) WithLocation(loc *time.Location) *Parser {
	p.location = loc
	return p
}

// Parse extracts timestamp, level and message from line. Lines that do not
// match the template never fail: they get the current time, the Debug level and
// a message with every address redacted.
func (p *Parser) Parse(line string) (Parsed, error) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return Parsed{
			Timestamp: p.now(),
			Level:     model.SeverityDebug.String(),
			Message:   addressPattern.ReplaceAllString(line, Redacted),
		}, nil
	}

	ts, err := time.ParseInLocation(TimestampLayout, m[1], p.location)
	if err != nil {
		return Parsed{}, fmt.Errorf("%w %q: %v", ErrMalformedTimestamp, m[1], err)
	}

	return Parsed{
		Timestamp: ts,
		Level:     m[2],
		Message:   m[3],
		Templated: true,
	}, nil
}

// Format renders fields back into the bracketed template.
func Format(p Parsed) string {
	return fmt.Sprintf("[%s] [%s] %s", p.Timestamp.Format(TimestampLayout), p.Level, p.Message)
}

// ExtractAddress returns the first IPv4/IPv6 address in line, or model.UnknownAddress.
// It must be given the original line, not a redacted message.
func ExtractAddress(line string) string {
	if addr := addressPattern.FindString(line); addr != "" {
		return addr
	}
	return model.UnknownAddress
}
