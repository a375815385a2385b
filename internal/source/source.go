// Package source produces raw log lines for the monitor: a polled file tail
// and a synthetic generator.
package source

import (
	"context"
	"errors"
	"time"
)

// ErrSourceGone is returned when the monitored target vanished or became
// unreadable. It is terminal.
var ErrSourceGone = errors.New("source gone")

// Item is one unit handed to the monitor. Notices are status lines for the
// consumer and bypass the pipeline.
type Item struct {
	Line   string
	Notice bool
}

func line(s string) Item   { return Item{Line: s} }
func notice(s string) Item { return Item{Line: s, Notice: true} }

// Source is polled by the monitor worker once per iteration.
type Source interface {
	// Next returns whatever became available since the previous call. Items
	// returned alongside an error are still delivered.
	Next(ctx context.Context) ([]Item, error)
	// Delay is how long the worker waits before the next call.
	Delay() time.Duration
	Close() error
}
