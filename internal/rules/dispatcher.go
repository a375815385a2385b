package rules

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"log-guard/internal/blocklist"
	"log-guard/internal/model"
	"log-guard/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Counters receives the side effects of dispatched actions.
type Counters interface {
	IncrementAction(kind model.ActionKind)
	IncrementBlocked()
}

// Dispatcher executes the action of a matched rule. Actions never fail from
// the caller's point of view: persistence errors are logged.
type Dispatcher struct {
	blocklist *blocklist.Manager
	sink      storage.Sink
	counters  Counters
	userID    atomic.Int64
	logger    *logrus.Logger
}

func NewDispatcher(bl *blocklist.Manager, sink storage.Sink, counters Counters, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		blocklist: bl,
		sink:      sink,
		counters:  counters,
		logger:    logger,
	}
}

// SetUserID sets the operator id attached to audit records.
func (d *Dispatcher) SetUserID(id int) {
	d.userID.Store(int64(id))
}

func (d *Dispatcher) UserID() int {
	return int(d.userID.Load())
}

// Execute runs rule's action for event. Block expiries count from now.
func (d *Dispatcher) Execute(ctx context.Context, rule model.Rule, event *model.LogEvent, now time.Time) {
	kind := rule.Action.Kind()
	details := auditDetails(rule, event)

	d.counters.IncrementAction(kind)

	switch a := rule.Action.(type) {
	case model.BlockAction:
		if !event.HasAddress() {
			d.logger.Warnf("Rule %q wants to block but the event has no address", rule.Name)
			return
		}
		minutes := int(a.Duration / time.Minute)
		if minutes <= 0 {
			d.logger.Warnf("Rule %q has a block duration under one minute (%s), not blocking %s", rule.Name, a.Duration, event.Address)
			return
		}
		expires := d.blocklist.AddTemporary(event.Address, minutes, now)
		d.counters.IncrementBlocked()
		d.logger.Infof("[ACTION] Temporarily blocked %s until %s", event.Address, expires.Format("15:04:05"))
		d.audit(ctx, kind, details+fmt.Sprintf(", Duration: %d min.", minutes))

	case model.AlertAction:
		d.logger.Infof("[ACTION] Alert for rule %q sent to %s", rule.Name, a.Recipient)
		d.audit(ctx, kind, details)

	case model.ScriptAction:
		d.logger.Infof("[ACTION] Would execute script %s for rule %q", a.Path, rule.Name)
		d.audit(ctx, kind, details+fmt.Sprintf(", Script: %s", a.Path))

	case model.LogAction:
		d.logger.Infof("[ACTION] Rule %q triggered, event logged", rule.Name)
		d.audit(ctx, kind, details)
	}
}

func (d *Dispatcher) audit(ctx context.Context, kind model.ActionKind, details string) {
	rec := model.AuditRecord{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Action:    kind.AuditName(),
		UserID:    d.UserID(),
		Details:   details,
	}
	if err := d.sink.LogAction(ctx, rec); err != nil {
		d.logger.Errorf("Failed to persist audit record %s: %v", rec.Action, err)
	}
}

func auditDetails(rule model.Rule, event *model.LogEvent) string {
	return fmt.Sprintf("Rule: '%s' (%d), Log IP: %s, Action: %s, Log: %s...",
		rule.Name, rule.ID, event.Address, rule.Action.Kind(), truncate(event.Message, 80))
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
