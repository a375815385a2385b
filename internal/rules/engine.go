package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"log-guard/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store supplies the enabled rules on every reload.
type Store interface {
	ListEnabledRules() ([]model.Rule, error)
}

// StaticStore serves a fixed rule set.
type StaticStore []model.Rule

func (s StaticStore) ListEnabledRules() ([]model.Rule, error) {
	out := make([]model.Rule, 0, len(s))
	for _, r := range s {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

type NotifierInterface interface {
	SendAlert(ctx context.Context, alert model.Alert) error
}

const alertQueueSize = 100

// Engine evaluates events against the current rule sequence and dispatches
// the actions of matching rules.
type Engine struct {
	rules          []model.Rule
	store          Store
	tracker        *HitTracker
	dispatcher     *Dispatcher
	alertNotifiers []NotifierInterface
	logger         *logrus.Logger
	mu             sync.RWMutex
	alertChannel   chan model.Alert

	notifyQueue  chan model.Alert
	notifyCancel context.CancelFunc
	notifyDone   chan struct{}
	closeOnce    sync.Once
}

// NewEngine starts the notifier delivery goroutine; Close stops it.
func NewEngine(store Store, dispatcher *Dispatcher, tracker *HitTracker, logger *logrus.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		rules:          make([]model.Rule, 0),
		store:          store,
		tracker:        tracker,
		dispatcher:     dispatcher,
		alertNotifiers: make([]NotifierInterface, 0),
		logger:         logger,
		alertChannel:   make(chan model.Alert, alertQueueSize),
		notifyQueue:    make(chan model.Alert, alertQueueSize),
		notifyCancel:   cancel,
		notifyDone:     make(chan struct{}),
	}
	go e.deliver(ctx)
	return e
}

// Close cancels in-flight notifier calls and waits for the delivery
// goroutine. Queued alerts that were not yet delivered are discarded.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.notifyCancel()
		<-e.notifyDone
	})
}

func (e *Engine) RegisterNotifier(notifier NotifierInterface) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alertNotifiers = append(e.alertNotifiers, notifier)
}

// Reload replaces the rule sequence with the store's enabled rules. On error
// the current sequence is kept.
func (e *Engine) Reload() error {
	rules, err := e.store.ListEnabledRules()
	if err != nil {
		return fmt.Errorf("reload rules: %w", err)
	}
	e.LoadRules(rules)
	return nil
}

// LoadRules installs the enabled rules of the given set, ordered by priority
// and then case-insensitive name.
func (e *Engine) LoadRules(rules []model.Rule) {
	sorted := make([]model.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
	})

	e.mu.Lock()
	e.rules = sorted
	e.mu.Unlock()

	e.logger.Infof("Loaded %d active rules", len(sorted))
}

// Rules returns a copy of the current sequence.
func (e *Engine) Rules() []model.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rules := make([]model.Rule, len(e.rules))
	copy(rules, e.rules)
	return rules
}

// Evaluate runs event through the rule sequence and returns the rules whose
// actions were dispatched, in order. Evaluation stops after a high-impact
// action. Block expiries are computed from now.
func (e *Engine) Evaluate(ctx context.Context, event *model.LogEvent, now time.Time) []model.Rule {
	if event.Level.IsLow() && !event.Anomaly {
		return nil
	}

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	var fired []model.Rule
	for _, rule := range rules {
		if !e.matches(rule, event) {
			continue
		}

		e.logger.Warnf("[RULE MATCHED] Rule %d (%s) triggered by %s log from %s", rule.ID, rule.Name, event.Level, event.Address)
		e.dispatcher.Execute(ctx, rule, event, now)
		fired = append(fired, rule)

		if rule.Action.Kind() == model.ActionSendAlert {
			e.EmitAlert(newRuleAlert(rule, event))
		}
		if rule.Action.Kind().HighImpact() {
			break
		}
	}
	return fired
}

func (e *Engine) matches(rule model.Rule, event *model.LogEvent) bool {
	switch c := rule.Condition.(type) {
	case model.SeverityCondition:
		return event.Level.AtLeast(c.Min)
	case model.SourceAddressCondition:
		return event.HasAddress() && event.Address == c.Address
	case model.MessageContainsCondition:
		return c.Substring != "" && strings.Contains(strings.ToLower(event.Message), strings.ToLower(c.Substring))
	case model.RepeatedEventCondition:
		if !event.HasAddress() {
			return false
		}
		return e.tracker.Record(event.Address, rule.ID, c.Attempts, c.Window, event.Timestamp)
	}
	return false
}

// CleanupTrackers sweeps hit trackers of removed rules and idle addresses.
func (e *Engine) CleanupTrackers(now time.Time) int {
	e.mu.RLock()
	windows := make(map[int]time.Duration)
	for _, r := range e.rules {
		if c, ok := r.Condition.(model.RepeatedEventCondition); ok {
			windows[r.ID] = c.Window
		}
	}
	e.mu.RUnlock()

	return e.tracker.Cleanup(now, windows)
}

// EmitAlert publishes alert on the alert channel and queues it for the
// registered notifiers. It never blocks; alerts are dropped when full.
func (e *Engine) EmitAlert(alert model.Alert) {
	select {
	case e.alertChannel <- alert:
	default:
		e.logger.Error("Alert channel is full, dropping alert")
	}

	select {
	case e.notifyQueue <- alert:
	default:
		e.logger.WithField("alert_id", alert.ID).Error("Notifier queue is full, dropping alert")
	}
}

func (e *Engine) deliver(ctx context.Context) {
	defer close(e.notifyDone)
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-e.notifyQueue:
			e.notify(ctx, alert)
		}
	}
}

func (e *Engine) notify(ctx context.Context, alert model.Alert) {
	e.mu.RLock()
	notifiers := make([]NotifierInterface, len(e.alertNotifiers))
	copy(notifiers, e.alertNotifiers)
	e.mu.RUnlock()

	for _, notifier := range notifiers {
		if err := notifier.SendAlert(ctx, alert); err != nil {
			e.logger.Errorf("Failed to send alert: %v", err)
		}
	}
}

func (e *Engine) GetAlertChannel() <-chan model.Alert {
	return e.alertChannel
}

func newRuleAlert(rule model.Rule, event *model.LogEvent) model.Alert {
	recipient := ""
	if a, ok := rule.Action.(model.AlertAction); ok {
		recipient = a.Recipient
	}
	return model.Alert{
		ID:          uuid.New().String(),
		Timestamp:   event.Timestamp,
		Severity:    event.Level,
		Address:     event.Address,
		Category:    event.Category,
		Description: fmt.Sprintf("Rule '%s' matched: %s", rule.Name, truncate(event.Message, 100)),
		Rule:        rule.Name,
		Recipient:   recipient,
	}
}
