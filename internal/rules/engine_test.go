package rules

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"log-guard/internal/blocklist"
	"log-guard/internal/model"
)

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type fakeSink struct {
	mu     sync.Mutex
	audit  []model.AuditRecord
	failed bool
}

func (s *fakeSink) InsertTrafficLog(context.Context, model.TrafficRecord) error { return nil }

func (s *fakeSink) LogAction(_ context.Context, rec model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return errors.New("disk full")
	}
	s.audit = append(s.audit, rec)
	return nil
}

func (s *fakeSink) Close() error { return nil }

type fakeCounters struct {
	actions map[model.ActionKind]int
	blocked int
}

func (c *fakeCounters) IncrementAction(kind model.ActionKind) {
	if c.actions == nil {
		c.actions = make(map[model.ActionKind]int)
	}
	c.actions[kind]++
}

func (c *fakeCounters) IncrementBlocked() { c.blocked++ }

type recordingNotifier struct {
	alerts chan model.Alert
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{alerts: make(chan model.Alert, 10)}
}

func (n *recordingNotifier) SendAlert(_ context.Context, a model.Alert) error {
	n.alerts <- a
	return nil
}

func (n *recordingNotifier) next(t *testing.T) model.Alert {
	t.Helper()
	select {
	case a := <-n.alerts:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("no alert delivered to notifier")
	}
	return model.Alert{}
}

type harness struct {
	engine   *Engine
	bl       *blocklist.Manager
	sink     *fakeSink
	counters *fakeCounters
	tracker  *HitTracker
}

func newHarness(rules ...model.Rule) *harness {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := &harness{
		bl:       blocklist.NewManager(0, logger).WithClock(func() time.Time { return t0 }),
		sink:     &fakeSink{},
		counters: &fakeCounters{},
		tracker:  NewHitTracker(0),
	}
	d := NewDispatcher(h.bl, h.sink, h.counters, logger)
	h.engine = NewEngine(StaticStore(rules), d, h.tracker, logger)
	if err := h.engine.Reload(); err != nil {
		panic(err)
	}
	return h
}

func event(ts time.Time, level model.Severity, addr, msg string) *model.LogEvent {
	return &model.LogEvent{
		Timestamp: ts,
		Level:     level,
		Address:   addr,
		Message:   msg,
		Category:  model.CategoryError,
		Anomaly:   !level.IsLow(),
	}
}

func names(rules []model.Rule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Name)
	}
	return out
}

func TestEngine_RateLimitWindow(t *testing.T) {
	rule := model.Rule{
		ID: 1, Name: "burst", Priority: 1, Enabled: true,
		Condition: model.RepeatedEventCondition{Attempts: 3, Window: 10 * time.Second},
		Action:    model.LogAction{},
	}

	t.Run("n hits inside window fire", func(t *testing.T) {
		h := newHarness(rule)
		ctx := context.Background()
		assert.Empty(t, h.engine.Evaluate(ctx, event(t0, model.SeverityError, "1.2.3.4", "x"), t0))
		assert.Empty(t, h.engine.Evaluate(ctx, event(t0.Add(4*time.Second), model.SeverityError, "1.2.3.4", "x"), t0))
		assert.Len(t, h.engine.Evaluate(ctx, event(t0.Add(9*time.Second), model.SeverityError, "1.2.3.4", "x"), t0), 1)
	})

	t.Run("n-1 hits do not fire", func(t *testing.T) {
		h := newHarness(rule)
		ctx := context.Background()
		assert.Empty(t, h.engine.Evaluate(ctx, event(t0, model.SeverityError, "1.2.3.4", "x"), t0))
		assert.Empty(t, h.engine.Evaluate(ctx, event(t0.Add(time.Second), model.SeverityError, "1.2.3.4", "x"), t0))
		assert.Equal(t, 2, h.tracker.Hits("1.2.3.4", 1))
	})

	t.Run("hits spread wider than window do not fire", func(t *testing.T) {
		h := newHarness(rule)
		ctx := context.Background()
		for _, off := range []time.Duration{0, 6 * time.Second, 12 * time.Second, 18 * time.Second, 24 * time.Second} {
			assert.Empty(t, h.engine.Evaluate(ctx, event(t0.Add(off), model.SeverityError, "1.2.3.4", "x"), t0))
		}
	})

	t.Run("addresses are tracked separately", func(t *testing.T) {
		h := newHarness(rule)
		ctx := context.Background()
		h.engine.Evaluate(ctx, event(t0, model.SeverityError, "1.1.1.1", "x"), t0)
		h.engine.Evaluate(ctx, event(t0, model.SeverityError, "2.2.2.2", "x"), t0)
		assert.Empty(t, h.engine.Evaluate(ctx, event(t0, model.SeverityError, "1.1.1.1", "x"), t0))
	})

	t.Run("unknown address never counts", func(t *testing.T) {
		h := newHarness(rule)
		for i := 0; i < 5; i++ {
			assert.Empty(t, h.engine.Evaluate(context.Background(), event(t0, model.SeverityError, model.UnknownAddress, "x"), t0))
		}
		assert.Equal(t, 0, h.tracker.Len())
	})
}

func TestEngine_BruteForceScenario(t *testing.T) {
	h := newHarness(model.Rule{
		ID: 7, Name: "brute force", Priority: 1, Enabled: true,
		Condition: model.RepeatedEventCondition{Attempts: 5, Window: 60 * time.Second},
		Action:    model.BlockAction{Duration: 30 * time.Minute},
	})
	ctx := context.Background()
	addr := "203.0.113.9"

	for i := 0; i < 4; i++ {
		assert.Empty(t, h.engine.Evaluate(ctx, event(t0.Add(time.Duration(i)*10*time.Second), model.SeverityError, addr, "Auth failed"), t0))
	}
	fired := h.engine.Evaluate(ctx, event(t0.Add(40*time.Second), model.SeverityError, addr, "Auth failed"), t0)
	require.Len(t, fired, 1)

	assert.True(t, h.bl.IsBlocked(addr, t0.Add(29*time.Minute)))
	assert.False(t, h.bl.IsBlocked(addr, t0.Add(31*time.Minute)))
	assert.Equal(t, 1, h.counters.blocked)
	assert.Equal(t, 1, h.counters.actions[model.ActionBlockAddress])

	require.Len(t, h.sink.audit, 1)
	assert.Equal(t, "ACTION_BLOCK_IP", h.sink.audit[0].Action)
	assert.True(t, strings.HasPrefix(h.sink.audit[0].Details, "Rule: 'brute force' (7), Log IP: 203.0.113.9, Action: block_ip, Log: Auth failed..."))
	assert.True(t, strings.HasSuffix(h.sink.audit[0].Details, ", Duration: 30 min."))

	// The tracker restarted: a sixth hit counts from one.
	assert.Empty(t, h.engine.Evaluate(ctx, event(t0.Add(45*time.Second), model.SeverityError, addr, "Auth failed"), t0))
	assert.Equal(t, 1, h.tracker.Hits(addr, 7))
}

func TestEngine_PriorityAndShortCircuit(t *testing.T) {
	sev := model.SeverityCondition{Min: model.SeverityWarn}

	t.Run("high impact stops evaluation", func(t *testing.T) {
		h := newHarness(
			model.Rule{ID: 2, Name: "log it", Priority: 2, Enabled: true, Condition: sev, Action: model.LogAction{}},
			model.Rule{ID: 1, Name: "block it", Priority: 1, Enabled: true, Condition: sev, Action: model.BlockAction{Duration: time.Minute}},
		)
		fired := h.engine.Evaluate(context.Background(), event(t0, model.SeverityError, "10.0.0.5", "x"), t0)
		assert.Equal(t, []string{"block it"}, names(fired))
		assert.Equal(t, 0, h.counters.actions[model.ActionLogOnly])
	})

	t.Run("script also stops evaluation", func(t *testing.T) {
		h := newHarness(
			model.Rule{ID: 1, Name: "script", Priority: 1, Enabled: true, Condition: sev, Action: model.ScriptAction{Path: "/opt/isolate.sh"}},
			model.Rule{ID: 2, Name: "log it", Priority: 2, Enabled: true, Condition: sev, Action: model.LogAction{}},
		)
		fired := h.engine.Evaluate(context.Background(), event(t0, model.SeverityError, "10.0.0.5", "x"), t0)
		assert.Equal(t, []string{"script"}, names(fired))
		require.Len(t, h.sink.audit, 1)
		assert.Equal(t, "ACTION_SCRIPT_EXEC", h.sink.audit[0].Action)
	})

	t.Run("low impact continues in order", func(t *testing.T) {
		h := newHarness(
			model.Rule{ID: 3, Name: "beta", Priority: 1, Enabled: true, Condition: sev, Action: model.LogAction{}},
			model.Rule{ID: 4, Name: "Alpha", Priority: 1, Enabled: true, Condition: sev, Action: model.AlertAction{Recipient: "soc@example.com"}},
			model.Rule{ID: 5, Name: "gamma", Priority: 3, Enabled: true, Condition: sev, Action: model.LogAction{}},
		)
		fired := h.engine.Evaluate(context.Background(), event(t0, model.SeverityError, "10.0.0.5", "x"), t0)
		assert.Equal(t, []string{"Alpha", "beta", "gamma"}, names(fired))
	})

	t.Run("disabled rules are not installed", func(t *testing.T) {
		h := newHarness(
			model.Rule{ID: 1, Name: "off", Priority: 1, Enabled: false, Condition: sev, Action: model.BlockAction{}},
			model.Rule{ID: 2, Name: "on", Priority: 2, Enabled: true, Condition: sev, Action: model.LogAction{}},
		)
		assert.Equal(t, []string{"on"}, names(h.engine.Rules()))
	})
}

func TestEngine_Conditions(t *testing.T) {
	tests := []struct {
		name      string
		condition model.Condition
		event     *model.LogEvent
		want      bool
	}{
		{"severity above minimum", model.SeverityCondition{Min: model.SeverityWarn}, event(t0, model.SeverityError, "1.1.1.1", "x"), true},
		{"severity equal to minimum", model.SeverityCondition{Min: model.SeverityError}, event(t0, model.SeverityError, "1.1.1.1", "x"), true},
		{"severity below minimum", model.SeverityCondition{Min: model.SeverityError}, event(t0, model.SeverityWarn, "1.1.1.1", "x"), false},
		{"address exact", model.SourceAddressCondition{Address: "10.0.0.5"}, event(t0, model.SeverityError, "10.0.0.5", "x"), true},
		{"address cidr never matches", model.SourceAddressCondition{Address: "10.0.0.0/8"}, event(t0, model.SeverityError, "10.0.0.5", "x"), false},
		{"address unknown", model.SourceAddressCondition{Address: "unknown"}, event(t0, model.SeverityError, model.UnknownAddress, "x"), false},
		{"contains case-insensitive", model.MessageContainsCondition{Substring: "sql injection"}, event(t0, model.SeverityError, "1.1.1.1", "SQL Injection Detected"), true},
		{"contains missing", model.MessageContainsCondition{Substring: "malware"}, event(t0, model.SeverityError, "1.1.1.1", "SQL Injection Detected"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(model.Rule{ID: 1, Name: "r", Priority: 1, Enabled: true, Condition: tt.condition, Action: model.LogAction{}})
			fired := h.engine.Evaluate(context.Background(), tt.event, t0)
			assert.Equal(t, tt.want, len(fired) == 1)
		})
	}
}

func TestEngine_FastPath(t *testing.T) {
	h := newHarness(model.Rule{
		ID: 1, Name: "any", Priority: 1, Enabled: true,
		Condition: model.MessageContainsCondition{Substring: "health"},
		Action:    model.LogAction{},
	})
	ctx := context.Background()

	quiet := event(t0, model.SeverityInfo, "1.1.1.1", "Health Check OK")
	quiet.Anomaly = false
	assert.Empty(t, h.engine.Evaluate(ctx, quiet, t0))

	flagged := event(t0, model.SeverityInfo, "1.1.1.1", "Health Check OK")
	flagged.Anomaly = true
	assert.Len(t, h.engine.Evaluate(ctx, flagged, t0), 1)
}

func TestEngine_SendAlertEmits(t *testing.T) {
	h := newHarness(model.Rule{
		ID: 9, Name: "notify", Priority: 1, Enabled: true,
		Condition: model.SeverityCondition{Min: model.SeverityError},
		Action:    model.AlertAction{Recipient: "soc@example.com"},
	})
	defer h.engine.Close()
	n := newRecordingNotifier()
	h.engine.RegisterNotifier(n)

	h.engine.Evaluate(context.Background(), event(t0, model.SeverityCritical, "10.0.0.5", "Root Login Failed"), t0)

	delivered := n.next(t)
	assert.Equal(t, "notify", delivered.Rule)
	assert.Equal(t, "soc@example.com", delivered.Recipient)
	assert.NotEmpty(t, delivered.ID)

	select {
	case a := <-h.engine.GetAlertChannel():
		assert.Equal(t, delivered.ID, a.ID)
	default:
		t.Fatal("expected alert on channel")
	}

	require.Len(t, h.sink.audit, 1)
	assert.Equal(t, "ACTION_EMAIL_SENT", h.sink.audit[0].Action)
}

func TestEngine_PersistenceFailureDoesNotAbort(t *testing.T) {
	h := newHarness(
		model.Rule{ID: 1, Name: "a", Priority: 1, Enabled: true, Condition: model.SeverityCondition{Min: model.SeverityWarn}, Action: model.LogAction{}},
		model.Rule{ID: 2, Name: "b", Priority: 2, Enabled: true, Condition: model.SeverityCondition{Min: model.SeverityWarn}, Action: model.BlockAction{Duration: time.Minute}},
	)
	h.sink.failed = true

	fired := h.engine.Evaluate(context.Background(), event(t0, model.SeverityError, "10.0.0.5", "x"), t0)
	assert.Len(t, fired, 2)
	assert.True(t, h.bl.IsBlocked("10.0.0.5", t0))
}

func TestEngine_SubMinuteBlockIsSkipped(t *testing.T) {
	h := newHarness(model.Rule{
		ID: 1, Name: "short block", Priority: 1, Enabled: true,
		Condition: model.SeverityCondition{Min: model.SeverityWarn},
		Action:    model.BlockAction{Duration: 30 * time.Second},
	})

	fired := h.engine.Evaluate(context.Background(), event(t0, model.SeverityError, "10.0.0.5", "x"), t0)
	assert.Len(t, fired, 1)
	assert.False(t, h.bl.IsBlocked("10.0.0.5", t0))
	assert.Equal(t, 0, h.counters.blocked)
	assert.Empty(t, h.sink.audit)
}

type failingStore struct{}

func (failingStore) ListEnabledRules() ([]model.Rule, error) {
	return nil, errors.New("store offline")
}

func TestEngine_ReloadIsAtomic(t *testing.T) {
	h := newHarness(model.Rule{ID: 1, Name: "keep", Priority: 1, Enabled: true, Condition: model.SeverityCondition{}, Action: model.LogAction{}})

	h.engine.store = failingStore{}
	require.Error(t, h.engine.Reload())
	assert.Equal(t, []string{"keep"}, names(h.engine.Rules()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			rs := h.engine.Rules()
			assert.True(t, len(rs) == 1 || len(rs) == 2)
		}
	}()
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			h.engine.LoadRules([]model.Rule{
				{ID: 1, Name: "a", Enabled: true, Condition: model.SeverityCondition{}, Action: model.LogAction{}},
				{ID: 2, Name: "b", Enabled: true, Condition: model.SeverityCondition{}, Action: model.LogAction{}},
			})
		} else {
			h.engine.LoadRules([]model.Rule{{ID: 1, Name: "a", Enabled: true, Condition: model.SeverityCondition{}, Action: model.LogAction{}}})
		}
	}
	<-done
}

func TestEngine_CleanupTrackers(t *testing.T) {
	burst := model.Rule{
		ID: 1, Name: "burst", Priority: 1, Enabled: true,
		Condition: model.RepeatedEventCondition{Attempts: 10, Window: 30 * time.Second},
		Action:    model.LogAction{},
	}
	other := burst
	other.ID = 2
	other.Name = "other"

	h := newHarness(burst, other)
	ctx := context.Background()
	h.engine.Evaluate(ctx, event(t0, model.SeverityError, "1.1.1.1", "x"), t0)
	h.engine.Evaluate(ctx, event(t0.Add(50*time.Second), model.SeverityError, "2.2.2.2", "x"), t0)
	assert.Equal(t, 4, h.tracker.Len())

	// Rule 2 removed; 1.1.1.1 idle past its window.
	h.engine.LoadRules([]model.Rule{burst})
	assert.Equal(t, 3, h.engine.CleanupTrackers(t0.Add(60*time.Second)))
	assert.Equal(t, 1, h.tracker.Hits("2.2.2.2", 1))

	// Gated: a second sweep right away does nothing.
	assert.Equal(t, 0, h.engine.CleanupTrackers(t0.Add(70*time.Second)))
}
