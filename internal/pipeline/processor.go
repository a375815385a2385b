package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"log-guard/internal/blocklist"
	"log-guard/internal/client"
	"log-guard/internal/detection"
	"log-guard/internal/model"
	"log-guard/internal/parser"
	"log-guard/internal/rules"
	"log-guard/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AuditProactiveBlock is the audit action written when a line from a
// blocklisted address is dropped.
const AuditProactiveBlock = "PROACTIVE_IP_BLOCK"

// Recorder receives the shared-state updates produced by one line.
type Recorder interface {
	RecordEvent(event model.LogEvent)
	RecordAnomaly(alert model.Alert, now time.Time)
	RecordProactiveBlock()
	RecordTrend(now time.Time, force bool)
}

// UserSource supplies the operator id attached to audit records.
type UserSource interface {
	UserID() int
}

// Result is the outcome of one line.
type Result struct {
	// Output is the line to hand to the consumer, empty when there is none.
	Output  string
	Event   *model.LogEvent
	Blocked bool
	Matched []model.Rule
}

// Processor receives a raw line, parses and scores it, applies the blocklist,
// updates shared state, persists it and evaluates rules.
type Processor struct {
	parser    *parser.Parser
	scorer    *detection.Scorer
	blocklist *blocklist.Manager
	engine    *rules.Engine
	sink      storage.Sink
	recorder  Recorder
	users     UserSource
	metrics   *client.PrometheusMetrics
	now       func() time.Time
	logger    *logrus.Logger
}

// Deps groups the collaborators of a Processor.
type Deps struct {
	Parser    *parser.Parser
	Scorer    *detection.Scorer
	Blocklist *blocklist.Manager
	Engine    *rules.Engine
	Sink      storage.Sink
	Recorder  Recorder
	Users     UserSource
	Metrics   *client.PrometheusMetrics
}

// NewProcessor creates a new processor instance
func NewProcessor(deps Deps, logger *logrus.Logger) *Processor {
	p := deps.Parser
	if p == nil {
		p = parser.New()
	}
	return &Processor{
		parser:    p,
		scorer:    deps.Scorer,
		blocklist: deps.Blocklist,
		engine:    deps.Engine,
		sink:      deps.Sink,
		recorder:  deps.Recorder,
		users:     deps.Users,
		metrics:   deps.Metrics,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock replaces the wall clock used for blocklist checks and trend points.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Process runs one line through the pipeline. mode labels metrics only. The
// returned error wraps parser.ErrMalformedTimestamp when the line was dropped
// because of its timestamp.
func (p *Processor) Process(ctx context.Context, mode, line string) (Result, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Result{}, nil
	}

	start := time.Now()
	defer func() {
		p.metrics.RecordProcessingTime(mode, time.Since(start).Seconds())
	}()

	parsed, err := p.parser.Parse(line)
	if err != nil {
		p.metrics.RecordParseFailure("timestamp")
		return Result{}, fmt.Errorf("parse line: %w", err)
	}

	verdict := p.scorer.Score(line, parsed.Message)
	now := p.now()

	if p.blocklist.IsBlocked(verdict.Address, now) {
		return p.drop(ctx, verdict.Address), nil
	}

	event := &model.LogEvent{
		Timestamp:  parsed.Timestamp,
		Level:      verdict.Level,
		Address:    verdict.Address,
		Message:    line,
		Category:   verdict.Category,
		Anomaly:    verdict.Anomaly,
		Score:      verdict.Score,
		ModelScore: verdict.ModelScore,
		ModelFlag:  verdict.ModelFlag,
	}

	p.recorder.RecordEvent(*event)
	p.metrics.RecordLine(mode, event.Level.String())

	p.persist(ctx, event)

	if event.Anomaly {
		p.metrics.RecordAnomaly(event.Category)
		p.recorder.RecordAnomaly(newAnomalyAlert(event, parsed.Message), now)
	}

	matched := p.engine.Evaluate(ctx, event, now)

	p.recorder.RecordTrend(now, event.Anomaly)

	output := line
	if event.ModelFlag {
		output = fmt.Sprintf("%s [AI SCORE: %.2f]", line, event.ModelScore)
	}

	return Result{
		Output:  output,
		Event:   event,
		Matched: matched,
	}, nil
}

func (p *Processor) drop(ctx context.Context, addr string) Result {
	p.recorder.RecordProactiveBlock()
	p.metrics.RecordDropped("blocklist")

	rec := model.AuditRecord{
		ID:        uuid.New().String(),
		Timestamp: p.now(),
		Action:    AuditProactiveBlock,
		UserID:    p.userID(),
		Details:   fmt.Sprintf("Blocked traffic from active blocklist IP: %s", addr),
	}
	if err := p.sink.LogAction(ctx, rec); err != nil {
		p.metrics.RecordPersistenceError("audit_log")
		p.logger.Errorf("Failed to persist proactive block for %s: %v", addr, err)
	}

	return Result{
		Output:  fmt.Sprintf("[BLOCKED] %s: Traffic dropped due to active blocklist.", addr),
		Blocked: true,
	}
}

func (p *Processor) persist(ctx context.Context, event *model.LogEvent) {
	rec := model.TrafficRecord{
		Timestamp: event.Timestamp,
		Address:   event.Address,
		Level:     event.Level,
		RawLine:   event.Message,
		Category:  event.Category,
	}
	if err := p.sink.InsertTrafficLog(ctx, rec); err != nil {
		p.metrics.RecordPersistenceError("traffic_logs")
		p.logger.Errorf("Traffic insert failed: %v", err)
	}
}

func (p *Processor) userID() int {
	if p.users == nil {
		return 0
	}
	return p.users.UserID()
}

func newAnomalyAlert(event *model.LogEvent, message string) model.Alert {
	if r := []rune(message); len(r) > 100 {
		message = string(r[:100])
	}
	return model.Alert{
		ID:          uuid.New().String(),
		Timestamp:   event.Timestamp,
		Severity:    event.Level,
		Address:     event.Address,
		Category:    event.Category,
		Description: fmt.Sprintf("[%s] %s...", event.Category, message),
	}
}
