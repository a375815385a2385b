// Package monitor runs the single monitoring worker and exposes its control
// and query surface.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"log-guard/internal/blocklist"
	"log-guard/internal/client"
	"log-guard/internal/detection"
	"log-guard/internal/model"
	"log-guard/internal/parser"
	"log-guard/internal/pipeline"
	"log-guard/internal/rules"
	"log-guard/internal/source"
	"log-guard/internal/storage"

	"github.com/sirupsen/logrus"
)

// Mode selects the line source of a worker.
type Mode string

const (
	ModeFile Mode = "file"
	ModeSim  Mode = "sim"
	// ModeLinkStream is accepted for compatibility and runs the generator.
	ModeLinkStream Mode = "link_stream"
)

// ParseMode maps a mode name to a Mode.
func ParseMode(name string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(name))) {
	case ModeFile:
		return ModeFile, nil
	case ModeSim, "simulate", "simulation":
		return ModeSim, nil
	case ModeLinkStream:
		return ModeLinkStream, nil
	}
	return "", fmt.Errorf("unknown monitor mode %q", name)
}

// RunState is the lifecycle state of the controller.
type RunState int32

const (
	StateIdle RunState = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("RunState(%d)", int32(s))
}

func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StatusLineStopped is the last line every worker writes to its sink.
const StatusLineStopped = "Monitoring stopped."

// Config tunes the worker loop.
type Config struct {
	PollInterval           time.Duration
	ErrorPause             time.Duration
	StopTimeout            time.Duration
	MaxConsecutiveFailures int
	Synthetic              source.SyntheticConfig
}

// DefaultConfig returns the documented loop defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:           source.DefaultPollInterval,
		ErrorPause:             2 * time.Second,
		StopTimeout:            time.Second,
		MaxConsecutiveFailures: 3,
		Synthetic: source.SyntheticConfig{
			AnomalyProbability: source.DefaultAnomalyProbability,
			MinDelay:           source.DefaultMinDelay,
			MaxDelay:           source.DefaultMaxDelay,
		},
	}
}

// Deps groups the components the controller drives.
type Deps struct {
	State      *State
	Scorer     *detection.Scorer
	Blocklist  *blocklist.Manager
	Engine     *rules.Engine
	Dispatcher *rules.Dispatcher
	Store      storage.Sink
	Parser     *parser.Parser
	Metrics    *client.PrometheusMetrics
}

// SourceFactory builds the line source for a worker.
type SourceFactory func(mode Mode, target string, cfg Config) (source.Source, error)

// DefaultSourceFactory builds a FileTail for file mode and the generator
// otherwise.
func DefaultSourceFactory(mode Mode, target string, cfg Config) (source.Source, error) {
	switch mode {
	case ModeFile:
		if target == "" {
			return nil, fmt.Errorf("file mode requires a target path")
		}
		return source.NewFileTail(target, cfg.PollInterval), nil
	case ModeSim, ModeLinkStream:
		return source.NewSynthetic(cfg.Synthetic), nil
	}
	return nil, fmt.Errorf("unknown monitor mode %q", mode)
}

// EngineStatus summarises the controller for status queries.
type EngineStatus struct {
	State          RunState           `json:"state"`
	Mode           Mode               `json:"mode,omitempty"`
	Target         string             `json:"target,omitempty"`
	Generation     uint64             `json:"generation"`
	ModelStatus    string             `json:"model_status"`
	ModelLine      string             `json:"model_line"`
	ActiveRules    int                `json:"active_rules"`
	BlockedEntries int                `json:"blocked_entries"`
	Stats          model.RunningStats `json:"stats"`
}

// Controller owns the single monitoring worker. Only one worker runs at a
// time; Start stops the previous one first.
type Controller struct {
	cfg        Config
	state      *State
	scorer     *detection.Scorer
	blocklist  *blocklist.Manager
	engine     *rules.Engine
	dispatcher *rules.Dispatcher
	processor  *pipeline.Processor
	metrics    *client.PrometheusMetrics
	newSource  SourceFactory
	now        func() time.Time
	logger     *logrus.Logger

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu         sync.Mutex
	runState   RunState
	cancel     context.CancelFunc
	done       chan struct{}
	generation uint64
	mode       Mode
	target     string
}

func NewController(deps Deps, cfg Config, logger *logrus.Logger) *Controller {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ErrorPause <= 0 {
		cfg.ErrorPause = def.ErrorPause
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}

	c := &Controller{
		cfg:        cfg,
		state:      deps.State,
		scorer:     deps.Scorer,
		blocklist:  deps.Blocklist,
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		newSource:  DefaultSourceFactory,
		now:        time.Now,
		logger:     logger,
	}
	c.processor = pipeline.NewProcessor(pipeline.Deps{
		Parser:    deps.Parser,
		Scorer:    deps.Scorer,
		Blocklist: deps.Blocklist,
		Engine:    deps.Engine,
		Sink:      deps.Store,
		Recorder:  deps.State,
		Users:     deps.Dispatcher,
		Metrics:   deps.Metrics,
	}, logger)
	return c
}

// WithSourceFactory replaces how worker sources are built.
func (c *Controller) WithSourceFactory(f SourceFactory) *Controller {
	c.newSource = f
	return c
}

// WithClock replaces the wall clock used for sweeps, blocklist checks and trend points.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	c.processor.WithClock(now)
	c.state.WithClock(now)
	return c
}

// Start stops any active worker and spawns a new one reading target in mode.
// Lines and status lines go to sink.
func (c *Controller) Start(target string, mode Mode, sink Sink) error {
	if sink == nil {
		return fmt.Errorf("start monitor: nil sink")
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.runState = StateStarting
	src, err := c.newSource(mode, target, c.cfg)
	if err != nil {
		c.runState = StateIdle
		return fmt.Errorf("start monitor: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.generation++
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mode = mode
	c.target = target
	c.runState = StateRunning

	go c.run(ctx, c.generation, mode, src, sink, c.done)

	c.logger.WithFields(logrus.Fields{
		"mode":       mode,
		"target":     target,
		"generation": c.generation,
	}).Info("Monitoring worker started")
	return nil
}

// Stop signals the active worker and waits up to the stop timeout. It
// returns false when the worker had not exited by then.
func (c *Controller) Stop() bool {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.stop()
}

func (c *Controller) stop() bool {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return true
	}
	c.runState = StateStopping
	c.cancel()
	done := c.done
	gen := c.generation
	c.mu.Unlock()

	stopped := true
	select {
	case <-done:
	case <-time.After(c.cfg.StopTimeout):
		stopped = false
		c.logger.Warnf("Monitoring worker did not stop within %s", c.cfg.StopTimeout)
	}

	c.release(gen)
	c.logger.Info("Monitoring worker signaled to stop")
	return stopped
}

// release returns the controller to idle if gen is still the current worker.
func (c *Controller) release(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.done = nil
	c.runState = StateIdle
}

func (c *Controller) run(ctx context.Context, gen uint64, mode Mode, src source.Source, sink Sink, done chan struct{}) {
	defer close(done)
	defer c.release(gen)
	defer src.Close()

	label := string(mode)
	failures := 0

loop:
	for ctx.Err() == nil {
		err := c.iterate(ctx, label, src, sink)
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, ErrSinkGone):
			c.logger.Errorf("Line consumer failed, stopping monitor: %v", err)
			break loop
		case errors.Is(err, source.ErrSourceGone):
			c.logger.Errorf("Line source failed, stopping monitor: %v", err)
			break loop
		default:
			failures++
			c.metrics.RecordIterationError(label)
			c.logger.Errorf("Monitor iteration failed (%d/%d): %v", failures, c.cfg.MaxConsecutiveFailures, err)
			c.notify(sink, fmt.Sprintf("[ERROR] Monitor loop error: %v", err))
			if failures >= c.cfg.MaxConsecutiveFailures {
				c.notify(sink, fmt.Sprintf("[ERROR] %d consecutive failures, monitor halted.", failures))
				break loop
			}
			if !sleep(ctx, c.cfg.ErrorPause) {
				break loop
			}
			continue
		}

		if !sleep(ctx, src.Delay()) {
			break
		}
	}

	c.notify(sink, StatusLineStopped)
}

// iterate runs the sweeps and one source poll. Panics become errors.
func (c *Controller) iterate(ctx context.Context, mode string, src source.Source, sink Sink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered panic: %v", r)
		}
	}()

	now := c.now()
	if n := c.blocklist.CleanupExpired(now); n > 0 {
		c.logger.Infof("Removed %d expired blocklist entries", n)
	}
	c.metrics.SetBlocklistEntries(c.blocklist.Len())
	if n := c.engine.CleanupTrackers(now); n > 0 {
		c.logger.Debugf("Removed %d idle rule trackers", n)
	}

	items, srcErr := src.Next(ctx)
	for _, it := range items {
		if it.Notice {
			if err := sink.ProcessLine(it.Line); err != nil {
				return fmt.Errorf("%w: %v", ErrSinkGone, err)
			}
			continue
		}
		if ctx.Err() != nil {
			break
		}

		res, perr := c.processor.Process(ctx, mode, it.Line)
		if perr != nil {
			if errors.Is(perr, parser.ErrMalformedTimestamp) {
				c.logger.Warnf("Dropped line: %v", perr)
				continue
			}
			return perr
		}
		if res.Output == "" {
			continue
		}
		if err := sink.ProcessLine(res.Output); err != nil {
			return fmt.Errorf("%w: %v", ErrSinkGone, err)
		}
	}
	return srcErr
}

func (c *Controller) notify(sink Sink, line string) {
	if err := sink.ProcessLine(line); err != nil {
		c.logger.Debugf("Status line not delivered: %v", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Controller) State() RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runState
}

// ReloadRules re-reads the rule store. On failure the current rules stay active.
func (c *Controller) ReloadRules() error {
	if err := c.engine.Reload(); err != nil {
		c.logger.Errorf("Rule reload failed, keeping %d active rules: %v", len(c.engine.Rules()), err)
		return err
	}
	c.logger.Infof("Loaded %d active response rules", len(c.engine.Rules()))
	return nil
}

// SetBlocklist adds addrs as permanent blocklist entries.
func (c *Controller) SetBlocklist(addrs []string) {
	c.blocklist.SetBulk(addrs)
	c.metrics.SetBlocklistEntries(c.blocklist.Len())
	c.logger.Infof("Updated blocklist with %d total entries", c.blocklist.Len())
}

// LoadModel binds the anomaly model at path.
func (c *Controller) LoadModel(path string) (bool, string) {
	ok, msg := c.scorer.LoadModel(path)
	c.metrics.SetModelActive(c.scorer.Status() == detection.StatusModelActive)
	return ok, msg
}

func (c *Controller) ClearModel() {
	c.scorer.ClearModel()
	c.metrics.SetModelActive(false)
}

func (c *Controller) EngineStatus() EngineStatus {
	c.mu.Lock()
	st := EngineStatus{
		State:      c.runState,
		Mode:       c.mode,
		Target:     c.target,
		Generation: c.generation,
	}
	c.mu.Unlock()

	st.ModelStatus = string(c.scorer.Status())
	st.ModelLine = c.scorer.StatusLine()
	st.ActiveRules = len(c.engine.Rules())
	st.BlockedEntries = c.blocklist.Len()
	st.Stats = c.state.Stats()
	return st
}

func (c *Controller) Stats() model.RunningStats { return c.state.Stats() }

// Logs returns up to n processed events, newest first.
func (c *Controller) Logs(n int) []model.LogEvent { return c.state.Logs(n) }

func (c *Controller) Alerts() []model.Alert { return c.state.Alerts() }

func (c *Controller) DrainAlerts() []model.Alert { return c.state.DrainAlerts() }

func (c *Controller) Trend() []model.TrendPoint { return c.state.Trend() }

func (c *Controller) Blocklist() []blocklist.Entry { return c.blocklist.Snapshot() }

func (c *Controller) Rules() []model.Rule { return c.engine.Rules() }

// SetUserID sets the operator id attached to audit records.
func (c *Controller) SetUserID(id int) { c.dispatcher.SetUserID(id) }
