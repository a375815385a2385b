// Package app assembles the monitoring engine from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"log-guard/internal/alert"
	"log-guard/internal/blocklist"
	"log-guard/internal/client"
	"log-guard/internal/detection"
	"log-guard/internal/model"
	"log-guard/internal/monitor"
	"log-guard/internal/rules"
	"log-guard/internal/source"
	"log-guard/internal/storage"
	"log-guard/internal/utils"

	"github.com/sirupsen/logrus"
)

// App holds every wired component.
type App struct {
	Config     *utils.Config
	Logger     *logrus.Logger
	Metrics    *client.PrometheusMetrics
	Store      storage.Sink
	Memory     *storage.MemoryStore
	RuleStore  *rules.FileStore
	Blocklist  *blocklist.Manager
	Scorer     *detection.Scorer
	Engine     *rules.Engine
	Dispatcher *rules.Dispatcher
	State      *monitor.State
	Controller *monitor.Controller
	Feed       *client.RedisBlocklistFeed
}

// New builds the engine. Optional integrations that fail to connect are
// logged and skipped; a storage backend that cannot be opened is an error.
func New(cfg *utils.Config, logger *logrus.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: client.NewPrometheusMetrics(),
	}

	if err := a.openStore(); err != nil {
		return nil, err
	}

	a.State = monitor.NewState(cfg.Buffers.LogHistory, cfg.Buffers.Alerts, cfg.Buffers.Trend, a.Metrics)
	a.Blocklist = blocklist.NewManager(time.Duration(cfg.Blocklist.CleanupInterval), logger)
	a.Scorer = detection.NewScorer(logger)
	a.RuleStore = rules.NewFileStore(cfg.Rules.File, logger)
	a.Dispatcher = rules.NewDispatcher(a.Blocklist, a.Store, a.State, logger)
	a.Engine = rules.NewEngine(a.RuleStore, a.Dispatcher, rules.NewHitTracker(time.Duration(cfg.Rules.TrackerCleanupInterval)), logger)

	registerAlertNotifiers(a.Engine, cfg, a.Metrics, logger)

	a.Controller = monitor.NewController(monitor.Deps{
		State:      a.State,
		Scorer:     a.Scorer,
		Blocklist:  a.Blocklist,
		Engine:     a.Engine,
		Dispatcher: a.Dispatcher,
		Store:      a.Store,
		Metrics:    a.Metrics,
	}, monitorConfig(cfg), logger)

	a.Controller.SetUserID(cfg.Application.UserID)

	if err := a.Controller.ReloadRules(); err != nil {
		logger.Warnf("Starting without response rules: %v", err)
	}
	if len(cfg.Blocklist.Addresses) > 0 {
		a.Controller.SetBlocklist(cfg.Blocklist.Addresses)
	}
	if cfg.Detection.ModelPath != "" {
		ok, msg := a.Controller.LoadModel(cfg.Detection.ModelPath)
		if ok {
			logger.Info(msg)
		} else {
			logger.Warn(msg)
		}
	}

	if cfg.Intel.Redis.Enabled {
		r := cfg.Intel.Redis
		feed, err := client.NewRedisBlocklistFeed(client.RedisFeedConfig{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Key:      r.Key,
			Interval: time.Duration(r.RefreshInterval),
		}, a.Metrics, logger)
		if err != nil {
			a.Metrics.RecordIntelError("redis")
			logger.Warnf("Threat-intel feed disabled: %v", err)
		} else {
			a.Feed = feed
		}
	}

	return a, nil
}

func (a *App) openStore() error {
	cfg := a.Config
	switch strings.ToLower(cfg.Storage.Backend) {
	case "clickhouse":
		sink, err := storage.NewClickHouseSink(cfg.ClickHouseConfig(), a.Logger)
		if err != nil {
			return fmt.Errorf("open clickhouse storage: %w", err)
		}
		a.Store = sink
	default:
		a.Memory = storage.NewMemoryStore(cfg.Storage.MaxTraffic, cfg.Storage.MaxAudit, a.Logger)
		a.Store = a.Memory
	}
	return nil
}

func monitorConfig(cfg *utils.Config) monitor.Config {
	m := cfg.Monitor
	return monitor.Config{
		PollInterval:           time.Duration(m.PollInterval),
		ErrorPause:             time.Duration(m.ErrorPause),
		StopTimeout:            time.Duration(m.StopTimeout),
		MaxConsecutiveFailures: m.MaxConsecutiveFailures,
		Synthetic: source.SyntheticConfig{
			AnomalyProbability: m.AnomalyProbability,
			MinDelay:           time.Duration(m.MinDelay),
			MaxDelay:           time.Duration(m.MaxDelay),
		},
	}
}

func registerAlertNotifiers(engine *rules.Engine, cfg *utils.Config, metrics *client.PrometheusMetrics, logger *logrus.Logger) {
	engine.RegisterNotifier(alert.NewMetricsNotifier(metrics))

	if !cfg.Alerting.Enabled {
		return
	}

	if cfg.Alerting.Channels.Log {
		engine.RegisterNotifier(alert.NewLogAlertNotifier(logger))
	}

	if cfg.Alerting.Channels.Telegram && cfg.Alerting.Telegram.Enabled {
		tg := cfg.Alerting.Telegram
		engine.RegisterNotifier(alert.NewTelegramNotifierWithTemplate(
			tg.BotToken,
			tg.ChatID,
			tg.ParseMode,
			tg.Enabled,
			tg.MessageTemplate,
			logger,
		))
	}
}

// StartBackground runs the metrics exporter and the threat-intel feed until
// ctx is cancelled.
func (a *App) StartBackground(ctx context.Context) error {
	exporter, err := alert.NewPrometheusExporter(a.Config.GetPrometheusPort(), a.Metrics, a.Logger)
	if err != nil {
		return err
	}
	go func() {
		if err := exporter.Start(ctx); err != nil {
			a.Logger.Errorf("Prometheus exporter error: %v", err)
		}
	}()

	if a.Feed != nil {
		go a.Feed.Start(ctx, a.Controller.SetBlocklist)
	}
	return nil
}

// ForwardAlerts hands every rule alert to fn until ctx is cancelled.
func (a *App) ForwardAlerts(ctx context.Context, fn func(model.Alert)) {
	alerts := a.Engine.GetAlertChannel()
	for {
		select {
		case al := <-alerts:
			fn(al)
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the worker and releases connections.
func (a *App) Close() {
	a.Controller.Stop()
	a.Engine.Close()
	if a.Feed != nil {
		if err := a.Feed.Close(); err != nil {
			a.Logger.Warnf("Failed to close threat-intel feed: %v", err)
		}
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Warnf("Failed to close storage: %v", err)
	}
}
