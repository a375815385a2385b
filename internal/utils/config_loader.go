package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"log-guard/internal/storage"

	"github.com/creasty/defaults"
	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "configs/log_guard.yaml"

type Config struct {
	Application ApplicationYAMLConfig `yaml:"application"`
	Monitor     MonitorYAMLConfig     `yaml:"monitor"`
	Detection   DetectionYAMLConfig   `yaml:"detection"`
	Rules       RulesYAMLConfig       `yaml:"rules"`
	Blocklist   BlocklistYAMLConfig   `yaml:"blocklist"`
	Buffers     BuffersYAMLConfig     `yaml:"buffers"`
	Storage     StorageYAMLConfig     `yaml:"storage"`
	Intel       IntelYAMLConfig       `yaml:"intel"`
	Alerting    AlertingYAMLConfig    `yaml:"alerting"`
	Logging     LoggingYAMLConfig     `yaml:"logging"`
	API         APIYAMLConfig         `yaml:"api"`
}

type ApplicationYAMLConfig struct {
	Name                string `yaml:"name" default:"log-guard"`
	PrometheusExportURL string `yaml:"prometheus_export_url" default:"8080"`
	UserID              int    `yaml:"user_id"`
}

type MonitorYAMLConfig struct {
	Mode                   string         `yaml:"mode" default:"file"`
	Target                 string         `yaml:"target"`
	PollInterval           model.Duration `yaml:"poll_interval"`
	ErrorPause             model.Duration `yaml:"error_pause"`
	StopTimeout            model.Duration `yaml:"stop_timeout"`
	MaxConsecutiveFailures int            `yaml:"max_consecutive_failures" default:"3"`
	AnomalyProbability     float64        `yaml:"anomaly_probability" default:"0.15"`
	MinDelay               model.Duration `yaml:"min_delay"`
	MaxDelay               model.Duration `yaml:"max_delay"`
}

type DetectionYAMLConfig struct {
	ModelPath string `yaml:"model_path"`
}

type RulesYAMLConfig struct {
	File                   string         `yaml:"file" default:"configs/rules.yaml"`
	TrackerCleanupInterval model.Duration `yaml:"tracker_cleanup_interval"`
}

type BlocklistYAMLConfig struct {
	CleanupInterval model.Duration `yaml:"cleanup_interval"`
	Addresses       []string       `yaml:"addresses"`
}

type BuffersYAMLConfig struct {
	LogHistory int `yaml:"log_history" default:"1000"`
	Alerts     int `yaml:"alerts" default:"1000"`
	Trend      int `yaml:"trend" default:"1000"`
}

type StorageYAMLConfig struct {
	Backend    string               `yaml:"backend" default:"memory"`
	MaxTraffic int                  `yaml:"max_traffic" default:"50000"`
	MaxAudit   int                  `yaml:"max_audit" default:"10000"`
	ClickHouse ClickHouseYAMLConfig `yaml:"clickhouse"`
}

type ClickHouseYAMLConfig struct {
	Hosts        []string       `yaml:"hosts"`
	Database     string         `yaml:"database" default:"log_guard"`
	Username     string         `yaml:"username" default:"default"`
	Password     string         `yaml:"password"`
	TLSEnabled   bool           `yaml:"tls_enabled"`
	CreateTables bool           `yaml:"create_tables"`
	DialTimeout  model.Duration `yaml:"dial_timeout"`
	WriteTimeout model.Duration `yaml:"write_timeout"`
}

type IntelYAMLConfig struct {
	Redis RedisYAMLConfig `yaml:"redis"`
}

type RedisYAMLConfig struct {
	Enabled         bool           `yaml:"enabled"`
	Addr            string         `yaml:"addr" default:"localhost:6379"`
	Password        string         `yaml:"password"`
	DB              int            `yaml:"db"`
	Key             string         `yaml:"key" default:"log_guard:blocklist"`
	RefreshInterval model.Duration `yaml:"refresh_interval"`
}

type AlertingYAMLConfig struct {
	Enabled  bool               `yaml:"enabled"`
	Channels AlertChannelsYAML  `yaml:"channels"`
	Telegram TelegramYAMLConfig `yaml:"telegram"`
}

type AlertChannelsYAML struct {
	Log      bool `yaml:"log"`
	Telegram bool `yaml:"telegram"`
}

type TelegramYAMLConfig struct {
	BotToken        string `yaml:"bot_token"`
	ChatID          string `yaml:"chat_id"`
	ParseMode       string `yaml:"parse_mode" default:"Markdown"`
	Enabled         bool   `yaml:"enabled"`
	MessageTemplate string `yaml:"message_template,omitempty"`
}

type LoggingYAMLConfig struct {
	Level    string `yaml:"level" default:"INFO"`
	Format   string `yaml:"format" default:"json"`
	FilePath string `yaml:"file_path"`
}

type APIYAMLConfig struct {
	Port string `yaml:"port" default:"5001"`
}

// LoadConfig reads a YAML config on top of GetDefaultConfig and validates it.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		filename = DefaultConfigPath
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file %s: %v", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}

	return config, nil
}

// Validate fills zero values with defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("failed to apply defaults: %v", err)
	}

	setDuration(&c.Monitor.PollInterval, 500*time.Millisecond)
	setDuration(&c.Monitor.ErrorPause, 2*time.Second)
	setDuration(&c.Monitor.StopTimeout, time.Second)
	setDuration(&c.Monitor.MinDelay, 100*time.Millisecond)
	setDuration(&c.Monitor.MaxDelay, 500*time.Millisecond)
	setDuration(&c.Rules.TrackerCleanupInterval, 30*time.Second)
	setDuration(&c.Blocklist.CleanupInterval, 300*time.Second)
	setDuration(&c.Storage.ClickHouse.DialTimeout, 10*time.Second)
	setDuration(&c.Storage.ClickHouse.WriteTimeout, 5*time.Second)
	setDuration(&c.Intel.Redis.RefreshInterval, 5*time.Minute)

	switch strings.ToLower(c.Monitor.Mode) {
	case "file", "sim", "link_stream":
	default:
		return fmt.Errorf("unknown monitor mode %q", c.Monitor.Mode)
	}
	if c.Monitor.AnomalyProbability < 0 || c.Monitor.AnomalyProbability > 1 {
		return fmt.Errorf("anomaly_probability must be within [0, 1], got %v", c.Monitor.AnomalyProbability)
	}
	if c.Monitor.MinDelay > c.Monitor.MaxDelay {
		return fmt.Errorf("min_delay %s exceeds max_delay %s", c.Monitor.MinDelay, c.Monitor.MaxDelay)
	}
	if c.Monitor.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("max_consecutive_failures must be positive")
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "memory":
	case "clickhouse":
		if len(c.Storage.ClickHouse.Hosts) == 0 {
			c.Storage.ClickHouse.Hosts = []string{"localhost:9000"}
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Alerting.Channels.Telegram && c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" || c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("telegram alerting requires bot_token and chat_id")
		}
	}

	return nil
}

func setDuration(d *model.Duration, def time.Duration) {
	if *d <= 0 {
		*d = model.Duration(def)
	}
}

// GetPrometheusPort extracts port from PrometheusExportURL
func (c *Config) GetPrometheusPort() string {
	exportPort := c.Application.PrometheusExportURL
	if strings.Contains(exportPort, ":") {
		parts := strings.Split(exportPort, ":")
		if len(parts) > 0 {
			exportPort = parts[len(parts)-1]
		}
	}
	return exportPort
}

// ClickHouseConfig converts the storage section for storage.NewClickHouseSink.
func (c *Config) ClickHouseConfig() storage.ClickHouseConfig {
	ch := c.Storage.ClickHouse
	return storage.ClickHouseConfig{
		Hosts:        ch.Hosts,
		Database:     ch.Database,
		Username:     ch.Username,
		Password:     ch.Password,
		TLSEnabled:   ch.TLSEnabled,
		DialTimeout:  time.Duration(ch.DialTimeout),
		WriteTimeout: time.Duration(ch.WriteTimeout),
		CreateTables: ch.CreateTables,
	}
}

// GetDefaultConfig returns a default Config
func GetDefaultConfig() *Config {
	return &Config{
		Application: ApplicationYAMLConfig{
			Name:                "log-guard",
			PrometheusExportURL: "8080",
		},
		Monitor: MonitorYAMLConfig{
			Mode:                   "file",
			PollInterval:           model.Duration(500 * time.Millisecond),
			ErrorPause:             model.Duration(2 * time.Second),
			StopTimeout:            model.Duration(time.Second),
			MaxConsecutiveFailures: 3,
			AnomalyProbability:     0.15,
			MinDelay:               model.Duration(100 * time.Millisecond),
			MaxDelay:               model.Duration(500 * time.Millisecond),
		},
		Rules: RulesYAMLConfig{
			File:                   "configs/rules.yaml",
			TrackerCleanupInterval: model.Duration(30 * time.Second),
		},
		Blocklist: BlocklistYAMLConfig{
			CleanupInterval: model.Duration(300 * time.Second),
		},
		Buffers: BuffersYAMLConfig{
			LogHistory: 1000,
			Alerts:     1000,
			Trend:      1000,
		},
		Storage: StorageYAMLConfig{
			Backend:    "memory",
			MaxTraffic: 50000,
			MaxAudit:   10000,
			ClickHouse: ClickHouseYAMLConfig{
				Hosts:        []string{"localhost:9000"},
				Database:     "log_guard",
				Username:     "default",
				CreateTables: true,
				DialTimeout:  model.Duration(10 * time.Second),
				WriteTimeout: model.Duration(5 * time.Second),
			},
		},
		Intel: IntelYAMLConfig{
			Redis: RedisYAMLConfig{
				Addr:            "localhost:6379",
				Key:             "log_guard:blocklist",
				RefreshInterval: model.Duration(5 * time.Minute),
			},
		},
		Alerting: AlertingYAMLConfig{
			Enabled: true,
			Channels: AlertChannelsYAML{
				Log: true,
			},
			Telegram: TelegramYAMLConfig{
				ParseMode: "Markdown",
			},
		},
		Logging: LoggingYAMLConfig{
			Level:  "INFO",
			Format: "json",
		},
		API: APIYAMLConfig{
			Port: "5001",
		},
	}
}
