package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"log-guard/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ClickHouseConfig holds the connection settings for ClickHouseSink.
type ClickHouseConfig struct {
	Hosts        []string      `yaml:"hosts"`
	Database     string        `yaml:"database"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
	DialTimeout  time.Duration `yaml:"-"`
	WriteTimeout time.Duration `yaml:"-"`
	CreateTables bool          `yaml:"create_tables"`
}

func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		Hosts:        []string{"localhost:9000"},
		Database:     "log_guard",
		Username:     "default",
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		CreateTables: true,
	}
}

const (
	trafficTable = "traffic_logs"
	auditTable   = "audit_log"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS traffic_logs (
		timestamp DateTime64(3),
		ip_address String,
		level LowCardinality(String),
		raw_line String,
		category LowCardinality(String)
	) ENGINE = MergeTree ORDER BY (timestamp)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id String,
		timestamp DateTime64(3),
		action LowCardinality(String),
		user_id Int32,
		details String
	) ENGINE = MergeTree ORDER BY (timestamp)`,
}

// ClickHouseSink writes traffic and audit records to ClickHouse.
type ClickHouseSink struct {
	conn   driver.Conn
	config ClickHouseConfig
	logger *logrus.Logger
}

func NewClickHouseSink(cfg ClickHouseConfig, logger *logrus.Logger) (*ClickHouseSink, error) {
	opts := &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.TLSEnabled {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, NewError("Open", "", fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, NewError("Ping", "", fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}

	if cfg.CreateTables {
		for _, stmt := range schema {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, NewError("CreateTable", "", err)
			}
		}
	}

	logger.Infof("Connected to ClickHouse at %v (database %s)", cfg.Hosts, cfg.Database)
	return &ClickHouseSink{conn: conn, config: cfg, logger: logger}, nil
}

func (s *ClickHouseSink) InsertTrafficLog(ctx context.Context, rec model.TrafficRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
	defer cancel()

	err := s.conn.Exec(ctx,
		"INSERT INTO traffic_logs (timestamp, ip_address, level, raw_line, category) VALUES (?, ?, ?, ?, ?)",
		rec.Timestamp, rec.Address, rec.Level.String(), rec.RawLine, rec.Category,
	)
	if err != nil {
		return NewError("InsertTrafficLog", trafficTable, err)
	}
	return nil
}

func (s *ClickHouseSink) LogAction(ctx context.Context, rec model.AuditRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
	defer cancel()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	err := s.conn.Exec(ctx,
		"INSERT INTO audit_log (id, timestamp, action, user_id, details) VALUES (?, ?, ?, ?, ?)",
		rec.ID, rec.Timestamp, rec.Action, int32(rec.UserID), rec.Details,
	)
	if err != nil {
		return NewError("LogAction", auditTable, err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
