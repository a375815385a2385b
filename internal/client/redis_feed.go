package client

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// SetReader reads the members of a set.
type SetReader interface {
	SMembers(ctx context.Context, key string) ([]string, error)
}

type goRedisReader struct {
	client *redis.Client
}

func (r goRedisReader) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

// RedisFeedConfig configures a RedisBlocklistFeed.
type RedisFeedConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	Interval time.Duration
}

// RedisBlocklistFeed periodically reads a set of addresses from Redis and
// hands it to a blocklist setter.
type RedisBlocklistFeed struct {
	reader   SetReader
	closer   func() error
	key      string
	interval time.Duration
	metrics  *PrometheusMetrics
	logger   *logrus.Logger
}

func NewRedisBlocklistFeed(cfg RedisFeedConfig, metrics *PrometheusMetrics, logger *logrus.Logger) (*RedisBlocklistFeed, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	feed := NewBlocklistFeed(goRedisReader{client: rdb}, cfg.Key, cfg.Interval, metrics, logger)
	feed.closer = rdb.Close
	return feed, nil
}

// NewBlocklistFeed builds a feed over any SetReader.
func NewBlocklistFeed(reader SetReader, key string, interval time.Duration, metrics *PrometheusMetrics, logger *logrus.Logger) *RedisBlocklistFeed {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &RedisBlocklistFeed{
		reader:   reader,
		key:      key,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
	}
}

// Refresh reads the set once and passes it to apply.
func (f *RedisBlocklistFeed) Refresh(ctx context.Context, apply func([]string)) error {
	addrs, err := f.reader.SMembers(ctx, f.key)
	if err != nil {
		f.metrics.RecordIntelError("redis")
		return fmt.Errorf("read blocklist set %s: %w", f.key, err)
	}
	apply(addrs)
	f.logger.Debugf("Threat-intel feed delivered %d addresses from %s", len(addrs), f.key)
	return nil
}

// Start refreshes immediately and then every interval until ctx is done.
func (f *RedisBlocklistFeed) Start(ctx context.Context, apply func([]string)) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	if err := f.Refresh(ctx, apply); err != nil {
		f.logger.Warnf("Threat-intel refresh failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Refresh(ctx, apply); err != nil {
				f.logger.Warnf("Threat-intel refresh failed: %v", err)
			}
		}
	}
}

func (f *RedisBlocklistFeed) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer()
}
