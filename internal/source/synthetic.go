package source

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"log-guard/internal/parser"
)

// Defaults for the synthetic generator.
const (
	DefaultAnomalyProbability = 0.15
	DefaultMinDelay           = 100 * time.Millisecond
	DefaultMaxDelay           = 500 * time.Millisecond
)

var (
	anomalyLevels   = []string{"Critical", "Error", "Warn"}
	anomalyMessages = []string{"SQL Injection Detected", "Root Login Failed", "Unauthorized access", "Denial of Service (DoS)"}
	benignLevels    = []string{"Info", "Debug"}
	benignMessages  = []string{"Health Check OK", "User 123 logged out", "Database connection successful", "Debug trace logged"}
)

// SyntheticConfig tunes the generator.
type SyntheticConfig struct {
	AnomalyProbability float64
	MinDelay           time.Duration
	MaxDelay           time.Duration
	Seed               int64
}

// Synthetic emits one generated line per call. Anomalous lines come from the
// 103.100-200.x.x range, benign ones from 192.168.1.1-50.
type Synthetic struct {
	cfg SyntheticConfig
	now func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.AnomalyProbability < 0 || cfg.AnomalyProbability > 1 {
		cfg.AnomalyProbability = DefaultAnomalyProbability
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = DefaultMinDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Synthetic{
		cfg: cfg,
		now: time.Now,
		rnd: rand.New(rand.NewSource(seed)),
	}
}

func (s *Synthetic) WithClock(now func() time.Time) *Synthetic {
	s.now = now
	return s
}

func (s *Synthetic) Next(context.Context) ([]Item, error) {
	return []Item{line(s.Generate())}, nil
}

// Generate builds one line in the bracketed template, suffixed with (SIM).
func (s *Synthetic) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().Format(parser.TimestampLayout)
	if s.rnd.Float64() < s.cfg.AnomalyProbability {
		level := anomalyLevels[s.rnd.Intn(len(anomalyLevels))]
		msg := anomalyMessages[s.rnd.Intn(len(anomalyMessages))]
		ip := fmt.Sprintf("103.%d.%d.%d", 100+s.rnd.Intn(101), 1+s.rnd.Intn(255), 1+s.rnd.Intn(255))
		return fmt.Sprintf("[%s] [%s] %s - %s (SIM)", ts, level, ip, msg)
	}

	level := benignLevels[s.rnd.Intn(len(benignLevels))]
	msg := benignMessages[s.rnd.Intn(len(benignMessages))]
	ip := fmt.Sprintf("192.168.1.%d", 1+s.rnd.Intn(50))
	return fmt.Sprintf("[%s] [%s] %s - %s (SIM)", ts, level, ip, msg)
}

// Delay returns a uniform jitter in [MinDelay, MaxDelay].
func (s *Synthetic) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	span := s.cfg.MaxDelay - s.cfg.MinDelay
	if span <= 0 {
		return s.cfg.MinDelay
	}
	return s.cfg.MinDelay + time.Duration(s.rnd.Int63n(int64(span)+1))
}

func (s *Synthetic) Close() error { return nil }
