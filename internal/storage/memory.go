package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"log-guard/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxTraffic = 50000
	defaultMaxAudit   = 10000
)

// MemoryStore keeps the most recent traffic and audit records in memory.
type MemoryStore struct {
	mu         sync.RWMutex
	traffic    []model.TrafficRecord
	audit      []model.AuditRecord
	maxTraffic int
	maxAudit   int
	closed     bool
	logger     *logrus.Logger
}

func NewMemoryStore(maxTraffic, maxAudit int, logger *logrus.Logger) *MemoryStore {
	if maxTraffic <= 0 {
		maxTraffic = defaultMaxTraffic
	}
	if maxAudit <= 0 {
		maxAudit = defaultMaxAudit
	}
	return &MemoryStore{
		traffic:    make([]model.TrafficRecord, 0),
		audit:      make([]model.AuditRecord, 0),
		maxTraffic: maxTraffic,
		maxAudit:   maxAudit,
		logger:     logger,
	}
}

func (s *MemoryStore) InsertTrafficLog(_ context.Context, rec model.TrafficRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return NewError("InsertTrafficLog", "traffic_logs", ErrClosed)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	s.traffic = append(s.traffic, rec)
	if len(s.traffic) > s.maxTraffic {
		s.traffic = s.traffic[len(s.traffic)-s.maxTraffic:]
	}
	return nil
}

func (s *MemoryStore) LogAction(_ context.Context, rec model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return NewError("LogAction", "audit_log", ErrClosed)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	s.audit = append(s.audit, rec)
	if len(s.audit) > s.maxAudit {
		s.audit = s.audit[len(s.audit)-s.maxAudit:]
	}
	return nil
}

// GetTraffic returns up to limit records, latest first. Empty filters match everything.
func (s *MemoryStore) GetTraffic(limit int, address, category, search string) []model.TrafficRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.TrafficRecord, 0)
	for i := len(s.traffic) - 1; i >= 0 && len(result) < limit; i-- {
		rec := s.traffic[i]
		if address != "" && rec.Address != address {
			continue
		}
		if category != "" && !strings.EqualFold(rec.Category, category) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(rec.RawLine), strings.ToLower(search)) {
			continue
		}
		result = append(result, rec)
	}
	return result
}

// GetAudit returns up to limit audit records, latest first, optionally for one action.
func (s *MemoryStore) GetAudit(limit int, action string) []model.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.AuditRecord, 0)
	for i := len(s.audit) - 1; i >= 0 && len(result) < limit; i-- {
		rec := s.audit[i]
		if action != "" && rec.Action != action {
			continue
		}
		result = append(result, rec)
	}
	return result
}

// Counts returns the number of retained traffic and audit records.
func (s *MemoryStore) Counts() (traffic, audit int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.traffic), len(s.audit)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
