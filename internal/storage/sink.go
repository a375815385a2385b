// Package storage persists traffic and audit records.
package storage

import (
	"context"

	"log-guard/internal/model"
)

// Sink receives every accepted line and every action taken. Implementations
// must be safe for concurrent use.
type Sink interface {
	InsertTrafficLog(ctx context.Context, rec model.TrafficRecord) error
	LogAction(ctx context.Context, rec model.AuditRecord) error
	Close() error
}
