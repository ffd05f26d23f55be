// Package ledger provides the append-only decision ledger.
package ledger

import (
	"context"
	"time"

	"intraday-trader/internal/models"
)

// DecisionLedger durably records every cycle's inputs, directive and
// outcome. Records are append-only and never mutated after write; the
// recent window is fed back into later oracle calls as short-term
// memory.
type DecisionLedger interface {
	// Append writes one cycle record. The record's ID is assigned if
	// empty.
	Append(ctx context.Context, record *models.CycleRecord) error

	// GetByTimestamp returns the record written at exactly the given
	// cycle timestamp.
	GetByTimestamp(ctx context.Context, at time.Time) (*models.CycleRecord, error)

	// GetRecent returns up to limit records for the symbol on the given
	// day, oldest first.
	GetRecent(ctx context.Context, symbol string, day time.Time, limit int) ([]models.CycleRecord, error)

	// GetDay returns all records for the given day, oldest first.
	GetDay(ctx context.Context, day time.Time) ([]models.CycleRecord, error)

	// Lifecycle
	Close() error
}
