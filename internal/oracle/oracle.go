// Package oracle provides the reasoning-oracle client that turns market
// context into a structured trading directive.
package oracle

import (
	"context"

	"intraday-trader/internal/models"
)

// DecisionRequest is the context payload assembled for one oracle call.
type DecisionRequest struct {
	Instrument models.Instrument
	Snapshot   models.Snapshot
	Account    models.AccountState
	// Position is the currently open position, if any.
	Position *models.Position
	// Recent is the bounded window of prior cycle records fed back as
	// short-term memory.
	Recent []models.CycleRecord
	// News is an optional free-text news or knowledge-base excerpt.
	News string
}

// Oracle returns a trading directive for the current cycle. A reply
// that cannot be validated is mapped deterministically to HOLD and the
// validation failure is returned alongside it for the ledger.
type Oracle interface {
	Decide(ctx context.Context, req DecisionRequest) (models.Directive, error)
}

// Candidate is one instrument offered to the oracle for day-candidate
// selection.
type Candidate struct {
	Symbol     string
	LastPrice  float64
	Indicators models.IndicatorSummary
}

// Selection is the oracle's pick among candidates.
type Selection struct {
	Symbol     string
	Confidence float64
	Reasoning  string
}

// Selector ranks candidate instruments for the trading day.
type Selector interface {
	SelectInstrument(ctx context.Context, candidates []Candidate) (*Selection, error)
}
