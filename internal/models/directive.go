package models

import "time"

// Action is the oracle's requested trading action for a cycle.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
	ActionExit Action = "EXIT"
)

// Valid reports whether the action is one of the known values.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold, ActionExit:
		return true
	}
	return false
}

// OracleUsage holds oracle-call cost metadata.
type OracleUsage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostINR          float64
}

// Directive is the oracle's structured trading recommendation for the
// current cycle. It is immutable once issued and is never reused in a
// later cycle.
type Directive struct {
	Action     Action
	Symbol     string
	Entry      float64
	StopLoss   float64
	Target     float64
	Confidence float64
	Reasoning  string
	IssuedAt   time.Time
	Usage      OracleUsage

	// Synthetic marks directives generated by the orchestrator itself
	// (EOD square-off) rather than the oracle.
	Synthetic bool
}

// HoldDirective returns the deterministic fallback used when the oracle
// reply cannot be validated.
func HoldDirective(symbol string, now time.Time) Directive {
	return Directive{Action: ActionHold, Symbol: symbol, IssuedAt: now}
}

// ExitDirective returns the synthetic directive used for forced exits.
func ExitDirective(symbol string, now time.Time) Directive {
	return Directive{Action: ActionExit, Symbol: symbol, IssuedAt: now, Synthetic: true}
}
