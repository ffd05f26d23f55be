package models

import "time"

// PositionState is the lifecycle state of the single active position.
type PositionState string

const (
	StateFlat         PositionState = "FLAT"
	StateEntryPending PositionState = "ENTRY_PENDING"
	StateOpen         PositionState = "OPEN"
	StateExitPending  PositionState = "EXIT_PENDING"
	StateRejected     PositionState = "REJECTED"
)

// RiskVerdict is the risk manager's ruling on a directive.
type RiskVerdict struct {
	Approved bool
	Quantity int
	Reason   string
}

// ErrorKind classifies cycle failures for the ledger.
type ErrorKind string

const (
	ErrKindNone      ErrorKind = ""
	ErrKindData      ErrorKind = "DATA_UNAVAILABLE"
	ErrKindOracle    ErrorKind = "ORACLE_ERROR"
	ErrKindRisk      ErrorKind = "RISK_REJECTED"
	ErrKindOrder     ErrorKind = "ORDER_REJECTED"
	ErrKindInvariant ErrorKind = "INVARIANT_VIOLATION"
	ErrKindCycleSkip ErrorKind = "CYCLE_OVERRUN"
)

// CycleRecord is one append-only ledger entry: the inputs, directive and
// outcome of a single decision cycle. Records are never mutated after
// write and form the memory context fed back into later oracle calls.
type CycleRecord struct {
	ID          string
	CycleAt     time.Time
	Symbol      string
	Account     AccountState
	Snapshot    *Snapshot
	Directive   *Directive
	Verdict     *RiskVerdict
	Order       *Order
	StateBefore PositionState
	StateAfter  PositionState
	RealizedPnL float64
	ErrKind     ErrorKind
	ErrDetail   string
}
