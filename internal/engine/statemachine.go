package engine

import (
	"sync"
	"time"

	apperrors "intraday-trader/internal/errors"
	"intraday-trader/internal/models"
)

// StateMachine owns the single active position and enforces its
// lifecycle:
//
//	FLAT -> ENTRY_PENDING -> OPEN -> EXIT_PENDING -> FLAT
//	         \-> REJECTED -> FLAT
//
// Every mutation goes through a transition method; an illegal
// transition returns an InvariantError and leaves the machine
// untouched. The orchestrator treats any InvariantError as fatal and
// halts trading.
type StateMachine struct {
	mu       sync.Mutex
	state    models.PositionState
	position *models.Position
}

// NewStateMachine creates a machine in FLAT with no position.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: models.StateFlat}
}

// State returns the current lifecycle state.
func (m *StateMachine) State() models.PositionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Position returns a copy of the tracked position, or nil when flat.
func (m *StateMachine) Position() *models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.position == nil {
		return nil
	}
	p := *m.position
	return &p
}

// RequestEntry moves FLAT -> ENTRY_PENDING, staging the position the
// entry order is about to open.
func (m *StateMachine) RequestEntry(pos models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != models.StateFlat {
		return apperrors.NewInvariantError(m.state, "entry_request", "a second position may not be opened")
	}
	m.state = models.StateEntryPending
	m.position = &pos
	return nil
}

// ConfirmEntry moves ENTRY_PENDING -> OPEN with the actual fill. A
// partial fill opens the position at the filled quantity.
func (m *StateMachine) ConfirmEntry(filledQty int, avgPrice float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != models.StateEntryPending {
		return apperrors.NewInvariantError(m.state, "entry_fill", "no entry order is pending")
	}
	if filledQty <= 0 {
		return apperrors.NewInvariantError(m.state, "entry_fill", "fill quantity must be positive")
	}
	m.position.Quantity = filledQty
	if avgPrice > 0 {
		m.position.EntryPrice = avgPrice
	}
	m.position.OpenedAt = at
	m.state = models.StateOpen
	return nil
}

// FailEntry moves ENTRY_PENDING -> REJECTED after a rejected, cancelled
// or timed-out entry order that filled nothing.
func (m *StateMachine) FailEntry() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != models.StateEntryPending {
		return apperrors.NewInvariantError(m.state, "entry_fail", "no entry order is pending")
	}
	m.state = models.StateRejected
	m.position = nil
	return nil
}

// ClearRejected moves REJECTED -> FLAT once the account has been
// re-queried and the failure recorded.
func (m *StateMachine) ClearRejected() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != models.StateRejected {
		return apperrors.NewInvariantError(m.state, "rejected_clear", "machine is not in REJECTED")
	}
	m.state = models.StateFlat
	return nil
}

// RequestExit moves OPEN -> EXIT_PENDING.
func (m *StateMachine) RequestExit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != models.StateOpen {
		return apperrors.NewInvariantError(m.state, "exit_request", "no open position to exit")
	}
	m.state = models.StateExitPending
	return nil
}

// ConfirmExit moves EXIT_PENDING -> FLAT and returns the closed
// position together with the realized P&L at the exit price.
func (m *StateMachine) ConfirmExit(exitPrice float64) (models.Position, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != models.StateExitPending {
		return models.Position{}, 0, apperrors.NewInvariantError(m.state, "exit_fill", "no exit order is pending")
	}
	closed := *m.position
	pnl := closed.UnrealizedPnL(exitPrice)
	m.state = models.StateFlat
	m.position = nil
	return closed, pnl, nil
}

// ConfirmPartialExit handles an exit order that filled only part of
// the position: the machine returns to OPEN with the reduced quantity
// and the realized P&L of the exited lot is returned.
func (m *StateMachine) ConfirmPartialExit(filledQty int, exitPrice float64) (models.Position, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != models.StateExitPending {
		return models.Position{}, 0, apperrors.NewInvariantError(m.state, "exit_partial", "no exit order is pending")
	}
	if filledQty <= 0 || filledQty >= m.position.Quantity {
		return models.Position{}, 0, apperrors.NewInvariantError(m.state, "exit_partial", "fill must be positive and below position quantity")
	}
	exited := *m.position
	exited.Quantity = filledQty
	pnl := exited.UnrealizedPnL(exitPrice)
	m.position.Quantity -= filledQty
	m.state = models.StateOpen
	return exited, pnl, nil
}

// FailExit moves EXIT_PENDING -> OPEN: the exit order failed, the
// position is still live and must be retried.
func (m *StateMachine) FailExit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != models.StateExitPending {
		return apperrors.NewInvariantError(m.state, "exit_fail", "no exit order is pending")
	}
	m.state = models.StateOpen
	return nil
}

// TightenStops applies oracle-proposed protective levels to the open
// position. Levels only ever tighten: a stop may move toward the
// price and a target toward the entry, never away. Loosening proposals
// are ignored rather than rejected.
func (m *StateMachine) TightenStops(stop, target float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != models.StateOpen {
		return apperrors.NewInvariantError(m.state, "tighten_stops", "no open position")
	}
	p := m.position
	if p.Side == models.PositionLong {
		if stop > p.StopLoss {
			p.StopLoss = stop
		}
		if target > 0 && (p.Target == 0 || target < p.Target) {
			p.Target = target
		}
	} else {
		if stop > 0 && stop < p.StopLoss {
			p.StopLoss = stop
		}
		if target > p.Target {
			p.Target = target
		}
	}
	return nil
}

// Breached reports whether the given price has crossed the open
// position's stop loss or target. Always false when no position is
// open.
func (m *StateMachine) Breached(price float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != models.StateOpen || m.position == nil {
		return false
	}
	p := m.position
	if p.Side == models.PositionLong {
		if p.StopLoss > 0 && price <= p.StopLoss {
			return true
		}
		return p.Target > 0 && price >= p.Target
	}
	if p.StopLoss > 0 && price >= p.StopLoss {
		return true
	}
	return p.Target > 0 && price <= p.Target
}
