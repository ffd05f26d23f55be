// Package errors provides the error taxonomy for the decision loop.
package errors

import (
	"errors"
	"fmt"

	"intraday-trader/internal/models"
)

// Standard sentinel errors
var (
	ErrDataUnavailable    = errors.New("market or account data unavailable")
	ErrStaleSnapshot      = errors.New("market snapshot is stale")
	ErrOracleUnavailable  = errors.New("oracle call failed")
	ErrOracleMalformed    = errors.New("oracle reply failed validation")
	ErrRiskRejected       = errors.New("directive rejected by risk manager")
	ErrOrderRejected      = errors.New("order rejected by brokerage")
	ErrOrderTimeout       = errors.New("order not filled within timeout")
	ErrInvariantViolation = errors.New("illegal position state transition")
	ErrTradingHalted      = errors.New("trading halted, manual reset required")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrMarketClosed       = errors.New("market is closed")
)

// CycleError wraps a failure with its ledger taxonomy kind so the
// orchestrator can record it without re-classifying.
type CycleError struct {
	Kind   models.ErrorKind
	Op     string
	Symbol string
	Err    error
}

func (e *CycleError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s [%s] %s: %v", e.Kind, e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Kind, e.Op, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// NewCycleError creates a new CycleError.
func NewCycleError(kind models.ErrorKind, op, symbol string, err error) *CycleError {
	return &CycleError{Kind: kind, Op: op, Symbol: symbol, Err: err}
}

// KindOf returns the taxonomy kind of err, or ErrKindNone when err is nil
// or carries no classification.
func KindOf(err error) models.ErrorKind {
	if err == nil {
		return models.ErrKindNone
	}
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	switch {
	case errors.Is(err, ErrDataUnavailable), errors.Is(err, ErrStaleSnapshot):
		return models.ErrKindData
	case errors.Is(err, ErrOracleUnavailable), errors.Is(err, ErrOracleMalformed):
		return models.ErrKindOracle
	case errors.Is(err, ErrRiskRejected):
		return models.ErrKindRisk
	case errors.Is(err, ErrOrderRejected), errors.Is(err, ErrOrderTimeout):
		return models.ErrKindOrder
	case errors.Is(err, ErrInvariantViolation):
		return models.ErrKindInvariant
	}
	return models.ErrKindData
}

// InvariantError represents an illegal state machine transition. It is
// fatal for the current cycle and escalates to a trading halt.
type InvariantError struct {
	From   models.PositionState
	Event  string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("illegal transition: %s on %q: %s", e.From, e.Event, e.Detail)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

// NewInvariantError creates a new InvariantError.
func NewInvariantError(from models.PositionState, event, detail string) *InvariantError {
	return &InvariantError{From: from, Event: event, Detail: detail}
}

// OrderError represents an error related to order operations.
type OrderError struct {
	OrderID string
	Symbol  string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.OrderID, e.Action, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.OrderID, e.Action, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrOrderRejected
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, symbol, action, reason string, err error) *OrderError {
	return &OrderError{OrderID: orderID, Symbol: symbol, Action: action, Reason: reason, Err: err}
}

// BrokerError represents an error from the broker API.
type BrokerError struct {
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s]: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(code, message string, err error) *BrokerError {
	return &BrokerError{Code: code, Message: message, Err: err}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
