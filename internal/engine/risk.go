// Package engine implements the decision-and-execution loop: risk
// evaluation, the position state machine, order execution and the cycle
// orchestrator.
package engine

import (
	"fmt"
	"math"

	"intraday-trader/internal/config"
	"intraday-trader/internal/models"
)

// RiskManager rules on oracle directives. Evaluate is pure: the same
// inputs always produce the same verdict, and nothing is mutated.
type RiskManager struct {
	cfg config.RiskConfig
}

// NewRiskManager creates a risk manager with the given limits.
func NewRiskManager(cfg config.RiskConfig) *RiskManager {
	return &RiskManager{cfg: cfg}
}

// EvaluationInput is everything a verdict depends on.
type EvaluationInput struct {
	Directive   models.Directive
	Account     models.AccountState
	State       models.PositionState
	Position    *models.Position
	LotSize     int
	TradesToday int
}

// Evaluate rules on a directive. Exits are always approved: blocking a
// risk-reducing action is worse than any sizing concern, so EXIT passes
// even when margin data looks wrong. Entries walk the full rule chain
// and are sized from the entry-to-stop distance.
func (r *RiskManager) Evaluate(in EvaluationInput) models.RiskVerdict {
	switch in.Directive.Action {
	case models.ActionHold:
		return models.RiskVerdict{Approved: true}

	case models.ActionExit:
		qty := 0
		if in.Position != nil {
			qty = in.Position.Quantity
		}
		return models.RiskVerdict{Approved: true, Quantity: qty, Reason: "exit reduces risk"}

	case models.ActionBuy, models.ActionSell:
		return r.evaluateEntry(in)
	}

	return reject("unknown action %q", in.Directive.Action)
}

func (r *RiskManager) evaluateEntry(in EvaluationInput) models.RiskVerdict {
	d := in.Directive

	if in.State != models.StateFlat {
		return reject("position state is %s, entries require FLAT", in.State)
	}
	if in.Account.HasOpenPosition() {
		return reject("brokerage reports an open position")
	}
	if in.TradesToday >= r.cfg.MaxTradesPerDay {
		return reject("daily trade limit reached (%d)", r.cfg.MaxTradesPerDay)
	}
	if d.Confidence < r.cfg.MinConfidence {
		return reject("confidence %.2f below minimum %.2f", d.Confidence, r.cfg.MinConfidence)
	}
	if in.Account.AvailableMargin < r.cfg.MinMargin {
		return reject("available margin %.2f below minimum %.2f", in.Account.AvailableMargin, r.cfg.MinMargin)
	}
	if d.Entry <= 0 {
		return reject("directive has no entry price")
	}

	stopDistance := math.Abs(d.Entry - d.StopLoss)
	if stopDistance <= 0 {
		return reject("stop distance is zero")
	}
	if d.Action == models.ActionBuy && d.StopLoss >= d.Entry {
		return reject("BUY stop %.2f not below entry %.2f", d.StopLoss, d.Entry)
	}
	if d.Action == models.ActionSell && d.StopLoss <= d.Entry {
		return reject("SELL stop %.2f not above entry %.2f", d.StopLoss, d.Entry)
	}

	qty := r.size(d.Entry, stopDistance, in.Account.AvailableMargin, in.LotSize)
	if qty <= 0 {
		return reject("insufficient sizing: entry %.2f with stop distance %.2f yields no quantity", d.Entry, stopDistance)
	}

	return models.RiskVerdict{Approved: true, Quantity: qty}
}

// size computes the entry quantity: risk a fixed fraction of available
// margin per trade against the stop distance, then apply the position
// value, buying power and lot size caps.
func (r *RiskManager) size(entry, stopDistance, availableMargin float64, lotSize int) int {
	qty := math.Floor(availableMargin * r.cfg.PerTradeRiskFraction / stopDistance)

	if r.cfg.MaxPositionValue > 0 {
		qty = math.Min(qty, math.Floor(r.cfg.MaxPositionValue/entry))
	}

	buyingPower := availableMargin * r.cfg.Leverage
	if r.cfg.MaxCapitalAtRisk > 0 {
		buyingPower = math.Min(buyingPower, r.cfg.MaxCapitalAtRisk)
	}
	qty = math.Min(qty, math.Floor(buyingPower/entry))

	if lotSize > 1 {
		qty = math.Floor(qty/float64(lotSize)) * float64(lotSize)
	}
	if qty < 0 {
		return 0
	}
	return int(qty)
}

func reject(format string, args ...interface{}) models.RiskVerdict {
	return models.RiskVerdict{Approved: false, Reason: fmt.Sprintf(format, args...)}
}
