package models

import "time"

// OrderStatus is the lifecycle status of an order. FILLED, REJECTED and
// CANCELLED are terminal.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderRejected || s == OrderCancelled
}

// Order represents a trading order. Every order references exactly one
// position.
type Order struct {
	ID            string
	BrokerOrderID string
	PositionID    string
	Symbol        string
	Exchange      Exchange
	Side          OrderSide
	Type          OrderType
	Quantity      int
	Price         float64
	TriggerPrice  float64
	Status        OrderStatus
	FilledQty     int
	AveragePrice  float64
	StatusMessage string
	PlacedAt      time.Time
}

// PositionSide is the direction of a position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// EntrySide returns the order side that opens a position of this
// direction.
func (s PositionSide) EntrySide() OrderSide {
	if s == PositionLong {
		return OrderSideBuy
	}
	return OrderSideSell
}

// Position is the single active intraday position. It is owned
// exclusively by the position state machine and mutated only through its
// transition API.
type Position struct {
	ID         string
	Instrument Instrument
	Side       PositionSide
	EntryPrice float64
	Quantity   int
	StopLoss   float64
	Target     float64
	OpenedAt   time.Time
}

// UnrealizedPnL returns the mark-to-market P&L at the given price.
func (p Position) UnrealizedPnL(price float64) float64 {
	if p.Side == PositionLong {
		return (price - p.EntryPrice) * float64(p.Quantity)
	}
	return (p.EntryPrice - price) * float64(p.Quantity)
}
