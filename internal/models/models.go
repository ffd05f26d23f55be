// Package models provides domain models for the trading agent.
package models

import (
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the closing side for a position opened on this side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket   OrderType = "MARKET"
	OrderTypeLimit    OrderType = "LIMIT"
	OrderTypeStopLoss OrderType = "SL"
)

// MarketStatus represents the current market status.
type MarketStatus string

const (
	MarketOpen         MarketStatus = "OPEN"
	MarketPreOpen      MarketStatus = "PRE_OPEN"
	MarketClosed       MarketStatus = "CLOSED"
	MarketSquareOffDue MarketStatus = "SQUAREOFF_DUE"
)

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Instrument represents a tradeable instrument. Immutable within a
// trading day.
type Instrument struct {
	Token     uint32
	Symbol    string
	Name      string
	Exchange  Exchange
	TickSize  float64
	LotSize   int
	LastPrice float64
}

// Snapshot represents the current market view of an instrument.
type Snapshot struct {
	Symbol     string
	Price      float64
	Volume     int64
	Indicators IndicatorSummary
	Timestamp  time.Time
}

// IndicatorSummary holds the intraday technical summary fed to the oracle.
type IndicatorSummary struct {
	EMA9    float64
	EMA21   float64
	RSI14   float64
	VWAP    float64
	ATR14   float64
	DayHigh float64
	DayLow  float64
}

// BrokerPosition is an open position as reported by the brokerage.
type BrokerPosition struct {
	Symbol       string
	Exchange     Exchange
	Quantity     int
	AveragePrice float64
	LastPrice    float64
	PnL          float64
}

// AccountState is the per-cycle view of the trading account. It is
// refreshed every cycle and never cached across cycles.
type AccountState struct {
	AvailableMargin float64
	UsedMargin      float64
	Leverage        float64
	OpenPositions   []BrokerPosition
	FetchedAt       time.Time
}

// HasOpenPosition reports whether the brokerage shows any non-zero
// intraday position.
func (a AccountState) HasOpenPosition() bool {
	for _, p := range a.OpenPositions {
		if p.Quantity != 0 {
			return true
		}
	}
	return false
}
