// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"
	"time"

	"intraday-trader/internal/models"
)

// Broker defines the brokerage operations the decision loop depends on.
// All calls are fallible and potentially slow; callers must apply their
// own timeouts and must never assume a synchronous fill.
type Broker interface {
	// Authentication
	Login(ctx context.Context) error
	IsAuthenticated() bool

	// Market Data
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetIntradayCandles(ctx context.Context, symbol string, interval string, from, to time.Time) ([]models.Candle, error)
	GetInstrument(ctx context.Context, symbol string, exchange models.Exchange) (*models.Instrument, error)
	GetLTP(ctx context.Context, symbols []string) (map[string]float64, error)

	// Account
	GetMargins(ctx context.Context) (*Margins, error)
	GetPositions(ctx context.Context) ([]models.BrokerPosition, error)

	// Orders
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetOrderStatus(ctx context.Context, brokerOrderID string) (*OrderState, error)
}

// Quote represents a market quote.
type Quote struct {
	Symbol    string
	LTP       float64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	Timestamp time.Time
}

// Margins represents account margin details.
type Margins struct {
	Available float64
	Used      float64
	Net       float64
}

// OrderRequest represents a new order submission. Product is always
// intraday (MIS); the loop never carries positions overnight.
type OrderRequest struct {
	Symbol       string
	Exchange     models.Exchange
	Side         models.OrderSide
	Type         models.OrderType
	Quantity     int
	Price        float64
	TriggerPrice float64
	Tag          string
}

// OrderResult represents the result of an order placement.
type OrderResult struct {
	BrokerOrderID string
	Status        string
	Message       string
}

// OrderState is the brokerage-reported state of an order.
type OrderState struct {
	BrokerOrderID string
	Status        models.OrderStatus
	FilledQty     int
	AveragePrice  float64
	Message       string
}
