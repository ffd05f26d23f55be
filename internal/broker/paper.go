// Package broker provides broker integration implementations.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "intraday-trader/internal/errors"
	"intraday-trader/internal/models"
)

// PaperBroker implements the Broker interface for paper trading. Market
// data is served from an optional real data broker; orders fill
// immediately at the last known price.
type PaperBroker struct {
	dataBroker Broker

	positions    map[string]*models.BrokerPosition
	orders       map[string]*OrderState
	orderSides   map[string]models.OrderSide
	balance      float64
	orderCounter int
	priceCache   map[string]float64

	mu sync.RWMutex
}

// PaperBrokerConfig holds configuration for paper broker.
type PaperBrokerConfig struct {
	DataBroker     Broker
	InitialBalance float64
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker(cfg PaperBrokerConfig) *PaperBroker {
	balance := cfg.InitialBalance
	if balance == 0 {
		balance = 1000000 // 10 lakhs default
	}

	return &PaperBroker{
		dataBroker: cfg.DataBroker,
		positions:  make(map[string]*models.BrokerPosition),
		orders:     make(map[string]*OrderState),
		orderSides: make(map[string]models.OrderSide),
		balance:    balance,
		priceCache: make(map[string]float64),
	}
}

// SetPrice seeds the simulated price for a symbol. Used by tests and by
// paper mode when no data broker is attached.
func (p *PaperBroker) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priceCache[symbol] = price
}

// Login is a no-op for paper trading.
func (p *PaperBroker) Login(ctx context.Context) error {
	return nil
}

// IsAuthenticated always returns true for paper trading.
func (p *PaperBroker) IsAuthenticated() bool {
	return true
}

// GetQuote fetches a quote from the data broker, falling back to the
// seeded price cache.
func (p *PaperBroker) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	if p.dataBroker != nil {
		quote, err := p.dataBroker.GetQuote(ctx, symbol)
		if err == nil {
			p.mu.Lock()
			p.priceCache[symbol] = quote.LTP
			p.mu.Unlock()
		}
		return quote, err
	}

	p.mu.RLock()
	price, ok := p.priceCache[symbol]
	p.mu.RUnlock()
	if !ok {
		return nil, apperrors.ErrDataUnavailable
	}

	return &Quote{Symbol: symbol, LTP: price, Timestamp: time.Now()}, nil
}

// GetIntradayCandles fetches candles from the data broker.
func (p *PaperBroker) GetIntradayCandles(ctx context.Context, symbol string, interval string, from, to time.Time) ([]models.Candle, error) {
	if p.dataBroker != nil {
		return p.dataBroker.GetIntradayCandles(ctx, symbol, interval, from, to)
	}
	return nil, apperrors.ErrDataUnavailable
}

// GetInstrument resolves an instrument via the data broker, or
// fabricates an equity instrument with lot size 1.
func (p *PaperBroker) GetInstrument(ctx context.Context, symbol string, exchange models.Exchange) (*models.Instrument, error) {
	if p.dataBroker != nil {
		return p.dataBroker.GetInstrument(ctx, symbol, exchange)
	}

	p.mu.RLock()
	price := p.priceCache[symbol]
	p.mu.RUnlock()

	return &models.Instrument{
		Symbol:    symbol,
		Name:      symbol,
		Exchange:  exchange,
		TickSize:  0.05,
		LotSize:   1,
		LastPrice: price,
	}, nil
}

// GetLTP returns last prices from the data broker or the price cache.
func (p *PaperBroker) GetLTP(ctx context.Context, symbols []string) (map[string]float64, error) {
	if p.dataBroker != nil {
		return p.dataBroker.GetLTP(ctx, symbols)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if price, ok := p.priceCache[s]; ok {
			result[s] = price
		}
	}
	return result, nil
}

// GetMargins returns the simulated account margins.
func (p *PaperBroker) GetMargins(ctx context.Context) (*Margins, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var used float64
	for _, pos := range p.positions {
		used += pos.AveragePrice * float64(abs(pos.Quantity))
	}

	return &Margins{
		Available: p.balance - used,
		Used:      used,
		Net:       p.balance,
	}, nil
}

// GetPositions returns the simulated open positions.
func (p *PaperBroker) GetPositions(ctx context.Context) ([]models.BrokerPosition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]models.BrokerPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		cp := *pos
		if price, ok := p.priceCache[pos.Symbol]; ok {
			cp.LastPrice = price
			cp.PnL = (price - cp.AveragePrice) * float64(cp.Quantity)
		}
		result = append(result, cp)
	}
	return result, nil
}

// PlaceOrder simulates order placement with an immediate fill at the
// last known price.
func (p *PaperBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.priceCache[req.Symbol]
	if !ok {
		price = req.Price
	}
	if price == 0 {
		return nil, apperrors.NewOrderError("", req.Symbol, string(req.Side), "no price available", nil)
	}

	p.orderCounter++
	orderID := fmt.Sprintf("PAPER_%d_%d", time.Now().Unix(), p.orderCounter)

	p.orders[orderID] = &OrderState{
		BrokerOrderID: orderID,
		Status:        models.OrderFilled,
		FilledQty:     req.Quantity,
		AveragePrice:  price,
	}
	p.orderSides[orderID] = req.Side

	p.applyFill(req.Symbol, req.Exchange, req.Side, req.Quantity, price)

	return &OrderResult{
		BrokerOrderID: orderID,
		Status:        "PLACED",
		Message:       "Paper order filled",
	}, nil
}

func (p *PaperBroker) applyFill(symbol string, exchange models.Exchange, side models.OrderSide, qty int, price float64) {
	signed := qty
	if side == models.OrderSideSell {
		signed = -qty
	}

	pos, ok := p.positions[symbol]
	if !ok {
		p.positions[symbol] = &models.BrokerPosition{
			Symbol:       symbol,
			Exchange:     exchange,
			Quantity:     signed,
			AveragePrice: price,
			LastPrice:    price,
		}
		return
	}

	newQty := pos.Quantity + signed
	if newQty == 0 {
		p.balance += float64(pos.Quantity) * (price - pos.AveragePrice)
		delete(p.positions, symbol)
		return
	}

	pos.Quantity = newQty
	pos.LastPrice = price
}

// CancelOrder marks a pending paper order as cancelled.
func (p *PaperBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.orders[brokerOrderID]
	if !ok {
		return apperrors.NewOrderError(brokerOrderID, "", "CANCEL", "order not found", nil)
	}
	if state.Status == models.OrderPending {
		state.Status = models.OrderCancelled
	}
	return nil
}

// GetOrderStatus returns the simulated order state.
func (p *PaperBroker) GetOrderStatus(ctx context.Context, brokerOrderID string) (*OrderState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state, ok := p.orders[brokerOrderID]
	if !ok {
		return nil, apperrors.NewOrderError(brokerOrderID, "", "STATUS", "order not found", nil)
	}
	cp := *state
	return &cp, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
