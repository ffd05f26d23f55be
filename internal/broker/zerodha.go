// Package broker provides broker integration implementations.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "intraday-trader/internal/errors"
	"intraday-trader/internal/models"
)

// ZerodhaBroker implements the Broker interface for Zerodha Kite Connect.
type ZerodhaBroker struct {
	client        *kiteconnect.Client
	apiKey        string
	apiSecret     string
	userID        string
	accessToken   string
	tokenPath     string
	authenticated bool
	instruments   map[string]models.Instrument
	mu            sync.RWMutex
}

// ZerodhaConfig holds configuration for Zerodha broker.
type ZerodhaConfig struct {
	APIKey    string
	APISecret string
	UserID    string
	TokenPath string
}

// NewZerodhaBroker creates a new Zerodha broker instance.
// It automatically loads any saved session from disk.
func NewZerodhaBroker(cfg ZerodhaConfig) *ZerodhaBroker {
	client := kiteconnect.New(cfg.APIKey)

	tokenPath := cfg.TokenPath
	if tokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		tokenPath = filepath.Join(homeDir, ".config", "intraday-trader", "session.json")
	}

	zb := &ZerodhaBroker{
		client:      client,
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		userID:      cfg.UserID,
		tokenPath:   tokenPath,
		instruments: make(map[string]models.Instrument),
	}

	_ = zb.loadSession()

	return zb
}

// sessionData represents persisted session data.
type sessionData struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login authenticates with Zerodha. It first tries a persisted session,
// then falls back to the OAuth flow.
func (z *ZerodhaBroker) Login(ctx context.Context) error {
	if err := z.loadSession(); err == nil && z.authenticated {
		if _, err := z.client.GetUserProfile(); err == nil {
			return nil
		}
	}

	loginURL := z.client.GetLoginURL()
	return fmt.Errorf("authentication required: please visit %s and complete login, then call CompleteLogin with the request token", loginURL)
}

// CompleteLogin completes the OAuth flow with the request token.
func (z *ZerodhaBroker) CompleteLogin(ctx context.Context, requestToken string) error {
	session, err := z.client.GenerateSession(requestToken, z.apiSecret)
	if err != nil {
		return fmt.Errorf("failed to generate session: %w", err)
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()

	if err := z.saveSession(session.AccessToken); err != nil {
		// Session is valid even if persistence failed
		fmt.Printf("warning: failed to persist session: %v\n", err)
	}

	return nil
}

// IsAuthenticated returns whether the broker is authenticated.
func (z *ZerodhaBroker) IsAuthenticated() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.authenticated
}

func (z *ZerodhaBroker) loadSession() error {
	data, err := os.ReadFile(z.tokenPath)
	if err != nil {
		return err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}

	// Zerodha tokens expire at 6 AM next day
	if time.Now().After(session.ExpiresAt) {
		return fmt.Errorf("session expired")
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()

	return nil
}

func (z *ZerodhaBroker) saveSession(accessToken string) error {
	dir := filepath.Dir(z.tokenPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	loc, _ := time.LoadLocation("Asia/Kolkata")
	now := time.Now().In(loc)
	expiresAt := time.Date(now.Year(), now.Month(), now.Day()+1, 6, 0, 0, 0, loc)

	session := sessionData{
		AccessToken: accessToken,
		UserID:      z.userID,
		ExpiresAt:   expiresAt,
	}

	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	return os.WriteFile(z.tokenPath, data, 0600)
}

// GetQuote fetches a real-time quote for a symbol.
func (z *ZerodhaBroker) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	key := quoteKey(symbol)
	quotes, err := z.client.GetQuote(key)
	if err != nil {
		return nil, apperrors.NewBrokerError("QUOTE", "failed to get quote", err)
	}

	q, ok := quotes[key]
	if !ok {
		return nil, apperrors.NewBrokerError("QUOTE", fmt.Sprintf("quote not found for symbol: %s", symbol), nil)
	}

	return &Quote{
		Symbol:    symbol,
		LTP:       q.LastPrice,
		Open:      q.OHLC.Open,
		High:      q.OHLC.High,
		Low:       q.OHLC.Low,
		Close:     q.OHLC.Close,
		Volume:    int64(q.Volume),
		Timestamp: q.LastTradeTime.Time,
	}, nil
}

// GetIntradayCandles fetches intraday OHLCV data.
func (z *ZerodhaBroker) GetIntradayCandles(ctx context.Context, symbol string, interval string, from, to time.Time) ([]models.Candle, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	inst, err := z.GetInstrument(ctx, symbol, models.NSE)
	if err != nil {
		return nil, err
	}

	data, err := z.client.GetHistoricalData(int(inst.Token), mapInterval(interval), from, to, false, false)
	if err != nil {
		return nil, apperrors.NewBrokerError("HISTORICAL", "failed to get intraday candles", err)
	}

	candles := make([]models.Candle, len(data))
	for i, d := range data {
		candles[i] = models.Candle{
			Timestamp: d.Date.Time,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    int64(d.Volume),
		}
	}

	return candles, nil
}

// GetInstrument resolves an instrument by symbol, caching the exchange
// dump for the day.
func (z *ZerodhaBroker) GetInstrument(ctx context.Context, symbol string, exchange models.Exchange) (*models.Instrument, error) {
	key := fmt.Sprintf("%s:%s", exchange, symbol)

	z.mu.RLock()
	inst, ok := z.instruments[key]
	z.mu.RUnlock()
	if ok {
		return &inst, nil
	}

	if err := z.refreshInstruments(exchange); err != nil {
		return nil, err
	}

	z.mu.RLock()
	inst, ok = z.instruments[key]
	z.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewBrokerError("INSTRUMENT", fmt.Sprintf("instrument not found: %s", symbol), nil)
	}

	return &inst, nil
}

func (z *ZerodhaBroker) refreshInstruments(exchange models.Exchange) error {
	if !z.IsAuthenticated() {
		return apperrors.ErrNotAuthenticated
	}

	instruments, err := z.client.GetInstruments()
	if err != nil {
		return apperrors.NewBrokerError("INSTRUMENT", "failed to get instruments", err)
	}

	z.mu.Lock()
	defer z.mu.Unlock()
	for _, inst := range instruments {
		if inst.Exchange != string(exchange) {
			continue
		}
		key := fmt.Sprintf("%s:%s", inst.Exchange, inst.Tradingsymbol)
		z.instruments[key] = models.Instrument{
			Token:     uint32(inst.InstrumentToken),
			Symbol:    inst.Tradingsymbol,
			Name:      inst.Name,
			Exchange:  models.Exchange(inst.Exchange),
			LotSize:   int(inst.LotSize),
			TickSize:  inst.TickSize,
			LastPrice: inst.LastPrice,
		}
	}

	return nil
}

// GetLTP fetches last traded prices for a batch of symbols.
func (z *ZerodhaBroker) GetLTP(ctx context.Context, symbols []string) (map[string]float64, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = quoteKey(s)
	}

	quotes, err := z.client.GetLTP(keys...)
	if err != nil {
		return nil, apperrors.NewBrokerError("LTP", "failed to get LTPs", err)
	}

	result := make(map[string]float64, len(quotes))
	for key, q := range quotes {
		symbol := key
		if idx := strings.IndexByte(key, ':'); idx >= 0 {
			symbol = key[idx+1:]
		}
		result[symbol] = q.LastPrice
	}

	return result, nil
}

// GetMargins fetches equity segment margins.
func (z *ZerodhaBroker) GetMargins(ctx context.Context) (*Margins, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	margins, err := z.client.GetUserMargins()
	if err != nil {
		return nil, apperrors.NewBrokerError("MARGINS", "failed to get margins", err)
	}

	equity := margins.Equity
	return &Margins{
		Available: equity.Available.Cash,
		Used:      equity.Used.Debits,
		Net:       equity.Net,
	}, nil
}

// GetPositions fetches current intraday positions.
func (z *ZerodhaBroker) GetPositions(ctx context.Context) ([]models.BrokerPosition, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	positions, err := z.client.GetPositions()
	if err != nil {
		return nil, apperrors.NewBrokerError("POSITIONS", "failed to get positions", err)
	}

	result := make([]models.BrokerPosition, 0, len(positions.Day))
	seen := make(map[string]bool)
	for _, p := range append(positions.Day, positions.Net...) {
		key := fmt.Sprintf("%s:%s:%s", p.Exchange, p.Tradingsymbol, p.Product)
		if seen[key] || p.Quantity == 0 || p.Product != kiteconnect.ProductMIS {
			continue
		}
		seen[key] = true

		result = append(result, models.BrokerPosition{
			Symbol:       p.Tradingsymbol,
			Exchange:     models.Exchange(p.Exchange),
			Quantity:     int(p.Quantity),
			AveragePrice: p.AveragePrice,
			LastPrice:    p.LastPrice,
			PnL:          (p.LastPrice - p.AveragePrice) * float64(p.Quantity),
		})
	}

	return result, nil
}

// PlaceOrder places a new intraday order.
func (z *ZerodhaBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	params := kiteconnect.OrderParams{
		Exchange:        string(req.Exchange),
		Tradingsymbol:   req.Symbol,
		TransactionType: string(req.Side),
		OrderType:       string(req.Type),
		Product:         kiteconnect.ProductMIS,
		Quantity:        req.Quantity,
		Price:           req.Price,
		TriggerPrice:    req.TriggerPrice,
		Validity:        "DAY",
		Tag:             req.Tag,
	}

	resp, err := z.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return nil, apperrors.NewBrokerError("ORDER", "failed to place order", err)
	}

	return &OrderResult{
		BrokerOrderID: resp.OrderID,
		Status:        "PLACED",
		Message:       "Order placed successfully",
	}, nil
}

// CancelOrder cancels an existing order.
func (z *ZerodhaBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if !z.IsAuthenticated() {
		return apperrors.ErrNotAuthenticated
	}

	if _, err := z.client.CancelOrder(kiteconnect.VarietyRegular, brokerOrderID, nil); err != nil {
		return apperrors.NewBrokerError("ORDER", "failed to cancel order", err)
	}

	return nil
}

// GetOrderStatus fetches the brokerage-reported state of an order.
func (z *ZerodhaBroker) GetOrderStatus(ctx context.Context, brokerOrderID string) (*OrderState, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	history, err := z.client.GetOrderHistory(brokerOrderID)
	if err != nil {
		return nil, apperrors.NewBrokerError("ORDER", "failed to get order history", err)
	}
	if len(history) == 0 {
		return nil, apperrors.NewBrokerError("ORDER", fmt.Sprintf("order not found: %s", brokerOrderID), nil)
	}

	latest := history[len(history)-1]
	return &OrderState{
		BrokerOrderID: brokerOrderID,
		Status:        mapOrderStatus(latest.Status),
		FilledQty:     int(latest.FilledQuantity),
		AveragePrice:  latest.AveragePrice,
		Message:       latest.StatusMessage,
	}, nil
}

func quoteKey(symbol string) string {
	return fmt.Sprintf("NSE:%s", symbol)
}

func mapInterval(interval string) string {
	switch interval {
	case "1min":
		return "minute"
	case "5min":
		return "5minute"
	case "15min":
		return "15minute"
	case "30min":
		return "30minute"
	default:
		return "5minute"
	}
}

func mapOrderStatus(status string) models.OrderStatus {
	switch status {
	case "COMPLETE":
		return models.OrderFilled
	case "REJECTED":
		return models.OrderRejected
	case "CANCELLED":
		return models.OrderCancelled
	default:
		return models.OrderPending
	}
}
