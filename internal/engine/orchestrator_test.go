package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trader/internal/broker"
	"intraday-trader/internal/config"
	apperrors "intraday-trader/internal/errors"
	"intraday-trader/internal/metrics"
	"intraday-trader/internal/models"
	"intraday-trader/internal/oracle"
	"intraday-trader/pkg/utils"

	"github.com/rs/zerolog"
)

// fakeBroker scripts order behavior; market data methods are unused by
// the orchestrator (snapshots come from fakeMarket).
type fakeBroker struct {
	mu           sync.Mutex
	placeErr     error
	fillQty      int
	avgPrice     float64
	stayPending  bool
	placed       []broker.OrderRequest
	cancelled    []string
	orderCounter int
}

func (f *fakeBroker) Login(ctx context.Context) error { return nil }
func (f *fakeBroker) IsAuthenticated() bool           { return true }
func (f *fakeBroker) GetQuote(ctx context.Context, symbol string) (*broker.Quote, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeBroker) GetIntradayCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]models.Candle, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeBroker) GetInstrument(ctx context.Context, symbol string, exchange models.Exchange) (*models.Instrument, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeBroker) GetLTP(ctx context.Context, symbols []string) (map[string]float64, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeBroker) GetMargins(ctx context.Context) (*broker.Margins, error) {
	return &broker.Margins{Available: 100000}, nil
}
func (f *fakeBroker) GetPositions(ctx context.Context) ([]models.BrokerPosition, error) {
	return nil, nil
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.orderCounter++
	f.placed = append(f.placed, req)
	return &broker.OrderResult{BrokerOrderID: "B1", Status: "OPEN"}, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, brokerOrderID)
	return nil
}

func (f *fakeBroker) GetOrderStatus(ctx context.Context, brokerOrderID string) (*broker.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stayPending && len(f.cancelled) == 0 {
		return &broker.OrderState{BrokerOrderID: brokerOrderID, Status: models.OrderPending}, nil
	}
	if f.stayPending {
		return &broker.OrderState{BrokerOrderID: brokerOrderID, Status: models.OrderCancelled, Message: "cancelled"}, nil
	}
	return &broker.OrderState{
		BrokerOrderID: brokerOrderID,
		Status:        models.OrderFilled,
		FilledQty:     f.fillQty,
		AveragePrice:  f.avgPrice,
	}, nil
}

type fakeAccount struct {
	state       models.AccountState
	err         error
	calls       int
	sawDeadline bool
}

func (f *fakeAccount) GetAccountState(ctx context.Context) (*models.AccountState, error) {
	f.calls++
	_, f.sawDeadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	s := f.state
	return &s, nil
}

type fakeMarket struct {
	snapshot    *models.Snapshot
	err         error
	sawDeadline bool
}

func (f *fakeMarket) GetSnapshot(ctx context.Context, symbol string) (*models.Snapshot, error) {
	_, f.sawDeadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	s := *f.snapshot
	return &s, nil
}

type fakeNews struct {
	excerpt string
	err     error
	queries []string
}

func (f *fakeNews) Headlines(ctx context.Context, query string) (string, error) {
	f.queries = append(f.queries, query)
	return f.excerpt, f.err
}

type fakeOracle struct {
	mu        sync.Mutex
	directive models.Directive
	err       error
	calls     int
	lastReq   oracle.DecisionRequest
}

func (f *fakeOracle) Decide(ctx context.Context, req oracle.DecisionRequest) (models.Directive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	return f.directive, f.err
}

func (f *fakeOracle) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeOracle) LastReq() oracle.DecisionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

type fakeLedger struct {
	mu      sync.Mutex
	records []models.CycleRecord
}

func (f *fakeLedger) Append(ctx context.Context, record *models.CycleRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *record)
	return nil
}

func (f *fakeLedger) GetByTimestamp(ctx context.Context, at time.Time) (*models.CycleRecord, error) {
	return nil, errors.New("not found")
}

func (f *fakeLedger) GetRecent(ctx context.Context, symbol string, day time.Time, limit int) ([]models.CycleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := len(f.records) - limit
	if start < 0 {
		start = 0
	}
	return append([]models.CycleRecord(nil), f.records[start:]...), nil
}

func (f *fakeLedger) GetDay(ctx context.Context, day time.Time) ([]models.CycleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CycleRecord(nil), f.records...), nil
}

func (f *fakeLedger) Close() error { return nil }

func (f *fakeLedger) last(t *testing.T) models.CycleRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.records)
	return f.records[len(f.records)-1]
}

type harness struct {
	orch    *Orchestrator
	broker  *fakeBroker
	oracle  *fakeOracle
	ledger  *fakeLedger
	market  *fakeMarket
	account *fakeAccount
}

// tradingTime returns a weekday instant at the given IST clock time.
func tradingTime(hour, minute int) time.Time {
	return time.Date(2026, time.August, 28, hour, minute, 0, 0, utils.IndiaLocation)
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()

	cfg := &config.Config{
		Trading: config.TradingConfig{
			Mode:             "paper",
			CycleInterval:    100 * time.Second,
			OrderFillTimeout: 50 * time.Millisecond,
			CallTimeout:      30 * time.Second,
		},
		Risk: config.RiskConfig{
			Leverage:             5,
			PerTradeRiskFraction: 0.01,
			MinMargin:            1000,
			MaxCapitalAtRisk:     1000000,
			MaxPositionValue:     100000,
			MaxTradesPerDay:      20,
			MinConfidence:        0.75,
			RejectHaltThreshold:  3,
		},
		Oracle: config.OracleConfig{RecentRecordWindow: 5},
	}

	fb := &fakeBroker{fillQty: 500, avgPrice: 100}
	fo := &fakeOracle{directive: models.HoldDirective("RELIANCE", now)}
	fl := &fakeLedger{}
	fm := &fakeMarket{snapshot: &models.Snapshot{
		Symbol:    "RELIANCE",
		Price:     100,
		Timestamp: now,
	}}
	fa := &fakeAccount{state: models.AccountState{
		AvailableMargin: 100000,
		Leverage:        5,
		FetchedAt:       now,
	}}

	orch := NewOrchestrator(Deps{
		Config:     cfg,
		Logger:     zerolog.Nop(),
		Session:    utils.DefaultSession(),
		Instrument: models.Instrument{Symbol: "RELIANCE", Exchange: models.NSE, LotSize: 1},
		Broker:     fb,
		Market:     fm,
		Account:    fa,
		Oracle:     fo,
		Ledger:     fl,
		Metrics:    metrics.NewUnregistered(),
	})
	orch.now = func() time.Time { return now }
	orch.executor.pollInterval = time.Millisecond
	orch.executor.fillTimeout = 50 * time.Millisecond

	return &harness{orch: orch, broker: fb, oracle: fo, ledger: fl, market: fm, account: fa}
}

func (h *harness) openPosition(t *testing.T) {
	t.Helper()
	require.NoError(t, h.orch.machine.RequestEntry(models.Position{
		ID:         "pos-1",
		Instrument: models.Instrument{Symbol: "RELIANCE", Exchange: models.NSE},
		Side:       models.PositionLong,
		EntryPrice: 100,
		Quantity:   500,
		StopLoss:   98,
		Target:     104,
	}))
	require.NoError(t, h.orch.machine.ConfirmEntry(500, 100, tradingTime(10, 0)))
}

func TestRunCycle_SuccessfulEntry(t *testing.T) {
	h := newHarness(t, tradingTime(11, 0))
	h.oracle.directive = models.Directive{
		Action:     models.ActionBuy,
		Symbol:     "RELIANCE",
		Entry:      100,
		StopLoss:   98,
		Target:     104,
		Confidence: 0.9,
	}

	rec, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, models.StateFlat, rec.StateBefore)
	assert.Equal(t, models.StateOpen, rec.StateAfter)
	require.NotNil(t, rec.Order)
	assert.Equal(t, models.OrderFilled, rec.Order.Status)
	assert.Equal(t, 500, rec.Order.Quantity)
	assert.Equal(t, 1, h.orch.TradesToday())

	pos := h.orch.machine.Position()
	require.NotNil(t, pos)
	assert.Equal(t, 500, pos.Quantity)
}

func TestRunCycle_HoldDoesNothing(t *testing.T) {
	h := newHarness(t, tradingTime(11, 0))

	rec, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StateFlat, rec.StateAfter)
	assert.Nil(t, rec.Order)
	assert.Empty(t, h.broker.placed)
}

func TestRunCycle_OracleFailureRecordsHold(t *testing.T) {
	h := newHarness(t, tradingTime(11, 0))
	h.oracle.err = apperrors.NewCycleError(models.ErrKindOracle, "decide", "RELIANCE",
		apperrors.ErrOracleMalformed)

	rec, err := h.orch.RunCycle(context.Background())
	require.Error(t, err)

	assert.Equal(t, models.ErrKindOracle, rec.ErrKind)
	assert.Equal(t, models.StateFlat, rec.StateAfter)
	require.NotNil(t, rec.Directive)
	assert.Equal(t, models.ActionHold, rec.Directive.Action)
	assert.Empty(t, h.broker.placed)

	stored := h.ledger.last(t)
	assert.Equal(t, models.ErrKindOracle, stored.ErrKind)
}

func TestRunCycle_RiskRejectionRecorded(t *testing.T) {
	h := newHarness(t, tradingTime(11, 0))
	h.oracle.directive = models.Directive{
		Action:     models.ActionBuy,
		Symbol:     "RELIANCE",
		Entry:      100,
		StopLoss:   98,
		Confidence: 0.40, // below minimum
	}

	rec, err := h.orch.RunCycle(context.Background())
	require.Error(t, err)

	assert.Equal(t, models.ErrKindRisk, rec.ErrKind)
	require.NotNil(t, rec.Verdict)
	assert.False(t, rec.Verdict.Approved)
	assert.Equal(t, models.StateFlat, rec.StateAfter)
	assert.Empty(t, h.broker.placed)
}

func TestRunCycle_OrderTimeoutReturnsToFlat(t *testing.T) {
	h := newHarness(t, tradingTime(11, 0))
	h.broker.stayPending = true
	h.orch.executor.now = time.Now // real clock for the fill deadline
	h.oracle.directive = models.Directive{
		Action:     models.ActionBuy,
		Symbol:     "RELIANCE",
		Entry:      100,
		StopLoss:   98,
		Confidence: 0.9,
	}

	rec, err := h.orch.RunCycle(context.Background())
	require.Error(t, err)

	assert.Equal(t, models.ErrKindOrder, rec.ErrKind)
	assert.Equal(t, models.StateFlat, rec.StateAfter)
	require.NotNil(t, rec.Order)
	assert.Equal(t, models.OrderCancelled, rec.Order.Status)
	assert.NotEmpty(t, h.broker.cancelled, "timed-out order must be cancelled")
	assert.Zero(t, h.orch.TradesToday())
}

func TestRunCycle_RepeatedOrderFailuresHalt(t *testing.T) {
	h := newHarness(t, tradingTime(11, 0))
	h.broker.placeErr = errors.New("exchange rejected")
	h.oracle.directive = models.Directive{
		Action:     models.ActionBuy,
		Symbol:     "RELIANCE",
		Entry:      100,
		StopLoss:   98,
		Confidence: 0.9,
	}

	for i := 0; i < 3; i++ {
		_, err := h.orch.RunCycle(context.Background())
		require.Error(t, err)
	}

	halted, reason := h.orch.Halted()
	assert.True(t, halted)
	assert.Contains(t, reason, "consecutive order failures")

	// Halted: further cycles are skipped without recording.
	before := len(h.ledger.records)
	rec, err := h.orch.RunCycle(context.Background())
	require.ErrorIs(t, err, apperrors.ErrTradingHalted)
	assert.Nil(t, rec)
	assert.Len(t, h.ledger.records, before)

	h.orch.Reset()
	halted, _ = h.orch.Halted()
	assert.False(t, halted)
}

func TestRunCycle_EODSquareOffBypassesOracle(t *testing.T) {
	h := newHarness(t, tradingTime(15, 15)) // past the 15:10 square-off
	h.openPosition(t)
	h.broker.avgPrice = 102

	rec, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Zero(t, h.oracle.Calls(), "EOD exit must not consult the oracle")
	assert.Equal(t, models.StateOpen, rec.StateBefore)
	assert.Equal(t, models.StateFlat, rec.StateAfter)
	require.NotNil(t, rec.Directive)
	assert.Equal(t, models.ActionExit, rec.Directive.Action)
	assert.True(t, rec.Directive.Synthetic)
	assert.InDelta(t, 1000.0, rec.RealizedPnL, 1e-9) // (102-100)*500

	require.Len(t, h.broker.placed, 1)
	assert.Equal(t, models.OrderSideSell, h.broker.placed[0].Side)
}

func TestRunCycle_EODSquareOffFlatIsQuiet(t *testing.T) {
	h := newHarness(t, tradingTime(15, 15))

	rec, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Zero(t, h.oracle.Calls())
	assert.Empty(t, h.broker.placed)
	assert.Equal(t, models.StateFlat, rec.StateAfter)
}

func TestRunCycle_EODSquareOffSurvivesAccountOutage(t *testing.T) {
	h := newHarness(t, tradingTime(15, 15))
	h.openPosition(t)
	h.account.err = errors.New("margin api unreachable")
	h.broker.avgPrice = 101

	rec, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	// The forced exit must go through on the stale account view.
	assert.Equal(t, models.StateFlat, rec.StateAfter)
	require.Len(t, h.broker.placed, 1)
	assert.Equal(t, models.OrderSideSell, h.broker.placed[0].Side)
	assert.InDelta(t, 500.0, rec.RealizedPnL, 1e-9)

	// The fetch failure is still on the record.
	assert.Equal(t, models.ErrKindData, rec.ErrKind)
	assert.Contains(t, rec.ErrDetail, "margin api unreachable")
}

func TestRunCycle_ExternalCallsCarryDeadline(t *testing.T) {
	h := newHarness(t, tradingTime(11, 0))

	_, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, h.account.sawDeadline, "account call must carry the per-call timeout")
	assert.True(t, h.market.sawDeadline, "snapshot call must carry the per-call timeout")
}

func TestRunCycle_ExitWhileFlatRecordsOracleError(t *testing.T) {
	h := newHarness(t, tradingTime(11, 0))
	h.oracle.directive = models.Directive{
		Action:     models.ActionExit,
		Symbol:     "RELIANCE",
		Confidence: 0.9,
	}

	rec, err := h.orch.RunCycle(context.Background())
	require.Error(t, err)

	assert.Equal(t, models.ErrKindOracle, rec.ErrKind)
	assert.Equal(t, models.StateFlat, rec.StateAfter)
	assert.Empty(t, h.broker.placed)

	halted, _ := h.orch.Halted()
	assert.False(t, halted, "a context-confused oracle must not end the day")
}

func TestRunCycle_NewsFedToOracle(t *testing.T) {
	h := newHarness(t, tradingTime(11, 0))
	fn := &fakeNews{excerpt: "- Board approves buyback (ET, Aug 27)"}
	h.orch.news = fn

	_, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"RELIANCE"}, fn.queries)
	assert.Equal(t, fn.excerpt, h.oracle.LastReq().News)
}

func TestRunCycle_NewsFailureDoesNotBlockCycle(t *testing.T) {
	h := newHarness(t, tradingTime(11, 0))
	h.orch.news = &fakeNews{err: errors.New("news api down")}

	rec, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ErrKindNone, rec.ErrKind)
	assert.Equal(t, 1, h.oracle.Calls())
	assert.Empty(t, h.oracle.LastReq().News)
}

func TestRunCycle_StopBreachForcesExit(t *testing.T) {
	h := newHarness(t, tradingTime(11, 0))
	h.openPosition(t)
	h.market.snapshot.Price = 97.50 // through the 98 stop
	h.broker.avgPrice = 97.40

	rec, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Zero(t, h.oracle.Calls(), "breach exit must not consult the oracle")
	assert.Equal(t, models.StateFlat, rec.StateAfter)
	require.NotNil(t, rec.Directive)
	assert.Equal(t, models.ActionExit, rec.Directive.Action)
	assert.True(t, rec.RealizedPnL < 0)
}

func TestRunCycle_SkippedOutsideMarketHours(t *testing.T) {
	h := newHarness(t, tradingTime(8, 0))

	rec, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, h.ledger.records)
}

func TestTick_OverrunIsRecordedAndSkipped(t *testing.T) {
	h := newHarness(t, tradingTime(11, 0))

	h.orch.inFlight.Store(true)
	h.orch.tick(context.Background())

	stored := h.ledger.last(t)
	assert.Equal(t, models.ErrKindCycleSkip, stored.ErrKind)
	assert.Equal(t, stored.StateBefore, stored.StateAfter)
	assert.Zero(t, h.oracle.Calls())
}
