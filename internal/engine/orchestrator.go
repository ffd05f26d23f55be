package engine

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"intraday-trader/internal/account"
	"intraday-trader/internal/broker"
	"intraday-trader/internal/config"
	apperrors "intraday-trader/internal/errors"
	"intraday-trader/internal/ledger"
	"intraday-trader/internal/logging"
	"intraday-trader/internal/market"
	"intraday-trader/internal/metrics"
	"intraday-trader/internal/models"
	"intraday-trader/internal/news"
	"intraday-trader/internal/oracle"
	"intraday-trader/pkg/utils"
)

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Session    utils.Session
	Instrument models.Instrument
	Broker     broker.Broker
	Market     market.SnapshotProvider
	Account    account.StateProvider
	Oracle     oracle.Oracle
	Ledger     ledger.DecisionLedger
	Metrics    *metrics.Metrics
	// News is optional; without it the oracle decides on market and
	// account context alone.
	News news.Provider
}

// Orchestrator runs the cyclic decision loop for one instrument: fetch
// account and market state, consult the oracle, apply risk rules,
// drive the position state machine and record every cycle in the
// ledger. Cycles are single-flight; a tick that arrives while the
// previous cycle is still running is recorded as an overrun and
// skipped.
type Orchestrator struct {
	cfg        *config.Config
	logger     zerolog.Logger
	session    utils.Session
	instrument models.Instrument

	market   market.SnapshotProvider
	account  account.StateProvider
	oracle   oracle.Oracle
	news     news.Provider
	risk     *RiskManager
	machine  *StateMachine
	executor *OrderExecutor
	ledger   ledger.DecisionLedger
	metrics  *metrics.Metrics

	entropy *ulid.MonotonicEntropy
	now     func() time.Time

	inFlight atomic.Bool
	cycleSeq atomic.Int64

	mu           sync.Mutex
	halted       bool
	haltReason   string
	tradesToday  int
	rejectStreak int
	dayPnL       float64
	currentDay   string
}

// NewOrchestrator creates the decision loop.
func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:        deps.Config,
		logger:     deps.Logger.With().Str("component", "orchestrator").Logger(),
		session:    deps.Session,
		instrument: deps.Instrument,
		market:     deps.Market,
		account:    deps.Account,
		oracle:     deps.Oracle,
		news:       deps.News,
		risk:       NewRiskManager(deps.Config.Risk),
		machine:    NewStateMachine(),
		executor:   NewOrderExecutor(deps.Broker, deps.Config.Trading.OrderFillTimeout, deps.Config.Trading.CallTimeout, deps.Logger),
		ledger:     deps.Ledger,
		metrics:    deps.Metrics,
		entropy:    ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		now:        time.Now,
	}
}

// Machine exposes the position state machine for status reporting.
func (o *Orchestrator) Machine() *StateMachine {
	return o.machine
}

// Halted reports whether trading is halted and why.
func (o *Orchestrator) Halted() (bool, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.halted, o.haltReason
}

// Reset clears a trading halt. Manual intervention only; the caller is
// expected to have reconciled the account with the brokerage first.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.halted = false
	o.haltReason = ""
	o.rejectStreak = 0
	o.metrics.Halted.Set(0)
	o.logger.Warn().Msg("Trading halt cleared by manual reset")
}

// TradesToday returns the number of filled trades so far today.
func (o *Orchestrator) TradesToday() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tradesToday
}

// DayPnL returns the realized P&L for the trading day.
func (o *Orchestrator) DayPnL() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dayPnL
}

// Run executes decision cycles at the configured fixed interval until
// the context is cancelled or the trading day is over. The first cycle
// runs immediately.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info().
		Str("symbol", o.instrument.Symbol).
		Dur("interval", o.cfg.Trading.CycleInterval).
		Msg("Decision loop started")

	ticker := time.NewTicker(o.cfg.Trading.CycleInterval)
	defer ticker.Stop()

	o.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("Decision loop stopped")
			return ctx.Err()
		case <-ticker.C:
			o.tick(ctx)
			if o.dayDone() {
				o.logger.Info().
					Int("trades", o.TradesToday()).
					Float64("realized_pnl", o.DayPnL()).
					Msg("Trading day complete")
				return nil
			}
		}
	}
}

// tick runs one cycle under the single-flight guard. A tick that finds
// the previous cycle still in flight is recorded as an overrun and
// dropped; cycles are never queued.
func (o *Orchestrator) tick(ctx context.Context) {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.recordOverrun(ctx)
		return
	}
	defer o.inFlight.Store(false)

	if _, err := o.RunCycle(ctx); err != nil && !apperrors.Is(err, apperrors.ErrTradingHalted) {
		logging.LogCycleError(o.logger, string(apperrors.KindOf(err)), o.instrument.Symbol, err)
	}
}

func (o *Orchestrator) recordOverrun(ctx context.Context) {
	state := o.machine.State()
	rec := &models.CycleRecord{
		CycleAt:     o.now(),
		Symbol:      o.instrument.Symbol,
		StateBefore: state,
		StateAfter:  state,
		ErrKind:     models.ErrKindCycleSkip,
		ErrDetail:   "previous cycle still running, tick skipped",
	}
	o.metrics.CycleOverruns.Inc()
	o.logger.Warn().Msg("Cycle overrun, tick skipped")
	if err := o.ledger.Append(ctx, rec); err != nil {
		o.logger.Error().Err(err).Msg("failed to record cycle overrun")
	}
}

func (o *Orchestrator) dayDone() bool {
	return o.session.StatusAt(o.now()) == models.MarketClosed &&
		o.machine.State() == models.StateFlat
}

// RunCycle executes exactly one decision cycle and appends its record
// to the ledger. Outside trading hours with nothing to do it returns
// (nil, nil) without recording; while halted it returns
// ErrTradingHalted without recording.
func (o *Orchestrator) RunCycle(ctx context.Context) (*models.CycleRecord, error) {
	if halted, reason := o.Halted(); halted {
		o.logger.Warn().Str("reason", reason).Msg("Trading halted, cycle skipped")
		return nil, apperrors.ErrTradingHalted
	}

	now := o.now()
	o.rolloverDay(now)

	status := o.session.StatusAt(now)
	if status == models.MarketPreOpen ||
		(status == models.MarketClosed && o.machine.State() == models.StateFlat) {
		o.logger.Debug().Str("market", string(status)).Msg("Market not open, cycle skipped")
		return nil, nil
	}

	seq := o.cycleSeq.Add(1)
	logger := logging.WithCycle(o.logger, seq)

	rec := &models.CycleRecord{
		ID:          ulid.MustNew(ulid.Timestamp(now), o.entropy).String(),
		CycleAt:     now,
		Symbol:      o.instrument.Symbol,
		StateBefore: o.machine.State(),
	}

	err := o.cycle(ctx, logger, rec)
	rec.StateAfter = o.machine.State()
	if err != nil {
		rec.ErrKind = apperrors.KindOf(err)
		rec.ErrDetail = err.Error()
		o.metrics.CycleErrorsTotal.WithLabelValues(string(rec.ErrKind)).Inc()
	}

	o.metrics.CyclesTotal.Inc()
	o.metrics.SetPositionState(string(rec.StateAfter))

	if appendErr := o.ledger.Append(ctx, rec); appendErr != nil {
		logger.Error().Err(appendErr).Msg("failed to append cycle record")
	}
	return rec, err
}

// cycle runs the decision pipeline, filling rec as stages complete so
// an abort still leaves a faithful record of how far the cycle got.
func (o *Orchestrator) cycle(ctx context.Context, logger zerolog.Logger, rec *models.CycleRecord) error {
	// EOD square-off bypasses the oracle entirely: the exit is not a
	// decision, it is an obligation. It runs before any fetch that can
	// fail; a dead margin API must not keep a position open overnight.
	if o.session.SquareOffDue(rec.CycleAt) {
		if o.machine.State() != models.StateOpen {
			logger.Debug().Msg("Square-off window, no open position")
			return nil
		}
		if acct, err := o.fetchAccount(ctx); err != nil {
			rec.ErrKind = models.ErrKindData
			rec.ErrDetail = err.Error()
			logger.Warn().Err(err).Msg("Account state unavailable, forcing exit regardless")
		} else {
			rec.Account = *acct
		}
		directive := models.ExitDirective(o.instrument.Symbol, rec.CycleAt)
		rec.Directive = &directive
		verdict := o.risk.Evaluate(EvaluationInput{
			Directive: directive,
			Account:   rec.Account,
			State:     o.machine.State(),
			Position:  o.machine.Position(),
		})
		rec.Verdict = &verdict
		logger.Info().Msg("EOD square-off, forcing exit")
		return o.exit(ctx, logger, rec)
	}

	acct, err := o.fetchAccount(ctx)
	if err != nil {
		return err
	}
	rec.Account = *acct

	snapshot, err := o.fetchSnapshot(ctx)
	if err != nil {
		return err
	}
	rec.Snapshot = snapshot

	directive, derr := o.decide(ctx, logger, rec, snapshot)
	rec.Directive = &directive
	o.metrics.OracleCostINR.Add(directive.Usage.CostINR)
	if derr != nil {
		// The directive is already the deterministic HOLD fallback;
		// record the failure and sit this cycle out.
		return derr
	}

	logging.LogDirective(logger, directive.Symbol, string(directive.Action), directive.Confidence, directive.Reasoning)

	// While a position is open, a HOLD may still carry tighter
	// protective levels.
	if o.machine.State() == models.StateOpen && directive.Action == models.ActionHold &&
		(directive.StopLoss > 0 || directive.Target > 0) {
		if err := o.machine.TightenStops(directive.StopLoss, directive.Target); err != nil {
			return o.halt(err)
		}
	}

	verdict := o.risk.Evaluate(EvaluationInput{
		Directive:   directive,
		Account:     *acct,
		State:       o.machine.State(),
		Position:    o.machine.Position(),
		LotSize:     o.instrument.LotSize,
		TradesToday: o.TradesToday(),
	})
	rec.Verdict = &verdict
	if !verdict.Approved {
		return apperrors.NewCycleError(models.ErrKindRisk, "risk", o.instrument.Symbol,
			apperrors.Wrap(apperrors.ErrRiskRejected, verdict.Reason))
	}

	switch directive.Action {
	case models.ActionHold:
		return nil
	case models.ActionBuy, models.ActionSell:
		return o.enter(ctx, logger, rec, directive, verdict)
	case models.ActionExit:
		// An EXIT with nothing open is a context-confused oracle, not a
		// machine fault; record it and sit the cycle out.
		if o.machine.State() != models.StateOpen {
			return apperrors.NewCycleError(models.ErrKindOracle, "decide", o.instrument.Symbol,
				apperrors.Wrap(apperrors.ErrOracleMalformed, "EXIT directive with no open position"))
		}
		return o.exit(ctx, logger, rec)
	}
	return nil
}

// callCtx bounds one external call with the configured per-call
// timeout, so a single hung API call cannot stall the loop.
func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if t := o.cfg.Trading.CallTimeout; t > 0 {
		return context.WithTimeout(ctx, t)
	}
	return ctx, func() {}
}

func (o *Orchestrator) fetchAccount(ctx context.Context) (*models.AccountState, error) {
	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	return o.account.GetAccountState(cctx)
}

func (o *Orchestrator) fetchSnapshot(ctx context.Context) (*models.Snapshot, error) {
	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	return o.market.GetSnapshot(cctx, o.instrument.Symbol)
}

// decide produces the cycle's directive. A stop or target breach forces
// a synthetic exit without consulting the oracle; otherwise the oracle
// is called with the recent ledger window as short-term memory.
func (o *Orchestrator) decide(ctx context.Context, logger zerolog.Logger, rec *models.CycleRecord, snapshot *models.Snapshot) (models.Directive, error) {
	if o.machine.Breached(snapshot.Price) {
		pos := o.machine.Position()
		logger.Info().
			Float64("price", snapshot.Price).
			Float64("stop", pos.StopLoss).
			Float64("target", pos.Target).
			Msg("Protective level breached, forcing exit")
		return models.ExitDirective(o.instrument.Symbol, rec.CycleAt), nil
	}

	recent, err := o.ledger.GetRecent(ctx, o.instrument.Symbol, rec.CycleAt, o.cfg.Oracle.RecentRecordWindow)
	if err != nil {
		logger.Warn().Err(err).Msg("recent ledger window unavailable")
	}

	req := oracle.DecisionRequest{
		Instrument: o.instrument,
		Snapshot:   *snapshot,
		Account:    rec.Account,
		Position:   o.machine.Position(),
		Recent:     recent,
	}

	// News is best-effort context; a dead news feed never blocks a cycle.
	if o.news != nil {
		if excerpt, err := o.fetchNews(ctx); err != nil {
			logger.Warn().Err(err).Msg("news unavailable")
		} else {
			req.News = excerpt
		}
	}

	return o.oracle.Decide(ctx, req)
}

func (o *Orchestrator) fetchNews(ctx context.Context) (string, error) {
	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	query := o.instrument.Name
	if query == "" {
		query = o.instrument.Symbol
	}
	return o.news.Headlines(cctx, query)
}

// enter opens a position: stage it on the state machine, place the
// entry order and confirm or unwind based on the fill.
func (o *Orchestrator) enter(ctx context.Context, logger zerolog.Logger, rec *models.CycleRecord, directive models.Directive, verdict models.RiskVerdict) error {
	side := models.PositionLong
	if directive.Action == models.ActionSell {
		side = models.PositionShort
	}
	pos := models.Position{
		ID:         ulid.MustNew(ulid.Timestamp(rec.CycleAt), o.entropy).String(),
		Instrument: o.instrument,
		Side:       side,
		EntryPrice: directive.Entry,
		Quantity:   verdict.Quantity,
		StopLoss:   directive.StopLoss,
		Target:     directive.Target,
	}

	if err := o.machine.RequestEntry(pos); err != nil {
		return o.halt(err)
	}
	logging.LogTransition(logger, pos.Instrument.Symbol, string(rec.StateBefore), string(models.StateEntryPending))

	order, execErr := o.executor.Execute(ctx, broker.OrderRequest{
		Symbol:   o.instrument.Symbol,
		Exchange: o.instrument.Exchange,
		Side:     side.EntrySide(),
		Type:     models.OrderTypeMarket,
		Quantity: verdict.Quantity,
		Tag:      "entry",
	}, pos.ID)
	rec.Order = order
	o.metrics.OrdersTotal.WithLabelValues(string(order.Side), string(order.Status)).Inc()
	logging.LogOrder(logger, order.ID, order.Symbol, string(order.Side), string(order.Status))

	if execErr != nil && order.FilledQty == 0 {
		return o.entryFailed(ctx, logger, rec, execErr)
	}

	// A cancelled order that partially filled still opened a position;
	// the remainder stays cancelled.
	if err := o.machine.ConfirmEntry(order.FilledQty, order.AveragePrice, o.now()); err != nil {
		return o.halt(err)
	}
	if execErr != nil {
		logger.Warn().
			Int("filled", order.FilledQty).
			Int("requested", order.Quantity).
			Msg("Entry partially filled, remainder cancelled")
	}

	o.mu.Lock()
	o.tradesToday++
	o.rejectStreak = 0
	o.metrics.TradesToday.Set(float64(o.tradesToday))
	o.mu.Unlock()

	logging.LogTransition(logger, pos.Instrument.Symbol, string(models.StateEntryPending), string(models.StateOpen))
	return nil
}

// entryFailed unwinds a failed entry: the true account state is now
// unknown, so it is re-queried before the machine returns to FLAT.
// Repeated consecutive order failures escalate to a trading halt.
func (o *Orchestrator) entryFailed(ctx context.Context, logger zerolog.Logger, rec *models.CycleRecord, execErr error) error {
	if err := o.machine.FailEntry(); err != nil {
		return o.halt(err)
	}

	if acct, err := o.fetchAccount(ctx); err != nil {
		logger.Error().Err(err).Msg("account re-query after failed entry failed")
	} else {
		rec.Account = *acct
	}

	if err := o.machine.ClearRejected(); err != nil {
		return o.halt(err)
	}

	o.mu.Lock()
	o.rejectStreak++
	streak := o.rejectStreak
	o.mu.Unlock()

	if threshold := o.cfg.Risk.RejectHaltThreshold; threshold > 0 && streak >= threshold {
		return o.halt(apperrors.Wrapf(execErr, "%d consecutive order failures", streak))
	}
	return execErr
}

// exit closes the open position with a market order on the opposite
// side. A failed exit returns the machine to OPEN so the next cycle
// (or the EOD square-off) retries it.
func (o *Orchestrator) exit(ctx context.Context, logger zerolog.Logger, rec *models.CycleRecord) error {
	pos := o.machine.Position()
	if err := o.machine.RequestExit(); err != nil {
		return o.halt(err)
	}
	logging.LogTransition(logger, pos.Instrument.Symbol, string(models.StateOpen), string(models.StateExitPending))

	order, execErr := o.executor.Execute(ctx, broker.OrderRequest{
		Symbol:   o.instrument.Symbol,
		Exchange: o.instrument.Exchange,
		Side:     pos.Side.EntrySide().Opposite(),
		Type:     models.OrderTypeMarket,
		Quantity: pos.Quantity,
		Tag:      "exit",
	}, pos.ID)
	rec.Order = order
	o.metrics.OrdersTotal.WithLabelValues(string(order.Side), string(order.Status)).Inc()
	logging.LogOrder(logger, order.ID, order.Symbol, string(order.Side), string(order.Status))

	if execErr != nil && order.FilledQty < pos.Quantity {
		if order.FilledQty > 0 {
			if _, pnl, err := o.machine.ConfirmPartialExit(order.FilledQty, order.AveragePrice); err != nil {
				return o.halt(err)
			} else {
				o.addRealized(rec, pnl)
				logger.Warn().
					Int("filled", order.FilledQty).
					Int("remaining", pos.Quantity-order.FilledQty).
					Msg("Exit partially filled, position reduced")
			}
		} else if err := o.machine.FailExit(); err != nil {
			return o.halt(err)
		}
		if acct, err := o.fetchAccount(ctx); err == nil {
			rec.Account = *acct
		}
		return execErr
	}

	closed, pnl, err := o.machine.ConfirmExit(order.AveragePrice)
	if err != nil {
		return o.halt(err)
	}
	o.addRealized(rec, pnl)

	o.mu.Lock()
	o.tradesToday++
	o.rejectStreak = 0
	o.metrics.TradesToday.Set(float64(o.tradesToday))
	o.mu.Unlock()

	logger.Info().
		Str("position_id", closed.ID).
		Float64("exit_price", order.AveragePrice).
		Float64("realized_pnl", pnl).
		Msg("Position closed")
	logging.LogTransition(logger, closed.Instrument.Symbol, string(models.StateExitPending), string(models.StateFlat))
	return nil
}

func (o *Orchestrator) addRealized(rec *models.CycleRecord, pnl float64) {
	rec.RealizedPnL += pnl
	o.mu.Lock()
	o.dayPnL += pnl
	o.metrics.RealizedPnL.Set(o.dayPnL)
	o.mu.Unlock()
}

// halt stops all trading until a manual reset. Used for invariant
// violations and repeated order failures, where continuing to trade on
// possibly-wrong state is worse than standing down.
func (o *Orchestrator) halt(cause error) error {
	o.mu.Lock()
	o.halted = true
	o.haltReason = cause.Error()
	o.mu.Unlock()
	o.metrics.Halted.Set(1)
	o.logger.Error().Err(cause).Msg("TRADING HALTED, manual reset required")
	return cause
}

func (o *Orchestrator) rolloverDay(now time.Time) {
	day := now.In(utils.IndiaLocation).Format("2006-01-02")
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.currentDay == day {
		return
	}
	o.currentDay = day
	o.tradesToday = 0
	o.rejectStreak = 0
	o.dayPnL = 0
	o.metrics.TradesToday.Set(0)
	o.metrics.RealizedPnL.Set(0)
}
