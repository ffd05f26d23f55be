package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"intraday-trader/internal/broker"
	apperrors "intraday-trader/internal/errors"
	"intraday-trader/internal/models"
)

// OrderExecutor places orders and tracks them to a terminal status.
// Placement is never retried blindly: after any placement failure the
// true account state is unknown and the caller must re-query it before
// deciding anything else.
type OrderExecutor struct {
	broker       broker.Broker
	fillTimeout  time.Duration
	callTimeout  time.Duration
	pollInterval time.Duration
	logger       zerolog.Logger
	entropy      *ulid.MonotonicEntropy
	now          func() time.Time
}

// NewOrderExecutor creates an executor that polls order status every
// two seconds until fillTimeout elapses. Each brokerage call is bounded
// by callTimeout; a single hung call must not outlive the fill
// deadline unnoticed.
func NewOrderExecutor(b broker.Broker, fillTimeout, callTimeout time.Duration, logger zerolog.Logger) *OrderExecutor {
	if fillTimeout == 0 {
		fillTimeout = 45 * time.Second
	}
	return &OrderExecutor{
		broker:       b,
		fillTimeout:  fillTimeout,
		callTimeout:  callTimeout,
		pollInterval: 2 * time.Second,
		logger:       logger.With().Str("component", "executor").Logger(),
		entropy:      ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		now:          time.Now,
	}
}

func (e *OrderExecutor) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.callTimeout > 0 {
		return context.WithTimeout(ctx, e.callTimeout)
	}
	return ctx, func() {}
}

func (e *OrderExecutor) placeOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.broker.PlaceOrder(cctx, req)
}

func (e *OrderExecutor) orderStatus(ctx context.Context, brokerOrderID string) (*broker.OrderState, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.broker.GetOrderStatus(cctx, brokerOrderID)
}

func (e *OrderExecutor) cancelOrder(ctx context.Context, brokerOrderID string) error {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.broker.CancelOrder(cctx, brokerOrderID)
}

// Execute places the order and polls until it reaches a terminal
// status or the fill timeout expires. On timeout the order is
// cancelled and its final brokerage status re-read, so a fill that
// raced the cancel is still observed. The returned Order always
// reflects the last known brokerage state, even when err is non-nil.
func (e *OrderExecutor) Execute(ctx context.Context, req broker.OrderRequest, positionID string) (*models.Order, error) {
	order := &models.Order{
		ID:           ulid.MustNew(ulid.Timestamp(e.now()), e.entropy).String(),
		PositionID:   positionID,
		Symbol:       req.Symbol,
		Exchange:     req.Exchange,
		Side:         req.Side,
		Type:         req.Type,
		Quantity:     req.Quantity,
		Price:        req.Price,
		TriggerPrice: req.TriggerPrice,
		Status:       models.OrderPending,
		PlacedAt:     e.now(),
	}

	result, err := e.placeOrder(ctx, req)
	if err != nil {
		order.Status = models.OrderRejected
		order.StatusMessage = err.Error()
		return order, apperrors.NewCycleError(models.ErrKindOrder, "place", req.Symbol,
			apperrors.Wrap(err, "order placement failed"))
	}
	order.BrokerOrderID = result.BrokerOrderID

	e.logger.Info().
		Str("order_id", order.ID).
		Str("broker_order_id", order.BrokerOrderID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Int("quantity", order.Quantity).
		Msg("Order placed")

	state, err := e.awaitTerminal(ctx, order.BrokerOrderID)
	if err != nil {
		return e.cancelAndSettle(ctx, order, err)
	}
	applyState(order, state)

	switch order.Status {
	case models.OrderFilled:
		return order, nil
	case models.OrderRejected, models.OrderCancelled:
		return order, apperrors.NewCycleError(models.ErrKindOrder, "fill", order.Symbol,
			apperrors.Wrapf(apperrors.ErrOrderRejected, "order %s: %s", order.Status, order.StatusMessage))
	}
	return order, apperrors.NewCycleError(models.ErrKindOrder, "fill", order.Symbol,
		apperrors.Wrapf(apperrors.ErrOrderRejected, "unexpected terminal status %s", order.Status))
}

// awaitTerminal polls the brokerage until the order reaches a terminal
// status. Status reads are idempotent; individual read failures are
// tolerated until the deadline.
func (e *OrderExecutor) awaitTerminal(ctx context.Context, brokerOrderID string) (*broker.OrderState, error) {
	deadline := e.now().Add(e.fillTimeout)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		state, err := e.orderStatus(ctx, brokerOrderID)
		if err != nil {
			e.logger.Warn().Err(err).Str("broker_order_id", brokerOrderID).Msg("order status read failed")
		} else if state.Status.Terminal() {
			return state, nil
		}

		if e.now().After(deadline) {
			return nil, apperrors.Wrapf(apperrors.ErrOrderTimeout, "no terminal status within %s", e.fillTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// cancelAndSettle cancels a non-terminal order and reads its final
// state. A cancel can race a fill; the final read decides which won.
func (e *OrderExecutor) cancelAndSettle(ctx context.Context, order *models.Order, cause error) (*models.Order, error) {
	if err := e.cancelOrder(ctx, order.BrokerOrderID); err != nil {
		e.logger.Warn().Err(err).Str("broker_order_id", order.BrokerOrderID).Msg("order cancel failed")
	}

	state, err := e.orderStatus(ctx, order.BrokerOrderID)
	if err != nil {
		order.Status = models.OrderCancelled
		order.StatusMessage = cause.Error()
		return order, apperrors.NewCycleError(models.ErrKindOrder, "fill", order.Symbol,
			apperrors.Wrap(cause, "order state unknown after cancel"))
	}
	applyState(order, state)

	if order.Status == models.OrderFilled {
		e.logger.Info().Str("broker_order_id", order.BrokerOrderID).Msg("order filled before cancel took effect")
		return order, nil
	}
	return order, apperrors.NewCycleError(models.ErrKindOrder, "fill", order.Symbol, cause)
}

func applyState(order *models.Order, state *broker.OrderState) {
	order.Status = state.Status
	order.FilledQty = state.FilledQty
	order.AveragePrice = state.AveragePrice
	order.StatusMessage = state.Message
}
