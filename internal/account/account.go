// Package account provides the per-cycle account state provider.
package account

import (
	"context"
	"time"

	"intraday-trader/internal/broker"
	apperrors "intraday-trader/internal/errors"
	"intraday-trader/internal/models"
	"intraday-trader/pkg/utils"
)

// StateProvider returns the current account state. Implementations must
// fetch fresh data on every call; the state is never cached across
// cycles.
type StateProvider interface {
	GetAccountState(ctx context.Context) (*models.AccountState, error)
}

// Provider implements StateProvider on top of the broker.
type Provider struct {
	broker   broker.Broker
	leverage float64
	retry    utils.RetryConfig
	now      func() time.Time
}

// NewProvider creates a new account state provider.
func NewProvider(b broker.Broker, leverage float64) *Provider {
	if leverage < 1 {
		leverage = 1
	}
	return &Provider{
		broker:   b,
		leverage: leverage,
		retry:    utils.DefaultRetryConfig(),
		now:      time.Now,
	}
}

// GetAccountState fetches margins and open positions. Both are
// idempotent reads and retried with backoff.
func (p *Provider) GetAccountState(ctx context.Context) (*models.AccountState, error) {
	margins, err := utils.RetryWithResult(ctx, p.retry, func() (*broker.Margins, error) {
		return p.broker.GetMargins(ctx)
	})
	if err != nil {
		return nil, apperrors.NewCycleError(models.ErrKindData, "account", "",
			apperrors.Wrap(err, "margin fetch failed"))
	}

	positions, err := utils.RetryWithResult(ctx, p.retry, func() ([]models.BrokerPosition, error) {
		return p.broker.GetPositions(ctx)
	})
	if err != nil {
		return nil, apperrors.NewCycleError(models.ErrKindData, "account", "",
			apperrors.Wrap(err, "positions fetch failed"))
	}

	return &models.AccountState{
		AvailableMargin: margins.Available,
		UsedMargin:      margins.Used,
		Leverage:        p.leverage,
		OpenPositions:   positions,
		FetchedAt:       p.now(),
	}, nil
}
