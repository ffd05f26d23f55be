// Package market provides the market snapshot provider consumed by the
// decision loop.
package market

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"intraday-trader/internal/broker"
	apperrors "intraday-trader/internal/errors"
	"intraday-trader/internal/models"
	"intraday-trader/internal/resilience"
	"intraday-trader/pkg/utils"
)

// SnapshotProvider returns the current market view of an instrument.
type SnapshotProvider interface {
	GetSnapshot(ctx context.Context, symbol string) (*models.Snapshot, error)
}

// Provider implements SnapshotProvider on top of the broker, enriching
// the quote with an intraday technical summary.
type Provider struct {
	broker       broker.Broker
	breaker      *resilience.CircuitBreaker
	retry        utils.RetryConfig
	maxAge       time.Duration
	candleWindow time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

// ProviderConfig holds snapshot provider configuration.
type ProviderConfig struct {
	MaxAge       time.Duration
	CandleWindow time.Duration
}

// NewProvider creates a new snapshot provider.
func NewProvider(b broker.Broker, cfg ProviderConfig, logger zerolog.Logger) *Provider {
	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = time.Minute
	}
	candleWindow := cfg.CandleWindow
	if candleWindow == 0 {
		candleWindow = 6 * time.Hour
	}

	return &Provider{
		broker:       b,
		breaker:      resilience.NewCircuitBreaker("market-data", resilience.DefaultCircuitBreakerConfig()),
		retry:        utils.DefaultRetryConfig(),
		maxAge:       maxAge,
		candleWindow: candleWindow,
		logger:       logger,
		now:          time.Now,
	}
}

// GetSnapshot fetches a quote and intraday candles, computes the
// indicator summary, and rejects stale data. Quote and candle fetches
// are idempotent reads and therefore retried with backoff.
func (p *Provider) GetSnapshot(ctx context.Context, symbol string) (*models.Snapshot, error) {
	quote, err := resilience.ExecuteWithResult(p.breaker, ctx, func() (*broker.Quote, error) {
		return utils.RetryWithResult(ctx, p.retry, func() (*broker.Quote, error) {
			return p.broker.GetQuote(ctx, symbol)
		})
	})
	if err != nil {
		return nil, apperrors.NewCycleError(models.ErrKindData, "snapshot", symbol,
			apperrors.Wrap(err, "quote fetch failed"))
	}

	now := p.now()
	if !quote.Timestamp.IsZero() && now.Sub(quote.Timestamp) > p.maxAge {
		return nil, apperrors.NewCycleError(models.ErrKindData, "snapshot", symbol,
			apperrors.Wrapf(apperrors.ErrStaleSnapshot, "quote is %s old", now.Sub(quote.Timestamp)))
	}

	snapshot := &models.Snapshot{
		Symbol:    symbol,
		Price:     quote.LTP,
		Volume:    quote.Volume,
		Timestamp: quote.Timestamp,
	}
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = now
	}

	candles, err := utils.RetryWithResult(ctx, p.retry, func() ([]models.Candle, error) {
		return p.broker.GetIntradayCandles(ctx, symbol, "5min", now.Add(-p.candleWindow), now)
	})
	if err != nil {
		// A missing technical summary degrades the oracle context but
		// does not abort the cycle.
		p.logger.Warn().Err(err).Str("symbol", symbol).Msg("intraday candles unavailable")
		return snapshot, nil
	}

	snapshot.Indicators = Summarize(candles)
	return snapshot, nil
}
