// Package scanner picks the day's trading candidate: filter the
// universe by affordability, summarize each survivor technically and
// let the oracle rank them.
package scanner

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"intraday-trader/internal/broker"
	"intraday-trader/internal/config"
	apperrors "intraday-trader/internal/errors"
	"intraday-trader/internal/market"
	"intraday-trader/internal/models"
	"intraday-trader/internal/oracle"
)

// defaultUniverse is a liquid NSE sample used when no fixed symbols are
// configured.
var defaultUniverse = []string{
	"RELIANCE", "TCS", "HDFCBANK", "INFY", "ICICIBANK",
	"SBIN", "BHARTIARTL", "ITC", "LT", "AXISBANK",
	"TATAMOTORS", "TATASTEEL", "MARUTI", "SUNPHARMA", "WIPRO",
	"ONGC", "NTPC", "POWERGRID", "COALINDIA", "JSWSTEEL",
	"HINDALCO", "ADANIENT", "BAJFINANCE", "KOTAKBANK", "HCLTECH",
}

// Scanner selects the instrument the decision loop will trade today.
type Scanner struct {
	broker   broker.Broker
	selector oracle.Selector
	cfg      config.ScannerConfig
	leverage float64
	logger   zerolog.Logger
	rng      *rand.Rand
	now      func() time.Time
}

// New creates a scanner.
func New(b broker.Broker, selector oracle.Selector, cfg config.ScannerConfig, leverage float64, logger zerolog.Logger) *Scanner {
	return &Scanner{
		broker:   b,
		selector: selector,
		cfg:      cfg,
		leverage: leverage,
		logger:   logger.With().Str("component", "scanner").Logger(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// Pick returns today's instrument. With auto-pick disabled (or when
// ranking fails with a configured fallback) the first fixed symbol is
// used directly.
func (s *Scanner) Pick(ctx context.Context, availableMargin float64) (*models.Instrument, error) {
	if !s.cfg.AutoPick {
		return s.fixed(ctx)
	}

	symbol, err := s.rank(ctx, availableMargin)
	if err != nil {
		if len(s.cfg.FixedSymbols) > 0 {
			s.logger.Warn().Err(err).Msg("auto-pick failed, falling back to fixed symbol")
			return s.fixed(ctx)
		}
		return nil, err
	}
	return s.broker.GetInstrument(ctx, symbol, models.NSE)
}

func (s *Scanner) fixed(ctx context.Context) (*models.Instrument, error) {
	if len(s.cfg.FixedSymbols) == 0 {
		return nil, apperrors.NewCycleError(models.ErrKindData, "scanner", "",
			apperrors.Wrap(apperrors.ErrDataUnavailable, "no fixed symbols configured"))
	}
	return s.broker.GetInstrument(ctx, s.cfg.FixedSymbols[0], models.NSE)
}

// rank filters the universe by affordability, summarizes the cheapest
// survivors and asks the oracle to pick one.
func (s *Scanner) rank(ctx context.Context, availableMargin float64) (string, error) {
	universe := s.universe()

	prices, err := s.broker.GetLTP(ctx, universe)
	if err != nil {
		return "", apperrors.NewCycleError(models.ErrKindData, "scanner", "",
			apperrors.Wrap(err, "universe price fetch failed"))
	}

	affordable := s.affordable(prices, availableMargin)
	if len(affordable) == 0 {
		return "", apperrors.NewCycleError(models.ErrKindData, "scanner", "",
			apperrors.Wrapf(apperrors.ErrDataUnavailable,
				"no affordable instruments with margin %.2f at %.1fx leverage", availableMargin, s.leverage))
	}

	candidates := s.summarize(ctx, affordable, prices)
	if len(candidates) == 0 {
		return "", apperrors.NewCycleError(models.ErrKindData, "scanner", "",
			apperrors.Wrap(apperrors.ErrDataUnavailable, "no candidates could be summarized"))
	}

	selection, err := s.selector.SelectInstrument(ctx, candidates)
	if err != nil {
		return "", apperrors.NewCycleError(models.ErrKindOracle, "scanner", "",
			apperrors.Wrap(err, "candidate ranking failed"))
	}

	s.logger.Info().
		Str("symbol", selection.Symbol).
		Float64("confidence", selection.Confidence).
		Str("reasoning", selection.Reasoning).
		Int("candidates", len(candidates)).
		Msg("Day candidate selected")
	return selection.Symbol, nil
}

func (s *Scanner) universe() []string {
	if len(s.cfg.FixedSymbols) > 1 {
		return s.cfg.FixedSymbols
	}
	return defaultUniverse
}

// affordable keeps symbols whose price fits the margin at leverage and
// trims the list to compare_count, randomly when sampling is enabled.
func (s *Scanner) affordable(prices map[string]float64, availableMargin float64) []string {
	buyingPower := availableMargin * s.leverage

	var out []string
	for symbol, price := range prices {
		if price > 0 && price <= buyingPower {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)

	limit := s.cfg.CompareCount
	if limit <= 0 || len(out) <= limit {
		return out
	}
	if s.cfg.RandomSample {
		s.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out[:limit]
}

func (s *Scanner) summarize(ctx context.Context, symbols []string, prices map[string]float64) []oracle.Candidate {
	now := s.now()
	var candidates []oracle.Candidate
	for _, symbol := range symbols {
		candles, err := s.broker.GetIntradayCandles(ctx, symbol, "5min", now.Add(-6*time.Hour), now)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("candles unavailable, candidate skipped")
			continue
		}
		candidates = append(candidates, oracle.Candidate{
			Symbol:     symbol,
			LastPrice:  prices[symbol],
			Indicators: market.Summarize(candles),
		})
	}
	return candidates
}
