package market

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"intraday-trader/internal/models"
)

func candleSeries(n int, start float64) []models.Candle {
	candles := make([]models.Candle, n)
	ts := time.Date(2026, 8, 28, 9, 15, 0, 0, time.UTC)
	price := start
	for i := range candles {
		// Gentle uptrend with a fixed wick on each side.
		open := price
		price += 0.5
		candles[i] = models.Candle{
			Timestamp: ts.Add(time.Duration(i) * 5 * time.Minute),
			Open:      open,
			High:      price + 1,
			Low:       open - 1,
			Close:     price,
			Volume:    1000,
		}
	}
	return candles
}

func TestSummarize_Empty(t *testing.T) {
	assert.Equal(t, models.IndicatorSummary{}, Summarize(nil))
}

func TestSummarize_DayRangeAndVWAP(t *testing.T) {
	candles := []models.Candle{
		{High: 102, Low: 99, Close: 100, Volume: 100},
		{High: 105, Low: 100, Close: 104, Volume: 300},
		{High: 104, Low: 101, Close: 102, Volume: 100},
	}

	s := Summarize(candles)

	assert.Equal(t, 105.0, s.DayHigh)
	assert.Equal(t, 99.0, s.DayLow)

	// Typical prices: 100.333, 103, 102.333 weighted 100:300:100.
	expected := (100.333333*100 + 103.0*300 + 102.333333*100) / 500
	assert.InDelta(t, expected, s.VWAP, 0.001)

	// Too little history for the longer indicators.
	assert.Zero(t, s.EMA9)
	assert.Zero(t, s.EMA21)
	assert.Zero(t, s.RSI14)
	assert.Zero(t, s.ATR14)
}

func TestSummarize_FullHistoryPopulatesIndicators(t *testing.T) {
	s := Summarize(candleSeries(40, 100))

	assert.Greater(t, s.EMA9, 0.0)
	assert.Greater(t, s.EMA21, 0.0)
	assert.Greater(t, s.ATR14, 0.0)
	assert.False(t, math.IsNaN(s.RSI14))

	// An uninterrupted uptrend reads overbought and the shorter EMA
	// leads the longer one.
	assert.Greater(t, s.RSI14, 50.0)
	assert.Greater(t, s.EMA9, s.EMA21)
}

func TestVWAP_ZeroVolume(t *testing.T) {
	candles := []models.Candle{{High: 101, Low: 99, Close: 100, Volume: 0}}
	s := Summarize(candles)
	assert.Zero(t, s.VWAP)
}
