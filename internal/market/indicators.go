package market

import (
	talib "github.com/markcheno/go-talib"

	"intraday-trader/internal/models"
)

// Summarize computes the intraday technical summary fed to the oracle
// from 5-minute candles. Returns zero values when there is not enough
// history for a given indicator.
func Summarize(candles []models.Candle) models.IndicatorSummary {
	var summary models.IndicatorSummary
	if len(candles) == 0 {
		return summary
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
		volumes[i] = float64(c.Volume)
	}

	summary.DayHigh = highs[0]
	summary.DayLow = lows[0]
	for i := range candles {
		if highs[i] > summary.DayHigh {
			summary.DayHigh = highs[i]
		}
		if lows[i] < summary.DayLow {
			summary.DayLow = lows[i]
		}
	}

	if len(closes) >= 9 {
		ema := talib.Ema(closes, 9)
		summary.EMA9 = ema[len(ema)-1]
	}
	if len(closes) >= 21 {
		ema := talib.Ema(closes, 21)
		summary.EMA21 = ema[len(ema)-1]
	}
	if len(closes) >= 15 {
		rsi := talib.Rsi(closes, 14)
		summary.RSI14 = rsi[len(rsi)-1]
	}
	if len(closes) >= 15 {
		atr := talib.Atr(highs, lows, closes, 14)
		summary.ATR14 = atr[len(atr)-1]
	}

	summary.VWAP = vwap(highs, lows, closes, volumes)

	return summary
}

// vwap computes the volume-weighted average price over the window using
// the typical price of each candle.
func vwap(highs, lows, closes, volumes []float64) float64 {
	var pv, v float64
	for i := range closes {
		typical := (highs[i] + lows[i] + closes[i]) / 3
		pv += typical * volumes[i]
		v += volumes[i]
	}
	if v == 0 {
		return 0
	}
	return pv / v
}
