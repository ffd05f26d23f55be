package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trader/internal/models"
)

func openTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	led, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })
	return led
}

func sampleRecord(at time.Time) *models.CycleRecord {
	return &models.CycleRecord{
		CycleAt: at,
		Symbol:  "RELIANCE",
		Account: models.AccountState{
			AvailableMargin: 100000,
			UsedMargin:      25000,
			Leverage:        5,
			FetchedAt:       at,
		},
		Snapshot: &models.Snapshot{
			Symbol:    "RELIANCE",
			Price:     2843.50,
			Volume:    1200000,
			Timestamp: at,
			Indicators: models.IndicatorSummary{
				EMA9:  2840.1,
				EMA21: 2835.7,
				RSI14: 61.2,
				VWAP:  2838.9,
			},
		},
		Directive: &models.Directive{
			Action:     models.ActionBuy,
			Symbol:     "RELIANCE",
			Entry:      2843.50,
			StopLoss:   2820,
			Target:     2890,
			Confidence: 0.82,
			Reasoning:  "momentum above vwap",
			IssuedAt:   at,
		},
		Verdict: &models.RiskVerdict{Approved: true, Quantity: 42},
		Order: &models.Order{
			ID:           "01J0000000000000000000TEST",
			PositionID:   "pos-1",
			Symbol:       "RELIANCE",
			Exchange:     models.NSE,
			Side:         models.OrderSideBuy,
			Type:         models.OrderTypeMarket,
			Quantity:     42,
			Status:       models.OrderFilled,
			FilledQty:    42,
			AveragePrice: 2843.65,
			PlacedAt:     at,
		},
		StateBefore: models.StateFlat,
		StateAfter:  models.StateOpen,
	}
}

func TestLedger_AppendAndGetByTimestamp(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 28, 10, 21, 40, 0, time.UTC)
	rec := sampleRecord(at)
	require.NoError(t, led.Append(ctx, rec))
	assert.NotEmpty(t, rec.ID, "Append assigns an ID")

	got, err := led.GetByTimestamp(ctx, at)
	require.NoError(t, err)

	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "RELIANCE", got.Symbol)
	assert.Equal(t, models.StateFlat, got.StateBefore)
	assert.Equal(t, models.StateOpen, got.StateAfter)
	assert.Equal(t, 100000.0, got.Account.AvailableMargin)

	require.NotNil(t, got.Snapshot)
	assert.Equal(t, 2843.50, got.Snapshot.Price)
	assert.Equal(t, 61.2, got.Snapshot.Indicators.RSI14)

	require.NotNil(t, got.Directive)
	assert.Equal(t, models.ActionBuy, got.Directive.Action)
	assert.Equal(t, 0.82, got.Directive.Confidence)

	require.NotNil(t, got.Verdict)
	assert.True(t, got.Verdict.Approved)
	assert.Equal(t, 42, got.Verdict.Quantity)

	require.NotNil(t, got.Order)
	assert.Equal(t, models.OrderFilled, got.Order.Status)
	assert.Equal(t, 2843.65, got.Order.AveragePrice)
}

func TestLedger_NullableSectionsSurviveRoundTrip(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 28, 9, 20, 0, 0, time.UTC)
	rec := &models.CycleRecord{
		CycleAt:     at,
		Symbol:      "RELIANCE",
		StateBefore: models.StateFlat,
		StateAfter:  models.StateFlat,
		ErrKind:     models.ErrKindData,
		ErrDetail:   "quote fetch failed",
	}
	require.NoError(t, led.Append(ctx, rec))

	got, err := led.GetByTimestamp(ctx, at)
	require.NoError(t, err)

	assert.Nil(t, got.Snapshot)
	assert.Nil(t, got.Directive)
	assert.Nil(t, got.Verdict)
	assert.Nil(t, got.Order)
	assert.Equal(t, models.ErrKindData, got.ErrKind)
	assert.Equal(t, "quote fetch failed", got.ErrDetail)
}

func TestLedger_GetRecentIsChronologicalAndBounded(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 28, 9, 15, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		rec := sampleRecord(day.Add(time.Duration(i) * 100 * time.Second))
		rec.Directive.Reasoning = string(rune('a' + i))
		require.NoError(t, led.Append(ctx, rec))
	}

	recent, err := led.GetRecent(ctx, "RELIANCE", day, 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)

	// The five newest, oldest first.
	assert.Equal(t, "d", recent[0].Directive.Reasoning)
	assert.Equal(t, "h", recent[4].Directive.Reasoning)
	for i := 1; i < len(recent); i++ {
		assert.True(t, recent[i].CycleAt.After(recent[i-1].CycleAt))
	}
}

func TestLedger_GetDayIsolatesTradingDays(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	require.NoError(t, led.Append(ctx, sampleRecord(day1)))
	require.NoError(t, led.Append(ctx, sampleRecord(day2)))

	records, err := led.GetDay(ctx, day2)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, day2.Format("2006-01-02"), records[0].CycleAt.UTC().Format("2006-01-02"))
}

func TestLedger_DuplicateCycleTimestampRejected(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)
	require.NoError(t, led.Append(ctx, sampleRecord(at)))
	assert.Error(t, led.Append(ctx, sampleRecord(at)), "one record per cycle timestamp")
}
