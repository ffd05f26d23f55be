package oracle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "intraday-trader/internal/errors"
	"intraday-trader/internal/models"
)

var parseNow = time.Date(2026, 8, 28, 10, 21, 40, 0, time.UTC)

func TestParseDirective_ValidBuy(t *testing.T) {
	raw := `{"action":"BUY","entry":2843.5,"stop_loss":2820,"take_profit":2890,"confidence_score":0.82,"thought":"momentum above vwap"}`

	d, err := ParseDirective(raw, "RELIANCE", parseNow)
	require.NoError(t, err)

	assert.Equal(t, models.ActionBuy, d.Action)
	assert.Equal(t, "RELIANCE", d.Symbol)
	assert.Equal(t, 2843.5, d.Entry)
	assert.Equal(t, 2820.0, d.StopLoss)
	assert.Equal(t, 2890.0, d.Target)
	assert.Equal(t, 0.82, d.Confidence)
	assert.Equal(t, "momentum above vwap", d.Reasoning)
}

func TestParseDirective_LowercaseActionAccepted(t *testing.T) {
	raw := `{"action":"hold","confidence_score":0.5,"thought":"choppy"}`

	d, err := ParseDirective(raw, "RELIANCE", parseNow)
	require.NoError(t, err)
	assert.Equal(t, models.ActionHold, d.Action)
}

func TestParseDirective_MalformedMapsToHold(t *testing.T) {
	cases := map[string]string{
		"not json":           `buy 500 shares of RELIANCE`,
		"unknown action":     `{"action":"SHORT_SQUEEZE","confidence_score":0.9}`,
		"confidence above 1": `{"action":"BUY","entry":100,"stop_loss":98,"confidence_score":1.7}`,
		"negative conf":      `{"action":"HOLD","confidence_score":-0.1}`,
		"buy without stop":   `{"action":"BUY","entry":100,"confidence_score":0.9}`,
		"buy stop above":     `{"action":"BUY","entry":100,"stop_loss":101,"confidence_score":0.9}`,
		"sell stop below":    `{"action":"SELL","entry":100,"stop_loss":99,"confidence_score":0.9}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			d, err := ParseDirective(raw, "RELIANCE", parseNow)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrOracleMalformed)
			// The fallback directive is always a plain HOLD.
			assert.Equal(t, models.ActionHold, d.Action)
			assert.Equal(t, "RELIANCE", d.Symbol)
			assert.Zero(t, d.Entry)
		})
	}
}

func TestParseDirective_ExitNeedsNoLevels(t *testing.T) {
	raw := `{"action":"EXIT","confidence_score":0.95,"thought":"trend reversed"}`

	d, err := ParseDirective(raw, "RELIANCE", parseNow)
	require.NoError(t, err)
	assert.Equal(t, models.ActionExit, d.Action)
}

func TestBuildDecisionPrompt_IncludesRecentRecords(t *testing.T) {
	req := DecisionRequest{
		Instrument: models.Instrument{Symbol: "RELIANCE", Exchange: models.NSE, TickSize: 0.05, LotSize: 1},
		Snapshot: models.Snapshot{
			Symbol:    "RELIANCE",
			Price:     2843.5,
			Timestamp: parseNow,
		},
		Account: models.AccountState{AvailableMargin: 100000, Leverage: 5},
		News:    "- Board approves buyback (ET, Aug 27)",
		Recent: []models.CycleRecord{
			{
				CycleAt:   parseNow.Add(-200 * time.Second),
				Directive: &models.Directive{Action: models.ActionHold, Reasoning: "waiting for breakout"},
			},
			{
				CycleAt:   parseNow.Add(-100 * time.Second),
				Directive: &models.Directive{Action: models.ActionBuy},
				Verdict:   &models.RiskVerdict{Approved: false, Reason: "confidence 0.60 below minimum 0.75"},
			},
		},
	}

	prompt := buildDecisionPrompt(req)

	assert.Contains(t, prompt, "RELIANCE")
	assert.Contains(t, prompt, "Open position: none")
	assert.Contains(t, prompt, "waiting for breakout")
	assert.Contains(t, prompt, "[rejected: confidence 0.60 below minimum 0.75]")
	assert.Contains(t, prompt, "Board approves buyback")
}

func TestBuildDecisionPrompt_OpenPosition(t *testing.T) {
	req := DecisionRequest{
		Instrument: models.Instrument{Symbol: "RELIANCE", Exchange: models.NSE},
		Snapshot:   models.Snapshot{Symbol: "RELIANCE", Price: 2850, Timestamp: parseNow},
		Account:    models.AccountState{AvailableMargin: 50000, Leverage: 5},
		Position: &models.Position{
			Side:       models.PositionLong,
			EntryPrice: 2843.5,
			Quantity:   42,
			StopLoss:   2820,
			Target:     2890,
		},
	}

	prompt := buildDecisionPrompt(req)
	assert.Contains(t, prompt, "Open position: LONG 42 @ 2843.50")
	assert.NotContains(t, prompt, "Open position: none")
}

func TestDecisionSystemPrompt_DependsOnPosition(t *testing.T) {
	assert.Contains(t, decisionSystemPrompt(false), `"BUY"|"SELL"|"HOLD"`)
	assert.Contains(t, decisionSystemPrompt(true), `"HOLD"|"EXIT"`)
}
