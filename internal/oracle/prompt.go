package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "intraday-trader/internal/errors"
	"intraday-trader/internal/models"
)

const flatSystemPrompt = `You are an intraday equity trading assistant for the Indian stock market.
You are given a market snapshot, a technical summary, the account state and
your own recent decisions. Decide the next action for this cycle.

Respond with a single JSON object:
{"action": "BUY"|"SELL"|"HOLD", "entry": number, "stop_loss": number,
 "take_profit": number, "confidence_score": number between 0 and 1,
 "thought": "short reasoning"}

Rules: at most one position per day; BUY opens a long, SELL opens a short;
stop_loss must be on the losing side of entry; HOLD when conditions are
unclear. All positions are squared off before market close.`

const positionSystemPrompt = `You are an intraday equity trading assistant managing an open position.
You are given the position, a market snapshot, a technical summary and your
own recent decisions. Decide whether to hold or exit this cycle.

Respond with a single JSON object:
{"action": "HOLD"|"EXIT", "stop_loss": number, "take_profit": number,
 "confidence_score": number between 0 and 1, "thought": "short reasoning"}

Rules: a tighter stop_loss or take_profit may be proposed to protect profit,
never a looser one; EXIT closes the position at market. The position is
squared off before market close regardless.`

const selectionSystemPrompt = `You are an intraday equity trading assistant. You are given technical
summaries of candidate NSE instruments. Pick the single instrument with the
best intraday setup for today.

Respond with a single JSON object:
{"symbol": "...", "confidence_score": number between 0 and 1,
 "thought": "short reasoning"}`

func decisionSystemPrompt(hasPosition bool) string {
	if hasPosition {
		return positionSystemPrompt
	}
	return flatSystemPrompt
}

func buildDecisionPrompt(req DecisionRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Instrument: %s (%s), tick size %.2f, lot size %d\n",
		req.Instrument.Symbol, req.Instrument.Exchange, req.Instrument.TickSize, req.Instrument.LotSize)
	fmt.Fprintf(&b, "Snapshot at %s: price %.2f, volume %d\n",
		req.Snapshot.Timestamp.Format("15:04:05"), req.Snapshot.Price, req.Snapshot.Volume)

	ind := req.Snapshot.Indicators
	fmt.Fprintf(&b, "Technical summary: EMA9 %.2f, EMA21 %.2f, RSI14 %.2f, VWAP %.2f, ATR14 %.2f, day high %.2f, day low %.2f\n",
		ind.EMA9, ind.EMA21, ind.RSI14, ind.VWAP, ind.ATR14, ind.DayHigh, ind.DayLow)

	fmt.Fprintf(&b, "Account: available margin %.2f, leverage %.1fx\n",
		req.Account.AvailableMargin, req.Account.Leverage)

	if req.Position != nil {
		p := req.Position
		fmt.Fprintf(&b, "Open position: %s %d @ %.2f, stop %.2f, target %.2f, unrealized P&L %.2f\n",
			p.Side, p.Quantity, p.EntryPrice, p.StopLoss, p.Target, p.UnrealizedPnL(req.Snapshot.Price))
	} else {
		b.WriteString("Open position: none\n")
	}

	if len(req.Recent) > 0 {
		b.WriteString("\nYour recent decisions (oldest first):\n")
		for _, rec := range req.Recent {
			b.WriteString(formatRecord(rec))
		}
	}

	if req.News != "" {
		fmt.Fprintf(&b, "\nNews:\n%s\n", req.News)
	}

	return b.String()
}

func formatRecord(rec models.CycleRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s:", rec.CycleAt.Format("15:04"))
	if rec.Directive != nil {
		fmt.Fprintf(&b, " %s", rec.Directive.Action)
		if rec.Directive.Reasoning != "" {
			fmt.Fprintf(&b, " (%s)", rec.Directive.Reasoning)
		}
	}
	if rec.Verdict != nil && !rec.Verdict.Approved {
		fmt.Fprintf(&b, " [rejected: %s]", rec.Verdict.Reason)
	}
	if rec.ErrKind != models.ErrKindNone {
		fmt.Fprintf(&b, " [error: %s]", rec.ErrKind)
	}
	b.WriteString("\n")
	return b.String()
}

func buildSelectionPrompt(candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("Candidates:\n")
	for i, c := range candidates {
		ind := c.Indicators
		fmt.Fprintf(&b, "%d. %s: price %.2f, EMA9 %.2f, EMA21 %.2f, RSI14 %.2f, VWAP %.2f\n",
			i+1, c.Symbol, c.LastPrice, ind.EMA9, ind.EMA21, ind.RSI14, ind.VWAP)
	}
	return b.String()
}

// directiveReply is the strict wire shape of an oracle decision.
type directiveReply struct {
	Action     string  `json:"action"`
	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Confidence float64 `json:"confidence_score"`
	Thought    string  `json:"thought"`
}

// ParseDirective validates an oracle reply and converts it into a
// Directive. Any validation failure returns a HOLD directive plus the
// error; ambiguous output is never forwarded to the risk manager.
func ParseDirective(raw, symbol string, now time.Time) (models.Directive, error) {
	hold := models.HoldDirective(symbol, now)

	var reply directiveReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return hold, apperrors.Wrapf(apperrors.ErrOracleMalformed, "unparseable reply: %v", err)
	}

	action := models.Action(strings.ToUpper(strings.TrimSpace(reply.Action)))
	if !action.Valid() {
		return hold, apperrors.Wrapf(apperrors.ErrOracleMalformed, "unknown action %q", reply.Action)
	}

	if reply.Confidence < 0 || reply.Confidence > 1 {
		return hold, apperrors.Wrapf(apperrors.ErrOracleMalformed, "confidence %.2f outside [0,1]", reply.Confidence)
	}

	// Entries need coherent price levels; the risk manager sizes off
	// the entry-to-stop distance.
	if action == models.ActionBuy || action == models.ActionSell {
		if reply.Entry <= 0 || reply.StopLoss <= 0 {
			return hold, apperrors.Wrap(apperrors.ErrOracleMalformed, "entry and stop_loss required for BUY/SELL")
		}
		if action == models.ActionBuy && reply.StopLoss >= reply.Entry {
			return hold, apperrors.Wrap(apperrors.ErrOracleMalformed, "BUY stop_loss must be below entry")
		}
		if action == models.ActionSell && reply.StopLoss <= reply.Entry {
			return hold, apperrors.Wrap(apperrors.ErrOracleMalformed, "SELL stop_loss must be above entry")
		}
	}

	return models.Directive{
		Action:     action,
		Symbol:     symbol,
		Entry:      reply.Entry,
		StopLoss:   reply.StopLoss,
		Target:     reply.TakeProfit,
		Confidence: reply.Confidence,
		Reasoning:  reply.Thought,
		IssuedAt:   now,
	}, nil
}
