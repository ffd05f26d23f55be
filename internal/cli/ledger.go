package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"intraday-trader/internal/models"
	"intraday-trader/pkg/utils"
)

func newLedgerCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Query the decision ledger",
		Long: `Query the append-only decision ledger.

Every cycle the loop runs is recorded: the account and market state it
saw, the oracle directive, the risk verdict, any order and the
resulting position state. Records are never mutated.`,
		Example: `  trader ledger
  trader ledger --date 2026-08-28
  trader ledger --at "2026-08-28T10:21:40+05:30"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Ledger == nil {
				return fmt.Errorf("decision ledger unavailable")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if at, _ := cmd.Flags().GetString("at"); at != "" {
				return showRecordAt(ctx, app, output, at)
			}

			day := time.Now().In(utils.IndiaLocation)
			if date, _ := cmd.Flags().GetString("date"); date != "" {
				parsed, err := time.ParseInLocation("2006-01-02", date, utils.IndiaLocation)
				if err != nil {
					return fmt.Errorf("invalid date %q (want YYYY-MM-DD)", date)
				}
				day = parsed
			}

			records, err := app.Ledger.GetDay(ctx, day)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(records)
			}

			if len(records) == 0 {
				output.Dim("No records for %s", day.Format("2006-01-02"))
				return nil
			}

			table := NewTable(output, "TIME", "SYMBOL", "ACTION", "STATE", "ORDER", "P&L", "ERROR")
			for _, rec := range records {
				table.AddRow(
					rec.CycleAt.In(utils.IndiaLocation).Format("15:04:05"),
					rec.Symbol,
					recAction(rec),
					fmt.Sprintf("%s→%s", rec.StateBefore, rec.StateAfter),
					recOrder(rec),
					recPnL(output, rec),
					string(rec.ErrKind),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().String("date", "", "trading day to show (YYYY-MM-DD, default today)")
	cmd.Flags().String("at", "", "show the full record at an exact cycle timestamp (RFC 3339)")

	return cmd
}

func showRecordAt(ctx context.Context, app *App, output *Output, at string) error {
	ts, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q (want RFC 3339)", at)
	}

	rec, err := app.Ledger.GetByTimestamp(ctx, ts)
	if err != nil {
		return fmt.Errorf("no record at %s: %w", at, err)
	}
	return output.JSON(rec)
}

func recAction(rec models.CycleRecord) string {
	if rec.Directive == nil {
		return "-"
	}
	action := string(rec.Directive.Action)
	if rec.Directive.Synthetic {
		action += "*"
	}
	return action
}

func recOrder(rec models.CycleRecord) string {
	if rec.Order == nil {
		return "-"
	}
	return fmt.Sprintf("%s %d/%d %s", rec.Order.Side, rec.Order.FilledQty, rec.Order.Quantity, rec.Order.Status)
}

func recPnL(output *Output, rec models.CycleRecord) string {
	if rec.RealizedPnL == 0 {
		return "-"
	}
	return output.FormatPnL(rec.RealizedPnL)
}
