package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"intraday-trader/internal/account"
	"intraday-trader/internal/config"
	"intraday-trader/internal/engine"
	apperrors "intraday-trader/internal/errors"
	"intraday-trader/internal/market"
	"intraday-trader/internal/metrics"
	"intraday-trader/internal/models"
	"intraday-trader/internal/news"
	"intraday-trader/internal/scanner"
	"intraday-trader/internal/server"
	"intraday-trader/pkg/utils"
)

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the decision loop for the trading day",
		Long: `Run the autonomous decision loop until market close.

The loop picks the day's instrument (auto-pick or the configured fixed
symbol), then executes a decision cycle at the configured fixed
interval: account state, market snapshot, oracle directive, risk
verdict, order execution. Open positions are force-closed at the
square-off time. Every cycle is recorded in the decision ledger.

SIGUSR1 clears a trading halt; SIGINT/SIGTERM stop the loop.`,
		Example: `  trader run
  trader run --symbol RELIANCE
  trader run --serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, _ := cmd.Flags().GetString("symbol")
			serve, _ := cmd.Flags().GetBool("serve")
			return runLoop(cmd, app, symbol, serve, false)
		},
	}

	cmd.Flags().String("symbol", "", "trade this symbol instead of auto-picking")
	cmd.Flags().Bool("serve", false, "also serve the status API")

	return cmd
}

func newCycleCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run a single decision cycle",
		Long: `Run exactly one decision cycle and exit.

Useful for dry runs and external schedulers. The cycle is recorded in
the decision ledger like any other.`,
		Example: `  trader cycle --symbol SILVERBEES`,
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, _ := cmd.Flags().GetString("symbol")
			return runLoop(cmd, app, symbol, false, true)
		},
	}

	cmd.Flags().String("symbol", "", "trade this symbol instead of auto-picking")

	return cmd
}

func runLoop(cmd *cobra.Command, app *App, symbol string, serve, once bool) error {
	output := NewOutput(cmd)

	if app.Broker == nil {
		output.Error("Broker not configured. Check credentials.toml")
		return fmt.Errorf("broker not configured")
	}
	if app.Oracle == nil {
		output.Error("Oracle not configured. Add an OpenAI API key to credentials.toml")
		return fmt.Errorf("oracle not configured")
	}
	if app.Ledger == nil {
		return fmt.Errorf("decision ledger unavailable")
	}
	if !app.Config.IsPaperMode() && !app.Broker.IsAuthenticated() {
		output.Error("Not authenticated. Run 'trader login' first")
		return fmt.Errorf("not authenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := sessionFromConfig(app.Config)
	acctProvider := account.NewProvider(app.Broker, app.Config.Risk.Leverage)
	snapProvider := market.NewProvider(app.Broker, market.ProviderConfig{
		MaxAge: app.Config.Trading.SnapshotMaxAge,
	}, app.Logger)
	scan := scanner.New(app.Broker, app.Oracle, app.Config.Scanner, app.Config.Risk.Leverage, app.Logger)

	instrument, err := pickInstrument(ctx, app, scan, symbol)
	if err != nil {
		output.Error("Instrument selection failed: %v", err)
		return err
	}
	output.Info("Trading %s (%s) at %s today", instrument.Symbol, instrument.Exchange,
		FormatIndianCurrency(instrument.LastPrice))

	var newsProvider news.Provider
	if app.Config.News.Enabled && app.Config.Credentials.NewsAPI.APIKey != "" {
		newsProvider = news.NewClient(app.Config.Credentials.NewsAPI.APIKey, news.Config{
			ArticleLimit: app.Config.News.ArticleLimit,
			LookbackDays: app.Config.News.LookbackDays,
		}, app.Logger)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	orch := engine.NewOrchestrator(engine.Deps{
		Config:     app.Config,
		Logger:     app.Logger,
		Session:    session,
		Instrument: *instrument,
		Broker:     app.Broker,
		Market:     snapProvider,
		Account:    acctProvider,
		Oracle:     app.Oracle,
		Ledger:     app.Ledger,
		Metrics:    m,
		News:       newsProvider,
	})

	// Manual halt reset without restarting the process.
	resetCh := make(chan os.Signal, 1)
	signal.Notify(resetCh, syscall.SIGUSR1)
	defer signal.Stop(resetCh)
	go func() {
		for range resetCh {
			orch.Reset()
		}
	}()

	if (serve || app.Config.Server.Enabled) && app.Config.Server.Addr != "" {
		srv := server.New(app.Config.Server.Addr, orch, app.Ledger, scan, app.Logger)
		go func() {
			if err := srv.Start(); err != nil {
				app.Logger.Error().Err(err).Msg("status server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if once {
		rec, err := orch.RunCycle(ctx)
		if apperrors.Is(err, apperrors.ErrTradingHalted) {
			output.Warning("Trading halted, cycle skipped")
			return nil
		}
		if err != nil {
			return err
		}
		if rec == nil {
			output.Warning("Nothing to do (market is closed)")
			return nil
		}
		if output.IsJSON() {
			return output.JSON(rec)
		}
		printCycleSummary(output, rec)
		return nil
	}

	err = orch.Run(ctx)
	if err == context.Canceled {
		output.Warning("Stopped by signal")
		err = nil
	}

	output.Println()
	output.Bold("Day Summary")
	output.Printf("  Trades:       %d\n", orch.TradesToday())
	output.Printf("  Realized P&L: %s\n", output.FormatPnL(orch.DayPnL()))
	if halted, reason := orch.Halted(); halted {
		output.Error("  Halted: %s", reason)
	}
	return err
}

func pickInstrument(ctx context.Context, app *App, scan *scanner.Scanner, symbol string) (*models.Instrument, error) {
	if symbol != "" {
		return app.Broker.GetInstrument(ctx, symbol, models.NSE)
	}

	margins, err := app.Broker.GetMargins(ctx)
	if err != nil {
		return nil, err
	}
	return scan.Pick(ctx, margins.Available)
}

func sessionFromConfig(cfg *config.Config) utils.Session {
	session := utils.DefaultSession()
	if open, err := config.ParseClock(cfg.Trading.MarketOpen); err == nil {
		session.OpenMinute = int(open)
	}
	if closeAt, err := config.ParseClock(cfg.Trading.MarketClose); err == nil {
		session.CloseMinute = int(closeAt)
	}
	if squareOff, err := config.ParseClock(cfg.Trading.SquareOffTime); err == nil {
		session.SquareOffMinute = int(squareOff)
	}
	return session
}

func printCycleSummary(output *Output, rec *models.CycleRecord) {
	output.Bold("Cycle %s", rec.CycleAt.Format("15:04:05"))
	output.Printf("  Symbol:   %s\n", rec.Symbol)
	output.Printf("  State:    %s -> %s\n", rec.StateBefore, rec.StateAfter)
	if rec.Directive != nil {
		output.Printf("  Action:   %s (confidence %.2f)\n", rec.Directive.Action, rec.Directive.Confidence)
		if rec.Directive.Reasoning != "" {
			output.Dim("  Thought:  %s", rec.Directive.Reasoning)
		}
	}
	if rec.Verdict != nil && !rec.Verdict.Approved {
		output.Warning("  Rejected: %s", rec.Verdict.Reason)
	}
	if rec.Order != nil {
		output.Printf("  Order:    %s %d @ %s (%s)\n", rec.Order.Side, rec.Order.Quantity,
			FormatIndianCurrency(rec.Order.AveragePrice), rec.Order.Status)
	}
	if rec.RealizedPnL != 0 {
		output.Printf("  P&L:      %s\n", output.FormatPnL(rec.RealizedPnL))
	}
	if rec.ErrKind != models.ErrKindNone {
		output.Error("  Error:    %s: %s", rec.ErrKind, rec.ErrDetail)
	}
}
