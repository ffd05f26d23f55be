package cli

import (
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"intraday-trader/internal/broker"
	"intraday-trader/internal/config"
	"intraday-trader/internal/ledger"
	"intraday-trader/internal/logging"
	"intraday-trader/internal/oracle"
)

// Version information
const (
	Version = "0.2.0"
)

// App holds the application dependencies shared by the commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Broker broker.Broker
	Ledger ledger.DecisionLedger
	Oracle *oracle.OpenAIOracle
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	app.Broker = buildBroker(app)

	if cfg.Credentials.OpenAI.APIKey != "" {
		app.Oracle = oracle.NewOpenAIOracle(cfg.Credentials.OpenAI.APIKey, cfg.Oracle.Model, cfg.Oracle.Timeout)
		logger.Debug().Str("model", cfg.Oracle.Model).Msg("Oracle client initialized")
	}

	ledgerPath := filepath.Join(config.DefaultConfigDir(), "ledger.db")
	led, err := ledger.NewSQLiteLedger(ledgerPath, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to open decision ledger, some features may be unavailable")
	} else {
		app.Ledger = led
		logger.Debug().Str("path", ledgerPath).Msg("Decision ledger opened")
	}

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Autonomous intraday trading loop for NSE equities",
		Long: `An autonomous intraday trading loop for the Indian stock market.

It runs a fixed-interval decision cycle: fetch account and market state,
consult a reasoning oracle, apply risk rules and manage at most one open
position per day through Zerodha Kite Connect. Every cycle is recorded
in an append-only decision ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/intraday-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newLoginCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newCycleCmd(app))
	rootCmd.AddCommand(newLedgerCmd(app))

	return rootCmd
}

// buildBroker picks the execution venue: the real brokerage in live
// mode, the paper simulator (fed by real market data when credentials
// exist) otherwise.
func buildBroker(app *App) broker.Broker {
	cfg := app.Config

	var zerodha *broker.ZerodhaBroker
	if cfg.Credentials.Zerodha.APIKey != "" {
		zerodha = broker.NewZerodhaBroker(broker.ZerodhaConfig{
			APIKey:    cfg.Credentials.Zerodha.APIKey,
			APISecret: cfg.Credentials.Zerodha.APISecret,
			UserID:    cfg.Credentials.Zerodha.UserID,
		})
		app.Logger.Debug().Msg("Zerodha broker initialized")
	}

	if cfg.IsPaperMode() {
		var data broker.Broker
		if zerodha != nil {
			data = zerodha
		}
		return broker.NewPaperBroker(broker.PaperBrokerConfig{DataBroker: data})
	}
	if zerodha == nil {
		return nil
	}
	return zerodha
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version})
			} else {
				output.Printf("intraday-trader v%s\n", Version)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading Configuration")
	output.Printf("  Mode:             %s\n", cfg.Trading.Mode)
	output.Printf("  Cycle Interval:   %s\n", cfg.Trading.CycleInterval)
	output.Printf("  Market Window:    %s - %s\n", cfg.Trading.MarketOpen, cfg.Trading.MarketClose)
	output.Printf("  Square-Off Time:  %s\n", cfg.Trading.SquareOffTime)
	output.Printf("  Fill Timeout:     %s\n", cfg.Trading.OrderFillTimeout)
	output.Println()

	output.Bold("Risk Configuration")
	output.Printf("  Leverage:         %.1fx\n", cfg.Risk.Leverage)
	output.Printf("  Risk/Trade:       %.2f%%\n", cfg.Risk.PerTradeRiskFraction*100)
	output.Printf("  Min Margin:       %s\n", FormatIndianCurrency(cfg.Risk.MinMargin))
	output.Printf("  Max Position:     %s\n", FormatIndianCurrency(cfg.Risk.MaxPositionValue))
	output.Printf("  Max Trades/Day:   %d\n", cfg.Risk.MaxTradesPerDay)
	output.Printf("  Min Confidence:   %.2f\n", cfg.Risk.MinConfidence)
	output.Println()

	output.Bold("Oracle Configuration")
	output.Printf("  Model:            %s\n", cfg.Oracle.Model)
	output.Printf("  Timeout:          %s\n", cfg.Oracle.Timeout)
	output.Printf("  Memory Window:    %d records\n", cfg.Oracle.RecentRecordWindow)
	output.Println()

	output.Bold("Scanner Configuration")
	output.Printf("  Auto-Pick:        %v\n", cfg.Scanner.AutoPick)
	output.Printf("  Compare Count:    %d\n", cfg.Scanner.CompareCount)
	output.Printf("  Fixed Symbols:    %v\n", cfg.Scanner.FixedSymbols)
}
