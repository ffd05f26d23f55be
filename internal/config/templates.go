package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Intraday Trader Configuration

[trading]
# Trading mode: "live" or "paper"
mode = "paper"
# Fixed decision-cycle interval
cycle_interval = "100s"
# Market session window (IST)
market_open = "09:15"
market_close = "15:30"
# All open positions are force-exited at this time, unconditionally
square_off_time = "15:10"
# How long to wait for an order to reach a terminal state
order_fill_timeout = "45s"
# Market snapshots older than this are treated as fetch failures
snapshot_max_age = "60s"
# Per-call timeout for market data and account calls
call_timeout = "30s"

[risk]
# Intraday leverage multiplier offered by the brokerage
leverage = 5.0
# Fraction of available margin risked per trade
per_trade_risk_fraction = 0.01
# Entries are rejected below this available margin (INR)
min_margin = 1000.0
# Hard cap on capital at risk per cycle (INR)
max_capital_at_risk = 1000000.0
# Hard cap on position value (INR)
max_position_value = 100000.0
# Entries are rejected after this many approved trades in a day
max_trades_per_day = 20
# Minimum oracle confidence to act on BUY/SELL
min_confidence = 0.75
# Consecutive order rejections before trading halts
reject_halt_threshold = 3

[oracle]
model = "gpt-4o-mini"
timeout = "60s"
# How many recent ledger records are fed back as memory
recent_record_window = 5

[news]
# Feed recent headlines for the traded instrument to the oracle
enabled = false
article_limit = 5
lookback_days = 7

[scanner]
# Pick the day's candidate automatically from affordable instruments
auto_pick = true
compare_count = 10
random_sample = true
# Used when auto_pick = false
fixed_symbols = ["SILVERBEES"]

[server]
# Read-only status HTTP server
enabled = false
addr = "127.0.0.1:8420"
`

const credentialsTemplate = `# Intraday Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[zerodha]
api_key = ""
api_secret = ""
user_id = ""

[openai]
api_key = ""

[newsapi]
api_key = ""
`

func createTemplateConfig(configDir string) error {
	return writeTemplate(configDir, "config.toml", configTemplate, 0644)
}

func createTemplateCredentials(configDir string) error {
	return writeTemplate(configDir, "credentials.toml", credentialsTemplate, 0600)
}

func writeTemplate(configDir, name, content string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}
	return nil
}
