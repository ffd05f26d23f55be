package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesTemplatesAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.FileExists(t, filepath.Join(dir, "credentials.toml"))

	assert.Equal(t, "paper", cfg.Trading.Mode)
	assert.Equal(t, 100*time.Second, cfg.Trading.CycleInterval)
	assert.Equal(t, "15:10", cfg.Trading.SquareOffTime)
	assert.Equal(t, 5.0, cfg.Risk.Leverage)
	assert.Equal(t, 0.01, cfg.Risk.PerTradeRiskFraction)
	assert.Equal(t, 30*time.Second, cfg.Trading.CallTimeout)
	assert.Equal(t, 0.75, cfg.Risk.MinConfidence)
	assert.Equal(t, 5, cfg.Oracle.RecentRecordWindow)
	assert.False(t, cfg.News.Enabled)
	assert.Equal(t, 5, cfg.News.ArticleLimit)
	assert.True(t, cfg.Scanner.AutoPick)
}

func TestLoad_CredentialsFilePermissions(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ZERODHA_API_KEY", "env-key")
	t.Setenv("TRADING_MODE", "live")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Credentials.Zerodha.APIKey)
	assert.Equal(t, "live", cfg.Trading.Mode)
	assert.False(t, cfg.IsPaperMode())
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)

	cfg.Trading.Mode = "yolo"
	assert.Error(t, cfg.Validate())
	cfg.Trading.Mode = "paper"

	cfg.Trading.SquareOffTime = "25:99"
	assert.Error(t, cfg.Validate())
	cfg.Trading.SquareOffTime = "15:10"

	cfg.Risk.PerTradeRiskFraction = 0
	assert.Error(t, cfg.Validate())
	cfg.Risk.PerTradeRiskFraction = 0.01

	cfg.Risk.Leverage = 0.5
	assert.Error(t, cfg.Validate())
	cfg.Risk.Leverage = 5

	assert.NoError(t, cfg.Validate())
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:15")
	require.NoError(t, err)
	assert.Equal(t, Clock(9*60+15), c)

	_, err = ParseClock("9:15am")
	assert.Error(t, err)
}

func TestMinutes(t *testing.T) {
	at := time.Date(2026, 8, 28, 15, 10, 0, 0, time.UTC)
	assert.Equal(t, Clock(15*60+10), Minutes(at))
}
