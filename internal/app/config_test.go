package app

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "0 * * * *", cfg.AgreementCron)
	require.Equal(t, 5, cfg.WorkerConcurrency)
	require.Equal(t, "USD", cfg.Currency)
	require.Equal(t, 10*time.Minute, cfg.ProductCacheTTL)
	require.False(t, cfg.IsProduction())

	ag := cfg.Agreements()
	require.Equal(t, 30, ag.LookaheadDays)
	require.Equal(t, 30, ag.ExpiringDays)
	require.Equal(t, 7*24*time.Hour, ag.VisitWindow)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("AGREEMENT_LOOKAHEAD_DAYS", "14")
	t.Setenv("AGREEMENT_VISIT_WINDOW_DAYS", "3")
	t.Setenv("AGREEMENT_CRON", "@every 15m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, "@every 15m", cfg.AgreementCron)
	require.Equal(t, 14, cfg.Agreements().LookaheadDays)
	require.Equal(t, 3*24*time.Hour, cfg.Agreements().VisitWindow)
}

func TestLoadConfigRejectsNegativeWindows(t *testing.T) {
	t.Setenv("AGREEMENT_EXPIRING_DAYS", "-1")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}

func TestNewLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("visible", "pass", "visits")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"visible"`)
	require.Contains(t, out, `"pass":"visits"`)
}
