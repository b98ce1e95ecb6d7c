package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("QUOTATION_CURRENCY", "inr")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 720*time.Hour, cfg.QuotationDefaultValidity)
	assert.Equal(t, "INR", cfg.QuotationCurrency)
	assert.Equal(t, "*/15 * * * *", cfg.ExpirySweepCron)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalidCron(t *testing.T) {
	t.Setenv("EXPIRY_SWEEP_CRON", "every now and then")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expiry sweep cron")
}

func TestLoadConfigRejectsBadCurrency(t *testing.T) {
	t.Setenv("QUOTATION_CURRENCY", "RUPEE")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsNonPositiveValidity(t *testing.T) {
	t.Setenv("QUOTATION_DEFAULT_VALIDITY", "0s")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestRedisOptionsFromConfig(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "4")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	opts := cfg.Redis()
	assert.Equal(t, "redis:6379", opts.Addr)
	assert.Equal(t, 4, opts.DB)
	assert.Equal(t, 4, opts.Asynq().DB)
}
