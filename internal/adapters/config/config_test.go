package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsmetrics/pkg/errors"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "ETH", "SOL", "XRP", "DOGE", "MNT"}, cfg.Engine.Tickers)
	assert.Equal(t, 5*time.Minute, cfg.Engine.Interval)
	assert.Equal(t, 0.02, cfg.Engine.RiskFreeRate)
	assert.Equal(t, 0.01, cfg.Engine.ContractSize("btc"))
	assert.Equal(t, 1.0, cfg.Engine.ContractSize("DOGE"), "unknown assets default to 1")
	assert.Equal(t, 30*time.Second, cfg.Store.BusyTimeout)
	assert.False(t, cfg.ClickHouse.Enabled)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoad_NormalizesTickers(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("TICKERS", " btc,eth,,BTC ")
	t.Setenv("CONTRACT_SIZES", "eth:0.1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Engine.Tickers)
	assert.Equal(t, map[string]float64{"ETH": 0.1}, cfg.Engine.ContractSizes)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("MAX_CONCURRENT_ASSETS", "0")
	t.Setenv("ENRICHMENT_WORKERS", "0")

	_, err := Load()
	require.Error(t, err)

	var multi *errors.MultiError
	require.True(t, errors.As(err, &multi))
	assert.Len(t, multi.Errors, 2)
	assert.Contains(t, err.Error(), "MAX_CONCURRENT_ASSETS")
	assert.Contains(t, err.Error(), "ENRICHMENT_WORKERS")
}

func TestValidate_ContractSizes(t *testing.T) {
	cfg := Config{
		Engine: EngineConfig{
			Tickers:             []string{"BTC"},
			Interval:            time.Minute,
			MaxConcurrentAssets: 1,
			ContractSizes:       map[string]float64{"BTC": 0},
		},
		Store:      StoreConfig{DataDir: "data", RetryAttempts: 1},
		Enrichment: EnrichmentConfig{Workers: 1, CacheSize: 1},
	}

	err := cfg.Validate()
	require.Error(t, err)
	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "CONTRACT_SIZES", verr.Field)
}
