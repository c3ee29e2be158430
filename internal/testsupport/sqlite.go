package testsupport

import (
	"testing"
	"time"

	"optionsmetrics/internal/adapters/config"
	"optionsmetrics/internal/adapters/sqlite"
	"optionsmetrics/pkg/logger"
)

// StoreConfig returns store settings rooted at dir with retries short enough for tests
func StoreConfig(dir string) config.StoreConfig {
	return config.StoreConfig{
		DataDir:         dir,
		BusyTimeout:     2 * time.Second,
		QueryTimeout:    10 * time.Second,
		MaxOpenConns:    4,
		RetryAttempts:   3,
		RetryDelay:      10 * time.Millisecond,
		RetryMultiplier: 1.5,
		RebuildAfter:    5,
	}
}

// NewTestPool opens a store pool in a per-test temp dir, closed on cleanup
func NewTestPool(t *testing.T) *sqlite.Pool {
	t.Helper()

	pool := sqlite.NewPool(StoreConfig(t.TempDir()), logger.Nop())
	t.Cleanup(func() {
		_ = pool.Close()
	})
	return pool
}
