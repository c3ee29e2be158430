// Package sqlite implements the options repositories on the embedded per-asset stores.
package sqlite

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	store "optionsmetrics/internal/adapters/sqlite"
	"optionsmetrics/internal/metrics"
	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
	"optionsmetrics/pkg/retry"
)

const (
	storeAnalytics = "analytics"
	storeMarket    = "market"
)

// Stores resolves per-asset handles from the pool and migrates each store
// the first time it is used in this process.
type Stores struct {
	pool    *store.Pool
	dataDir string
	timeout time.Duration
	retrier *retry.Retrier

	analytics *Migrator
	market    *Migrator

	mu       sync.Mutex
	migrated map[string]bool

	log *logger.Logger
}

// NewStores wires the pool with the migration sets and the busy-retry policy
func NewStores(pool *store.Pool, log *logger.Logger) *Stores {
	if log == nil {
		log = logger.Get()
	}
	cfg := pool.Config()

	s := &Stores{
		pool:      pool,
		dataDir:   cfg.DataDir,
		timeout:   cfg.QueryTimeout,
		analytics: NewMigrator(AnalyticsTables(), cfg.RebuildAfter, log),
		market:    NewMigrator(MarketTables(), cfg.RebuildAfter, log),
		migrated:  make(map[string]bool),
		log:       log.With("component", "stores"),
	}
	s.retrier = retry.New(retry.Config{
		MaxAttempts:  cfg.RetryAttempts,
		InitialDelay: cfg.RetryDelay,
		Multiplier:   cfg.RetryMultiplier,
		Strategy:     retry.StrategyExponential,
		Retryable:    store.IsBusy,
	})
	return s
}

// Analytics returns the migrated analytics store of asset
func (s *Stores) Analytics(ctx context.Context, asset string) (*sqlx.DB, error) {
	return s.open(ctx, store.AnalyticsPath(s.dataDir, asset), s.analytics)
}

// Market returns the migrated market store of asset
func (s *Stores) Market(ctx context.Context, asset string) (*sqlx.DB, error) {
	return s.open(ctx, store.MarketPath(s.dataDir, asset), s.market)
}

// MigrateAnalytics migrates the analytics stores of assets up front
func (s *Stores) MigrateAnalytics(ctx context.Context, assets []string) error {
	var errs errors.MultiError
	for _, asset := range assets {
		if _, err := s.Analytics(ctx, asset); err != nil {
			errs.Add(errors.Wrapf(err, "asset %s", asset))
		}
	}
	return errs.ToError()
}

func (s *Stores) open(ctx context.Context, path string, m *Migrator) (*sqlx.DB, error) {
	db, err := s.pool.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.migrated[path] {
		return db, nil
	}

	if _, err := m.Migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, errors.ErrSchemaDrift, err)
	}
	s.migrated[path] = true
	return db, nil
}

// write runs fn under the busy-retry policy and records the operation
func (s *Stores) write(ctx context.Context, storeName, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	r := s.retrier.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		metrics.StoreRetries.WithLabelValues(op).Inc()
		s.log.Warn("store busy, retrying", "operation", op, "attempt", attempt, "delay", delay, "error", err)
	})
	err := r.Do(ctx, fn)
	metrics.RecordStoreQuery(storeName, op, time.Since(start), err)
	if err != nil && store.IsBusy(err) {
		return fmt.Errorf("%s: %w: %w", op, errors.ErrStoreBusy, err)
	}
	return err
}

// read records a read operation; reads are not retried since WAL readers never wait on the writer
func (s *Stores) read(ctx context.Context, storeName, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := fn(ctx)
	metrics.RecordStoreQuery(storeName, op, time.Since(start), err)
	return err
}

func (s *Stores) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// inTx runs fn in a transaction committed on success
func inTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// insertAll executes one prepared named insert per row
func insertAll[T any](ctx context.Context, tx *sqlx.Tx, query string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for i := range rows {
		if _, err := stmt.ExecContext(ctx, &rows[i]); err != nil {
			return err
		}
	}
	return nil
}
