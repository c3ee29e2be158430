// Package sqlite manages the embedded per-asset stores: one market store and
// one analytics store per asset, each opened once and shared.
package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"optionsmetrics/internal/adapters/config"
	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

const (
	driverName   = "sqlite"
	probeTimeout = 5 * time.Second
)

func init() {
	sqlx.BindDriver(driverName, sqlx.QUESTION)
}

// MarketPath is the raw snapshot store of asset
func MarketPath(dataDir, asset string) string {
	asset = strings.ToUpper(asset)
	return filepath.Join(dataDir, asset+"_market.db")
}

// AnalyticsPath is the analytics store of asset
func AnalyticsPath(dataDir, asset string) string {
	asset = strings.ToUpper(asset)
	return filepath.Join(dataDir, asset+"_analytics.db")
}

// DSN builds a connection string with WAL journaling so readers never block
// on the single writer. Write transactions take the lock up front.
func DSN(path string, busyTimeout time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// IsBusy reports lock contention that a retry may resolve
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// Pool caches one *sqlx.DB per store path. A cached handle is probed with a
// trivial query before reuse and transparently reopened when the probe fails.
type Pool struct {
	mu     sync.Mutex
	dbs    map[string]*sqlx.DB
	cfg    config.StoreConfig
	closed bool
	log    *logger.Logger
}

// NewPool creates an empty pool
func NewPool(cfg config.StoreConfig, log *logger.Logger) *Pool {
	if log == nil {
		log = logger.Get()
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 30 * time.Second
	}
	return &Pool{
		dbs: make(map[string]*sqlx.DB),
		cfg: cfg,
		log: log.With("component", "sqlite_pool"),
	}
}

// Config returns the store settings the pool was created with
func (p *Pool) Config() config.StoreConfig {
	return p.cfg
}

// Get returns a live handle for path, opening the store on first use
func (p *Pool) Get(ctx context.Context, path string) (*sqlx.DB, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.ErrStoreClosed
	}
	db, ok := p.dbs[path]
	p.mu.Unlock()

	if ok {
		// a cancelled caller says nothing about the shared handle
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := probe(db)
		switch {
		case err == nil:
			return db, nil
		case errors.Is(err, context.DeadlineExceeded):
			// every connection is busy: saturated, not broken
			return db, nil
		}
		p.log.Warn("stale store connection, reopening", "path", path, "error", err)
		p.evict(path, db)
	}

	return p.open(path)
}

// probe runs on its own deadline so that only the handle's state decides eviction
func probe(db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	var one int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

func (p *Pool) evict(path string, stale *sqlx.DB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.dbs[path]; ok && cur == stale {
		delete(p.dbs, path)
	}
	_ = stale.Close()
}

func (p *Pool) open(path string) (*sqlx.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.ErrStoreClosed
	}
	// another caller may have reopened it meanwhile
	if db, ok := p.dbs[path]; ok {
		return db, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create store dir for %s", path)
	}

	db, err := sqlx.Open(driverName, DSN(path, p.cfg.BusyTimeout))
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", path)
	}
	db.SetMaxOpenConns(p.cfg.MaxOpenConns)
	db.SetMaxIdleConns(p.cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping store %s", path)
	}

	p.dbs[path] = db
	p.log.Debug("store opened", "path", path)
	return db, nil
}

// Len returns the number of cached handles
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dbs)
}

// Close closes every cached handle. Further Get calls fail with errors.ErrStoreClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	var errs errors.MultiError
	for path, db := range p.dbs {
		if err := db.Close(); err != nil {
			errs.Add(errors.Wrapf(err, "close %s", path))
		}
		delete(p.dbs, path)
	}
	return errs.ToError()
}
