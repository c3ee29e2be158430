package bootstrap

import (
	"context"
	"sync"
	"time"

	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
	drainTimeout    time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 150 * time.Second,
		drainTimeout:    90 * time.Second,
	}
}

// Shutdown performs coordinated cleanup in order:
// 1. No new probes or cycles
// 2. Kafka trigger unblocked and its goroutines finished
// 3. Queued enrichment drained
// 4. Exporter flushed, then the producer closed
// 5. Errors and logs flushed
// 6. Stores closed last
func (l *Lifecycle) Shutdown(c *Container) {
	log := c.Log
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	log.Info("[1/8] Stopping HTTP server...")
	if c.Application.HTTPServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		if err := c.Application.HTTPServer.Shutdown(httpCtx); err != nil {
			log.Error("HTTP server shutdown failed", "error", err)
		}
		httpCancel()
	}

	log.Info("[2/8] Stopping scheduler...")
	if c.Background.WorkerScheduler != nil && c.Background.WorkerScheduler.IsRunning() {
		if err := c.Background.WorkerScheduler.Stop(shutdownCtx); err != nil {
			log.Error("workers shutdown failed", "error", err)
		} else {
			log.Info("✓ Workers stopped")
		}
	}

	// Closing the consumer unblocks a pending fetch before goroutines are awaited
	log.Info("[3/8] Closing batch trigger...")
	if c.Background.Trigger != nil {
		if err := c.Background.Trigger.Close(); err != nil {
			log.Error("batch trigger close failed", "error", err)
		}
	}
	l.waitForGoroutines(c.WG, 5*time.Second, log)

	log.Info("[4/8] Draining enrichment queue...")
	if c.Background.EnrichmentPool != nil {
		drainCtx, drainCancel := context.WithTimeout(shutdownCtx, l.drainTimeout)
		if err := c.Background.EnrichmentPool.Stop(drainCtx); err != nil {
			log.Error("enrichment drain incomplete", "error", err, "pending", c.Background.EnrichmentPool.Pending())
		} else {
			log.Info("✓ Enrichment queue drained", "stats", c.Background.EnrichmentPool.Stats())
		}
		drainCancel()
	}

	log.Info("[5/8] Flushing exporter...")
	if c.Repos.Exporter != nil {
		if err := c.Repos.Exporter.Stop(shutdownCtx); err != nil {
			log.Error("exporter flush failed", "error", err)
		}
	}

	log.Info("[6/8] Closing Kafka producer...")
	if c.Adapters.KafkaProducer != nil {
		if err := c.Adapters.KafkaProducer.Close(); err != nil {
			log.Error("Kafka producer close failed", "error", err)
		}
	}

	log.Info("[7/8] Flushing error tracker and logs...")
	l.flushErrorTracker(shutdownCtx, c.ErrorTracker, log)
	if err := logger.Sync(); err != nil {
		log.Debug("log sync completed with warnings", "error", err)
	}

	log.Info("[8/8] Closing stores...")
	l.closeStores(c, log)

	log.Info("✅ Graceful shutdown complete")
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✓ All goroutines finished")
	case <-time.After(timeout):
		log.Warn("⚠ Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

// flushErrorTracker flushes the error tracker (Sentry, etc.)
func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Error("Error tracker flush failed", "error", err)
	}
}

// closeStores closes every connection; the embedded stores go last
func (l *Lifecycle) closeStores(c *Container, log *logger.Logger) {
	var errs errors.MultiError

	if c.CH != nil {
		errs.Add(errors.Wrap(c.CH.Close(), "clickhouse"))
	}
	if c.Redis != nil {
		errs.Add(errors.Wrap(c.Redis.Close(), "redis"))
	}
	if c.StorePool != nil {
		errs.Add(errors.Wrap(c.StorePool.Close(), "stores"))
	}

	if errs.HasErrors() {
		log.Error("store close errors", "error", errs.ToError())
	} else {
		log.Info("✓ Stores closed")
	}
}
