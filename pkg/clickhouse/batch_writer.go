package clickhouse

import (
	"context"
	"sync"
	"time"

	"optionsmetrics/pkg/logger"
)

// FlushFunc performs the actual INSERT of one batch
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// BatchWriter accumulates rows in memory and flushes them to ClickHouse in batches.
// Single row inserts are expensive for ClickHouse, so rows are held until the
// buffer is full or MaxAge has passed.
type BatchWriter[T any] struct {
	flushFunc FlushFunc[T]
	buffer    []T
	mu        sync.Mutex
	log       *logger.Logger

	// Configuration
	maxBatchSize int           // Flush when buffer reaches this size
	maxAge       time.Duration // Flush when oldest item exceeds this age
	tableName    string        // Table name for logging

	// State
	lastFlush time.Time
	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	flushed   int64
	failed    int64
}

// BatchWriterConfig contains configuration for BatchWriter
type BatchWriterConfig[T any] struct {
	FlushFunc    FlushFunc[T]
	TableName    string
	MaxBatchSize int           // Default: 500
	MaxAge       time.Duration // Default: 5s
	Logger       *logger.Logger
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter[T any](cfg BatchWriterConfig[T]) *BatchWriter[T] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}

	return &BatchWriter[T]{
		flushFunc:    cfg.FlushFunc,
		buffer:       make([]T, 0, cfg.MaxBatchSize),
		maxBatchSize: cfg.MaxBatchSize,
		maxAge:       cfg.MaxAge,
		tableName:    cfg.TableName,
		lastFlush:    time.Now(),
		stopCh:       make(chan struct{}),
		log:          cfg.Logger.With("component", "batch_writer", "table", cfg.TableName),
	}
}

// Start begins the background flush ticker
func (bw *BatchWriter[T]) Start(ctx context.Context) {
	bw.mu.Lock()
	if bw.running {
		bw.mu.Unlock()
		return
	}
	bw.running = true
	bw.ticker = time.NewTicker(bw.maxAge)
	bw.mu.Unlock()

	bw.wg.Add(1)
	go bw.flushLoop(ctx)

	bw.log.Info("batch writer started", "max_batch_size", bw.maxBatchSize, "max_age", bw.maxAge)
}

// Add buffers one row and flushes immediately when the buffer is full
func (bw *BatchWriter[T]) Add(ctx context.Context, item T) error {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, item)
	shouldFlush := len(bw.buffer) >= bw.maxBatchSize
	bw.mu.Unlock()

	if shouldFlush {
		return bw.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered rows. A failed batch is dropped and counted.
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}

	// Take ownership of current buffer and create new one
	batch := bw.buffer
	bw.buffer = make([]T, 0, bw.maxBatchSize)
	bw.lastFlush = time.Now()
	bw.mu.Unlock()

	// Flush outside of lock to avoid blocking Add() calls
	start := time.Now()
	err := bw.flushFunc(ctx, batch)
	duration := time.Since(start)

	bw.mu.Lock()
	if err != nil {
		bw.failed += int64(len(batch))
	} else {
		bw.flushed += int64(len(batch))
	}
	bw.mu.Unlock()

	if err != nil {
		bw.log.Error("batch flush failed", "rows", len(batch), "duration", duration, "error", err)
		return err
	}

	bw.log.Debug("batch flushed", "rows", len(batch), "duration", duration)
	return nil
}

// flushLoop runs in background and flushes periodically
func (bw *BatchWriter[T]) flushLoop(ctx context.Context) {
	defer bw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			bw.finalFlush()
			return

		case <-bw.stopCh:
			bw.finalFlush()
			return

		case <-bw.ticker.C:
			if bw.BufferSize() > 0 {
				if err := bw.Flush(ctx); err != nil {
					bw.log.Warn("periodic flush failed", "error", err)
				}
			}
		}
	}
}

func (bw *BatchWriter[T]) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bw.Flush(ctx); err != nil {
		bw.log.Error("final flush failed", "error", err)
	}
}

// Stop flushes remaining rows and waits for the flush loop, bounded by ctx
func (bw *BatchWriter[T]) Stop(ctx context.Context) error {
	bw.mu.Lock()
	if !bw.running {
		bw.mu.Unlock()
		return bw.Flush(ctx)
	}
	bw.running = false
	bw.mu.Unlock()

	if bw.ticker != nil {
		bw.ticker.Stop()
	}
	close(bw.stopCh)

	done := make(chan struct{})
	go func() {
		bw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		bw.log.Info("batch writer stopped")
		return nil
	case <-ctx.Done():
		bw.log.Warn("batch writer stop timed out")
		return ctx.Err()
	}
}

// BufferSize returns the current buffer size (for monitoring)
func (bw *BatchWriter[T]) BufferSize() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// BatchWriterStats describes the writer for monitoring
type BatchWriterStats struct {
	BufferSize   int
	LastFlushAge time.Duration
	MaxBatchSize int
	MaxAge       time.Duration
	Running      bool
	Flushed      int64
	Failed       int64
}

// GetStats returns current statistics
func (bw *BatchWriter[T]) GetStats() BatchWriterStats {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	return BatchWriterStats{
		BufferSize:   len(bw.buffer),
		LastFlushAge: time.Since(bw.lastFlush),
		MaxBatchSize: bw.maxBatchSize,
		MaxAge:       bw.maxAge,
		Running:      bw.running,
		Flushed:      bw.flushed,
		Failed:       bw.failed,
	}
}
