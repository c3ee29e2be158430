package workers

import (
	"context"
	"sync"
	"time"

	"optionsmetrics/internal/metrics"
	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

// Scheduler runs each registered worker on its own ticker
type Scheduler struct {
	workers []Worker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	log     *logger.Logger
	started bool
}

// NewScheduler creates a new worker scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{
		workers: make([]Worker, 0),
		log:     logger.Get().With("component", "scheduler"),
	}
}

// RegisterWorker adds a worker to the scheduler
func (s *Scheduler) RegisterWorker(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.log.Warn("cannot register worker after scheduler has started", "worker", w.Name())
		return
	}

	s.workers = append(s.workers, w)
	s.log.Info("worker registered", "worker", w.Name(), "interval", w.Interval())
}

// Start begins running all registered workers
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrInternal, "scheduler already started")
	}

	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	workers := append([]Worker(nil), s.workers...)
	s.mu.Unlock()

	s.log.Info("starting worker scheduler", "workers", len(workers))

	for _, worker := range workers {
		if !worker.Enabled() {
			s.log.Info("skipping disabled worker", "worker", worker.Name())
			continue
		}

		s.wg.Add(1)
		go s.runWorker(worker)
	}

	return nil
}

// RunOnce executes every enabled worker a single time, in registration order.
// Failures are collected; one failing worker does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs errors.MultiError
	for _, worker := range s.GetWorkers() {
		if !worker.Enabled() {
			continue
		}
		if err := s.executeWorker(ctx, worker); err != nil {
			errs.Add(errors.Wrapf(err, "worker %s", worker.Name()))
		}
	}
	return errs.ToError()
}

// Stop cancels all workers and waits for in-flight iterations, bounded by ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrInternal, "scheduler not started")
	}
	s.cancel()
	s.mu.Unlock()

	s.log.Info("stopping worker scheduler")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var shutdownErr error
	select {
	case <-done:
		s.log.Info("all workers stopped gracefully")
	case <-ctx.Done():
		s.log.Warn("worker shutdown timed out")
		shutdownErr = errors.Wrap(errors.ErrTimeout, "scheduler shutdown")
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	return shutdownErr
}

// runWorker executes a single worker in a loop
func (s *Scheduler) runWorker(worker Worker) {
	defer s.wg.Done()

	ticker := time.NewTicker(worker.Interval())
	defer ticker.Stop()

	// Run immediately on start
	_ = s.executeWorker(s.ctx, worker)

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("worker stopping", "worker", worker.Name())
			return

		case <-ticker.C:
			_ = s.executeWorker(s.ctx, worker)
		}
	}
}

// executeWorker runs one iteration, converting a panic into an error
func (s *Scheduler) executeWorker(ctx context.Context, worker Worker) (err error) {
	start := time.Now()
	tracked, _ := worker.(WorkerWithHealth)
	if tracked != nil {
		tracked.SetRunning(true)
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(errors.ErrInternal, "worker %s panicked: %v", worker.Name(), r)
		}

		duration := time.Since(start)
		metrics.RecordWorkerExecution(worker.Name(), duration, err)

		if tracked != nil {
			tracked.SetRunning(false)
			if err != nil {
				tracked.RecordError(err, duration)
			} else {
				tracked.RecordRun(duration)
			}
		}

		if err != nil {
			s.log.Error("worker execution failed", "worker", worker.Name(), "error", err, "duration", duration)
		} else {
			s.log.Debug("worker execution completed", "worker", worker.Name(), "duration", duration)
		}
	}()

	return worker.Run(ctx)
}

// GetWorkers returns a list of all registered workers
func (s *Scheduler) GetWorkers() []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workers := make([]Worker, len(s.workers))
	copy(workers, s.workers)
	return workers
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
