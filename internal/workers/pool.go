package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"optionsmetrics/internal/metrics"
	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

// Task is one unit of background work. Key identifies it: a task whose key
// is already queued or running is rejected with ErrAlreadyExists.
type Task struct {
	Key string
	Run func(ctx context.Context) error
}

// PoolConfig sizes a Pool
type PoolConfig struct {
	Name          string
	Workers       int
	QueueSize     int
	RatePerMinute int           // task starts per minute; 0 disables limiting
	TaskTimeout   time.Duration // 0 disables the per-task deadline
}

// PoolStats counts finished tasks
type PoolStats struct {
	Completed int64
	Failed    int64
	Rejected  int64
	Pending   int
}

// Pool runs tasks on a fixed number of goroutines fed by a bounded queue
type Pool struct {
	cfg     PoolConfig
	queue   chan Task
	limiter *rate.Limiter
	log     *logger.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// NewPool creates a stopped pool; Start launches its workers
func NewPool(cfg PoolConfig, log *logger.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 16
	}
	if log == nil {
		log = logger.Get()
	}

	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(float64(cfg.RatePerMinute) / 60)
	}

	return &Pool{
		cfg:     cfg,
		queue:   make(chan Task, cfg.QueueSize),
		limiter: rate.NewLimiter(limit, cfg.Workers),
		pending: make(map[string]struct{}),
		log:     log.With("component", "worker_pool", "pool", cfg.Name),
	}
}

// Start launches the workers. Tasks keep running after ctx is cancelled so
// that Stop can drain the queue; Stop's own deadline bounds them.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	p.log.Info("worker pool started", "workers", p.cfg.Workers, "queue_size", p.cfg.QueueSize, "rate_per_minute", p.cfg.RatePerMinute)
}

// Submit enqueues t without blocking. It fails with ErrAlreadyExists for a
// duplicate key and ErrUnavailable when the queue is full or the pool stopped.
func (p *Pool) Submit(t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.rejected.Add(1)
		return errors.Wrapf(errors.ErrUnavailable, "pool %s stopped", p.cfg.Name)
	}
	if _, dup := p.pending[t.Key]; dup {
		return errors.Wrapf(errors.ErrAlreadyExists, "task %s already pending", t.Key)
	}

	select {
	case p.queue <- t:
		p.pending[t.Key] = struct{}{}
		metrics.PoolQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		p.rejected.Add(1)
		return errors.Wrapf(errors.ErrUnavailable, "pool %s queue full", p.cfg.Name)
	}
}

func (p *Pool) work() {
	defer p.wg.Done()

	for t := range p.queue {
		metrics.PoolQueueDepth.Set(float64(len(p.queue)))

		err := p.limiter.Wait(p.ctx)
		if err == nil {
			err = p.run(t)
		}

		if err != nil {
			p.failed.Add(1)
			p.log.Warn("task failed", "key", t.Key, "error", err)
		} else {
			p.completed.Add(1)
		}

		p.mu.Lock()
		delete(p.pending, t.Key)
		p.mu.Unlock()
	}
}

func (p *Pool) run(t Task) (err error) {
	ctx := p.ctx
	if p.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(errors.ErrInternal, "task %s panicked: %v", t.Key, r)
		}
	}()

	return t.Run(ctx)
}

// Stop rejects new tasks and waits for queued ones to finish. When ctx ends
// first, running tasks are cancelled and ErrTimeout is returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.log.Info("worker pool drained", "completed", p.completed.Load(), "failed", p.failed.Load())
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		p.log.Warn("worker pool stop timed out, running tasks cancelled")
		return errors.Wrapf(errors.ErrTimeout, "pool %s drain", p.cfg.Name)
	}
}

// Pending returns the number of queued or running tasks
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Stats returns task counters
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
		Pending:   p.Pending(),
	}
}

// TaskKey builds the idempotency key of a task kind for one subject, e.g. TaskKey("enrich", batchID)
func TaskKey(kind, id string) string {
	return kind + ":" + id
}
