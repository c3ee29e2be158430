package workers

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

func TestPool_RunsTasks(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", Workers: 3, QueueSize: 10}, logger.Nop())
	pool.Start(context.Background())

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		key := TaskKey("test", strconv.Itoa(i))
		require.NoError(t, pool.Submit(Task{Key: key, Run: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}

	require.NoError(t, pool.Stop(context.Background()))
	assert.EqualValues(t, 10, ran.Load())
	assert.EqualValues(t, 10, pool.Stats().Completed)
	assert.Zero(t, pool.Pending())
}

func TestPool_RejectsDuplicateKey(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", Workers: 1, QueueSize: 4}, logger.Nop())
	pool.Start(context.Background())

	block := make(chan struct{})
	task := Task{Key: TaskKey("enrich", "b1"), Run: func(ctx context.Context) error {
		<-block
		return nil
	}}

	require.NoError(t, pool.Submit(task))
	err := pool.Submit(task)
	assert.ErrorIs(t, err, errors.ErrAlreadyExists)

	close(block)
	require.NoError(t, pool.Stop(context.Background()))

	assert.EqualValues(t, 1, pool.Stats().Completed)
}

func TestPool_KeyReusableAfterCompletion(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", Workers: 1, QueueSize: 4}, logger.Nop())
	pool.Start(context.Background())
	defer func() { _ = pool.Stop(context.Background()) }()

	var ran atomic.Int32
	task := Task{Key: TaskKey("enrich", "b1"), Run: func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}}

	require.NoError(t, pool.Submit(task))
	require.Eventually(t, func() bool { return pool.Pending() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, pool.Submit(task))
	require.Eventually(t, func() bool { return ran.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPool_QueueFull(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", Workers: 1, QueueSize: 1}, logger.Nop())

	noop := func(ctx context.Context) error { return nil }
	require.NoError(t, pool.Submit(Task{Key: "a", Run: noop}))

	err := pool.Submit(Task{Key: "b", Run: noop})
	assert.ErrorIs(t, err, errors.ErrUnavailable)
	assert.EqualValues(t, 1, pool.Stats().Rejected)

	pool.Start(context.Background())
	require.NoError(t, pool.Stop(context.Background()))
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", Workers: 1}, logger.Nop())
	pool.Start(context.Background())
	require.NoError(t, pool.Stop(context.Background()))

	err := pool.Submit(Task{Key: "late", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, errors.ErrUnavailable)
}

func TestPool_FailuresAndPanicsCounted(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", Workers: 2, QueueSize: 4}, logger.Nop())
	pool.Start(context.Background())

	require.NoError(t, pool.Submit(Task{Key: "fail", Run: func(ctx context.Context) error { return errors.ErrInternal }}))
	require.NoError(t, pool.Submit(Task{Key: "panic", Run: func(ctx context.Context) error { panic("boom") }}))
	require.NoError(t, pool.Submit(Task{Key: "ok", Run: func(ctx context.Context) error { return nil }}))

	require.NoError(t, pool.Stop(context.Background()))
	stats := pool.Stats()
	assert.EqualValues(t, 2, stats.Failed)
	assert.EqualValues(t, 1, stats.Completed)
}

func TestPool_TaskTimeout(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", Workers: 1, TaskTimeout: 20 * time.Millisecond}, logger.Nop())
	pool.Start(context.Background())

	var ctxErr atomic.Value
	require.NoError(t, pool.Submit(Task{Key: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		ctxErr.Store(ctx.Err())
		return ctx.Err()
	}}))

	require.NoError(t, pool.Stop(context.Background()))
	assert.ErrorIs(t, ctxErr.Load().(error), context.DeadlineExceeded)
}

func TestPool_DrainsAfterParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(PoolConfig{Name: "test", Workers: 1, QueueSize: 4}, logger.Nop())
	pool.Start(ctx)

	var ran atomic.Int32
	block := make(chan struct{})
	require.NoError(t, pool.Submit(Task{Key: "first", Run: func(ctx context.Context) error {
		<-block
		ran.Add(1)
		return nil
	}}))
	require.NoError(t, pool.Submit(Task{Key: "second", Run: func(ctx context.Context) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ran.Add(1)
		return nil
	}}))

	cancel()
	close(block)
	require.NoError(t, pool.Stop(context.Background()))
	assert.EqualValues(t, 2, ran.Load(), "queued tasks survive signal cancellation")
}

func TestPool_StopTimeoutCancelsTasks(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", Workers: 1}, logger.Nop())
	pool.Start(context.Background())

	started := make(chan struct{})
	require.NoError(t, pool.Submit(Task{Key: "long", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Stop(ctx)
	assert.ErrorIs(t, err, errors.ErrTimeout)
}

func TestPool_RateLimitsStarts(t *testing.T) {
	// 600/min is one start per 100ms after the burst of one
	pool := NewPool(PoolConfig{Name: "test", Workers: 1, QueueSize: 4, RatePerMinute: 600}, logger.Nop())
	pool.Start(context.Background())

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Submit(Task{Key: TaskKey("test", strconv.Itoa(i)), Run: func(ctx context.Context) error { return nil }}))
	}
	require.NoError(t, pool.Stop(context.Background()))

	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}
