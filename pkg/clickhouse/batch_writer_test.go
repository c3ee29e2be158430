package clickhouse

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsmetrics/pkg/logger"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]int
}

func (r *recorder) flush(_ context.Context, batch []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func TestBatchWriter_FlushOnMaxSize(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[int]{
		FlushFunc:    rec.flush,
		TableName:    "aggregate_snapshots",
		MaxBatchSize: 3,
		MaxAge:       10 * time.Second,
		Logger:       logger.Nop(),
	})

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, bw.Add(ctx, i))
	}

	rec.mu.Lock()
	require.Len(t, rec.batches, 1, "Should have flushed once")
	assert.Equal(t, []int{1, 2, 3}, rec.batches[0])
	rec.mu.Unlock()

	assert.Equal(t, 0, bw.BufferSize())
	assert.EqualValues(t, 3, bw.GetStats().Flushed)
}

func TestBatchWriter_FlushOnTimer(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[int]{
		FlushFunc:    rec.flush,
		TableName:    "aggregate_snapshots",
		MaxBatchSize: 100,
		MaxAge:       50 * time.Millisecond,
		Logger:       logger.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bw.Start(ctx)

	require.NoError(t, bw.Add(ctx, 1))
	require.NoError(t, bw.Add(ctx, 2))

	assert.Eventually(t, func() bool { return rec.total() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, bw.Stop(context.Background()))
}

func TestBatchWriter_GracefulStopFlushesRemainder(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[int]{
		FlushFunc:    rec.flush,
		TableName:    "aggregate_snapshots",
		MaxBatchSize: 100,
		MaxAge:       time.Hour,
		Logger:       logger.Nop(),
	})

	ctx := context.Background()
	bw.Start(ctx)
	for i := 0; i < 5; i++ {
		require.NoError(t, bw.Add(ctx, i))
	}

	require.NoError(t, bw.Stop(ctx))
	assert.Equal(t, 5, rec.total())
	assert.False(t, bw.GetStats().Running)
}

func TestBatchWriter_FailedFlushIsCounted(t *testing.T) {
	boom := stderrors.New("clickhouse down")
	bw := NewBatchWriter(BatchWriterConfig[int]{
		FlushFunc:    func(context.Context, []int) error { return boom },
		TableName:    "aggregate_snapshots",
		MaxBatchSize: 2,
		Logger:       logger.Nop(),
	})

	ctx := context.Background()
	require.NoError(t, bw.Add(ctx, 1))
	assert.ErrorIs(t, bw.Add(ctx, 2), boom)

	stats := bw.GetStats()
	assert.EqualValues(t, 2, stats.Failed)
	assert.Zero(t, stats.BufferSize, "failed batch is dropped")
}

func TestBatchWriter_ConcurrentAdds(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[int]{
		FlushFunc:    rec.flush,
		TableName:    "aggregate_snapshots",
		MaxBatchSize: 7,
		MaxAge:       time.Hour,
		Logger:       logger.Nop(),
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = bw.Add(ctx, g*100+i)
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, bw.Flush(ctx))

	assert.Equal(t, 500, rec.total())
}
