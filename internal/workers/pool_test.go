package workers_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/obseal/internal/workers"
)

func TestPoolDo(t *testing.T) {
	pool := workers.NewPool(2)
	assert.Equal(t, 2, pool.Size())

	ran := false
	err := pool.Do(context.Background(), func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	boom := errors.New("boom")
	err = pool.Do(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := workers.NewPool(2)

	var inFlight, peak int32
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			_ = pool.Do(context.Background(), func() error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPoolDoWaitsForSlot(t *testing.T) {
	pool := workers.NewPool(1)
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = pool.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := pool.Do(ctx, func() error {
		t.Error("must not run while the slot is held")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestPoolDoFinishesStartedWork(t *testing.T) {
	pool := workers.NewPool(1)
	ctx, cancel := context.WithCancel(context.Background())

	finished := false
	err := pool.Do(ctx, func() error {
		cancel()
		time.Sleep(5 * time.Millisecond)
		finished = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, finished)
}

func TestPoolClose(t *testing.T) {
	pool := workers.NewPool(1)
	pool.Close()
	err := pool.Do(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, workers.ErrPoolClosed)
}

func TestRunBatch(t *testing.T) {
	var count int32
	err := workers.RunBatch(context.Background(), 10, 3, func(ctx context.Context, i int) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(10), count)
}

func TestRunBatchCollectsErrors(t *testing.T) {
	boom := errors.New("odd item")
	err := workers.RunBatch(context.Background(), 6, 2, func(ctx context.Context, i int) error {
		if i%2 == 1 {
			return boom
		}
		return nil
	})
	require.Error(t, err)

	var batchErr *workers.BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Len(t, batchErr.Errors, 3)
	assert.Contains(t, batchErr.Errors, 1)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "first at 1")
}

func TestRunBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := workers.RunBatch(ctx, 4, 1, func(ctx context.Context, i int) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
