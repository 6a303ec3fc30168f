package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPool(t *testing.T, config *Config) *Pool {
	t.Helper()
	pool, err := New(config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)
	return pool
}

func TestSubmitWait(t *testing.T) {
	pool := newTestPool(t, &Config{Workers: 2, TaskTimeout: time.Second})

	var ran atomic.Bool
	err := pool.SubmitWait(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestSubmitWaitPropagatesError(t *testing.T) {
	pool := newTestPool(t, &Config{Workers: 1, TaskTimeout: time.Second})

	want := errors.New("boom")
	err := pool.SubmitWait(context.Background(), func(ctx context.Context) error {
		return want
	})

	assert.ErrorIs(t, err, want)
}

func TestSubmitWaitTimeout(t *testing.T) {
	pool := newTestPool(t, &Config{Workers: 1, TaskTimeout: 50 * time.Millisecond})

	// 任务不理会 ctx，靠 SubmitWait 的超时返回
	err := pool.SubmitWait(context.Background(), func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})

	assert.ErrorIs(t, err, ErrTimeout)
}

func TestBoundedConcurrency(t *testing.T) {
	const workers = 3
	pool := newTestPool(t, &Config{Workers: workers, TaskTimeout: time.Second})

	var running, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.SubmitWait(context.Background(), func(ctx context.Context) error {
				current := running.Add(1)
				defer running.Add(-1)
				for {
					observed := peak.Load()
					if current <= observed || peak.CompareAndSwap(observed, current) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(workers))
	assert.Positive(t, peak.Load())
}

func TestSubmitAfterShutdown(t *testing.T) {
	pool, err := New(&Config{Workers: 1, TaskTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	pool.Shutdown()

	err = pool.Submit(func() {})
	assert.ErrorIs(t, err, ErrPoolClosed)

	err = pool.SubmitWait(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}
