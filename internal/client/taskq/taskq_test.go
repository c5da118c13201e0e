package taskq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelt/photovault/internal/common"
)

func TestAdd_ResolvesValue(t *testing.T) {
	q := New[int]("test", 2)
	defer q.Close()

	h := q.Add(context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	v, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestConcurrencyBound(t *testing.T) {
	q := New[struct{}]("test", 2)
	defer q.Close()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		h := q.Add(context.Background(), func(ctx context.Context) (struct{}, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return struct{}{}, nil
		})
		go func() {
			defer wg.Done()
			_, _ = h.Wait(context.Background())
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestClear_DropsUnstartedTasks(t *testing.T) {
	q := New[int]("test", 1)
	defer q.Close()

	block := make(chan struct{})
	first := q.Add(context.Background(), func(ctx context.Context) (int, error) {
		<-block
		return 1, nil
	})

	// wait for the worker to pick up the blocking task so the next add
	// stays queued
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)

	queued := q.Add(context.Background(), func(ctx context.Context) (int, error) {
		return 2, nil
	})
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, time.Millisecond)

	q.Clear(errors.New("scrolled away"))
	_, err := queued.Wait(context.Background())
	assert.ErrorIs(t, err, common.ErrQueueCleared)

	close(block)
	v, err := first.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestAdd_CancelledBeforeStart(t *testing.T) {
	q := New[int]("test", 1)
	defer q.Close()

	block := make(chan struct{})
	q.Add(context.Background(), func(ctx context.Context) (int, error) {
		<-block
		return 0, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	h := q.Add(ctx, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	cancel()
	close(block)

	_, err := h.Wait(context.Background())
	assert.ErrorIs(t, err, common.ErrCancelled)
}

func TestErrorCallback(t *testing.T) {
	var seen atomic.Int32
	boom := errors.New("boom")
	q := New[int]("test", 1, WithErrorCallback[int](func(err error) {
		if errors.Is(err, boom) {
			seen.Add(1)
		}
	}))
	defer q.Close()

	h := q.Add(context.Background(), func(ctx context.Context) (int, error) {
		return 0, boom
	})
	_, err := h.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), seen.Load())
}

func TestLIFO_ServesNewestFirst(t *testing.T) {
	q := New[int]("test", 1, WithLIFO[int]())
	defer q.Close()

	block := make(chan struct{})
	var order []int
	var mu sync.Mutex

	blocker := q.Add(context.Background(), func(ctx context.Context) (int, error) {
		<-block
		return 0, nil
	})
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)

	var handles []*Handle[int]
	for i := 1; i <= 3; i++ {
		i := i
		handles = append(handles, q.Add(context.Background(), func(ctx context.Context) (int, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		}))
	}
	require.Eventually(t, func() bool { return q.Len() == 3 }, time.Second, time.Millisecond)
	close(block)

	_, _ = blocker.Wait(context.Background())
	for _, h := range handles {
		_, err := h.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestClose_ResolvesPendingAndRejectsNew(t *testing.T) {
	q := New[int]("test", 1)

	block := make(chan struct{})
	q.Add(context.Background(), func(ctx context.Context) (int, error) {
		<-block
		return 0, nil
	})
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	pending := q.Add(context.Background(), func(ctx context.Context) (int, error) {
		return 1, nil
	})

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(block)
	}()
	q.Close()

	_, err := pending.Wait(context.Background())
	assert.ErrorIs(t, err, common.ErrQueueCleared)

	_, err = q.Add(context.Background(), func(ctx context.Context) (int, error) {
		return 0, nil
	}).Wait(context.Background())
	assert.ErrorIs(t, err, common.ErrQueueCleared)
}
