package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRunsTasksSequentially(t *testing.T) {
	q := New(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	var active, maxActive int32
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		require.True(t, q.Enqueue(func(context.Context) error {
			defer wg.Done()
			n := atomic.AddInt32(&active, 1)
			if n > atomic.LoadInt32(&maxActive) {
				atomic.StoreInt32(&maxActive, n)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			atomic.AddInt32(&active, -1)
			return nil
		}))
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&maxActive))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, order)
}

func TestQueueEnqueueAfterClose(t *testing.T) {
	q := New(1)
	q.Close()
	q.Close()
	assert.False(t, q.Enqueue(func(context.Context) error { return nil }))
}

func TestQueueEnqueueWhenFull(t *testing.T) {
	q := New(1)
	assert.True(t, q.Enqueue(func(context.Context) error { return nil }))
	assert.False(t, q.Enqueue(func(context.Context) error { return nil }))
}

func TestQueueRunReturnsTaskError(t *testing.T) {
	q := New(4)
	var hooked error
	q.OnError(func(err error) { hooked = err })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	boom := errors.New("boom")
	ok, err := q.Run(ctx, func(context.Context) error { return boom })
	require.True(t, ok)
	assert.ErrorIs(t, err, boom)
	q.Close()
	<-q.Done()
	assert.ErrorIs(t, hooked, boom)
}

func TestQueueDrainsOnClose(t *testing.T) {
	q := New(4)
	var ran int32
	for i := 0; i < 3; i++ {
		q.Enqueue(func(context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		})
	}
	q.Close()
	q.Start(context.Background())
	assert.EqualValues(t, 3, atomic.LoadInt32(&ran))
}
