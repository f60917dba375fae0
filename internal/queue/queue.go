// Package queue runs tasks one at a time on a single background worker.
package queue

import (
	"context"
	"sync"
)

type Task func(context.Context) error

type Queue struct {
	mu      sync.Mutex
	closed  bool
	ch      chan Task
	onError func(error)
	done    chan struct{}
}

func New(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{ch: make(chan Task, size), done: make(chan struct{})}
}

// OnError installs a hook for task errors. Must be set before Start.
func (q *Queue) OnError(fn func(error)) {
	q.onError = fn
}

// Start consumes tasks until ctx is done or the queue is closed and drained.
func (q *Queue) Start(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-q.ch:
			if !ok {
				return
			}
			if task == nil {
				continue
			}
			if err := task(ctx); err != nil && q.onError != nil {
				q.onError(err)
			}
		}
	}
}

// Enqueue never blocks: it reports false when the queue is closed or full.
func (q *Queue) Enqueue(task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- task:
		return true
	default:
		return false
	}
}

// Run enqueues task and blocks until it has executed or ctx is done.
// The task itself keeps running on the worker when ctx ends first.
func (q *Queue) Run(ctx context.Context, task Task) (bool, error) {
	result := make(chan error, 1)
	ok := q.Enqueue(func(workerCtx context.Context) error {
		err := task(workerCtx)
		result <- err
		return err
	})
	if !ok {
		return false, nil
	}
	select {
	case err := <-result:
		return true, err
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
}

// Done is closed once Start has returned.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}
