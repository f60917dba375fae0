// Package poller treats the server's command endpoint as a pull queue.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/clawdbot/callnode/internal/api"
	"github.com/clawdbot/callnode/internal/queue"
)

type Source interface {
	PollCommand(ctx context.Context) (*api.Command, error)
}

// Runner executes a task on the shared network worker and waits for it.
type Runner interface {
	Run(ctx context.Context, task queue.Task) (bool, error)
}

type Poller struct {
	source   Source
	worker   Runner
	interval time.Duration
	logf     func(string, ...any)
}

func New(source Source, worker Runner, interval time.Duration, logf func(string, ...any)) *Poller {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{source: source, worker: worker, interval: interval, logf: logf}
}

// Run polls immediately, then again one interval after each poll finishes,
// until ctx is done. A poll still in flight when ctx ends is left to finish
// on the worker and its result is dropped.
func (p *Poller) Run(ctx context.Context, handle func(*api.Command)) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		cmd := p.pollOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if cmd != nil {
			handle(cmd)
		}
		timer.Reset(p.interval)
	}
}

func (p *Poller) pollOnce(ctx context.Context) *api.Command {
	var (
		cmd     *api.Command
		pollErr error
	)
	ok, err := p.worker.Run(ctx, func(workerCtx context.Context) error {
		cmd, pollErr = p.source.PollCommand(workerCtx)
		return nil
	})
	if !ok {
		p.logf("poll skipped: worker unavailable")
		return nil
	}
	if err != nil {
		return nil
	}
	switch {
	case pollErr == nil:
		return cmd
	case errors.Is(pollErr, api.ErrNoCommand):
		return nil
	default:
		p.logf("poll failed: %v", pollErr)
		return nil
	}
}
