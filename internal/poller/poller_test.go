package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clawdbot/callnode/internal/api"
	"github.com/clawdbot/callnode/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type span struct {
	start time.Time
	end   time.Time
}

type fakeSource struct {
	mu       sync.Mutex
	spans    []span
	delay    time.Duration
	results  []*api.Command
	errs     []error
	inFlight int
	overlap  bool
}

func (f *fakeSource) PollCommand(ctx context.Context) (*api.Command, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > 1 {
		f.overlap = true
	}
	idx := len(f.spans)
	f.spans = append(f.spans, span{start: time.Now()})
	f.mu.Unlock()

	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	f.spans[idx].end = time.Now()
	var cmd *api.Command
	if idx < len(f.results) {
		cmd = f.results[idx]
	}
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	if cmd == nil && err == nil {
		err = api.ErrNoCommand
	}
	return cmd, err
}

func (f *fakeSource) polls() []span {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]span(nil), f.spans...)
}

func startWorker(t *testing.T) *queue.Queue {
	t.Helper()
	q := queue.New(4)
	ctx, cancel := context.WithCancel(context.Background())
	go q.Start(ctx)
	t.Cleanup(cancel)
	return q
}

func TestPollCadenceFromEndOfCycle(t *testing.T) {
	source := &fakeSource{delay: 15 * time.Millisecond}
	p := New(source, startWorker(t), 30*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, func(*api.Command) {})
		close(done)
	}()
	require.Eventually(t, func() bool { return len(source.polls()) >= 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	spans := source.polls()
	assert.False(t, source.overlap)
	for i := 1; i < len(spans); i++ {
		if spans[i-1].end.IsZero() {
			continue
		}
		gap := spans[i].start.Sub(spans[i-1].end)
		assert.GreaterOrEqual(t, gap, 30*time.Millisecond, "gap before poll %d", i)
	}
}

func TestFirstPollIsImmediate(t *testing.T) {
	source := &fakeSource{}
	p := New(source, startWorker(t), time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, func(*api.Command) {})
	require.Eventually(t, func() bool { return len(source.polls()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestCommandsAreHandedOver(t *testing.T) {
	want := &api.Command{Action: api.ActionMakeCall, PhoneNumber: "1", CallID: "c1"}
	source := &fakeSource{
		results: []*api.Command{nil, want},
		errs:    []error{errors.New("dial tcp: refused")},
	}
	var logged []string
	var mu sync.Mutex
	logf := func(format string, args ...any) {
		mu.Lock()
		logged = append(logged, format)
		mu.Unlock()
	}
	p := New(source, startWorker(t), 5*time.Millisecond, logf)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *api.Command, 4)
	go p.Run(ctx, func(cmd *api.Command) { got <- cmd })

	select {
	case cmd := <-got:
		assert.Equal(t, want, cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("expected command")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, logged, "poll failed: %v")
}

func TestInFlightResultDiscardedOnStop(t *testing.T) {
	source := &fakeSource{
		delay:   50 * time.Millisecond,
		results: []*api.Command{{Action: api.ActionMakeCall, CallID: "late"}},
	}
	p := New(source, startWorker(t), time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	handled := make(chan *api.Command, 1)
	done := make(chan struct{})
	go func() {
		p.Run(ctx, func(cmd *api.Command) { handled <- cmd })
		close(done)
	}()
	require.Eventually(t, func() bool { return len(source.polls()) == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done
	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, handled)
	spans := source.polls()
	assert.False(t, spans[0].end.IsZero(), "in-flight poll should complete on the worker")
}
