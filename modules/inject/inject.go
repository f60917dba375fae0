// Package inject routes a cached audio asset into an active call's transmit
// path. Strategies are tried in order and the first success wins.
package inject

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

var (
	// ErrUnimplemented means a strategy cannot handle this input or device
	// at all, as opposed to trying and failing.
	ErrUnimplemented = errors.New("injection not implemented")
	ErrBusy          = errors.New("audio output device busy")
	ErrNoDevice      = errors.New("no audio output device")
	ErrAllFailed     = errors.New("no injection strategy succeeded")
)

// Source is the asset to inject.
type Source struct {
	ID int
	// Path is the local file, when there is one.
	Path string
	Open func(ctx context.Context) (io.ReadCloser, error)
}

func (s Source) open(ctx context.Context) (io.ReadCloser, error) {
	if s.Open == nil {
		return nil, fmt.Errorf("asset %d has no reader", s.ID)
	}
	return s.Open(ctx)
}

type Strategy interface {
	Name() string
	Inject(ctx context.Context, src Source) error
}

type Outcome int

const (
	Delivered Outcome = iota
	Unimplemented
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Unimplemented:
		return "unimplemented"
	default:
		return "failed"
	}
}

type Attempt struct {
	Strategy string
	Outcome  Outcome
	Err      error
}

type Result struct {
	Strategy string
	Attempts []Attempt
}

func (r *Result) Delivered() bool {
	return r != nil && r.Strategy != ""
}

// Summary is a one-line description suitable for a user notice.
func (r *Result) Summary() string {
	if r == nil || len(r.Attempts) == 0 {
		return "no strategies"
	}
	parts := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		if a.Err != nil && a.Outcome == Failed {
			parts = append(parts, fmt.Sprintf("%s: %s (%v)", a.Strategy, a.Outcome, a.Err))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", a.Strategy, a.Outcome))
	}
	return strings.Join(parts, "; ")
}

// Pipeline owns the audio output device. At most one Play runs at a time.
type Pipeline struct {
	strategies []Strategy
	logf       func(string, ...any)
	mu         sync.Mutex
	busy       bool
}

func NewPipeline(logf func(string, ...any), strategies ...Strategy) *Pipeline {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Pipeline{strategies: strategies, logf: logf}
}

func (p *Pipeline) Strategies() []string {
	names := make([]string, 0, len(p.strategies))
	for _, s := range p.strategies {
		names = append(names, s.Name())
	}
	return names
}

func (p *Pipeline) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy {
		return false
	}
	p.busy = true
	return true
}

func (p *Pipeline) release() {
	p.mu.Lock()
	p.busy = false
	p.mu.Unlock()
}

// Play tries each strategy in order until one delivers the asset. Cancelling
// ctx stops the current strategy and skips the rest.
func (p *Pipeline) Play(ctx context.Context, src Source) (*Result, error) {
	if !p.acquire() {
		return nil, ErrBusy
	}
	defer p.release()

	result := &Result{}
	var errs []error
	for _, s := range p.strategies {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		err := s.Inject(ctx, src)
		switch {
		case err == nil:
			result.Attempts = append(result.Attempts, Attempt{Strategy: s.Name(), Outcome: Delivered})
			result.Strategy = s.Name()
			p.logf("audio %d delivered via %s", src.ID, s.Name())
			return result, nil
		case errors.Is(err, ErrUnimplemented):
			result.Attempts = append(result.Attempts, Attempt{Strategy: s.Name(), Outcome: Unimplemented, Err: err})
			p.logf("audio %d: %s unimplemented: %v", src.ID, s.Name(), err)
		default:
			result.Attempts = append(result.Attempts, Attempt{Strategy: s.Name(), Outcome: Failed, Err: err})
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			p.logf("audio %d: %s failed: %v", src.ID, s.Name(), err)
		}
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, errors.Join(append([]error{ErrAllFailed}, errs...)...)
}
