package fixedtick

import (
	"fmt"
	"testing"

	"github.com/clawdbot/callnode/internal/answer"
	"github.com/clawdbot/callnode/internal/session"
)

type recorder struct {
	lines []string
}

func (r *recorder) logf(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func TestFixedTickAnswersAtConfiguredTick(t *testing.T) {
	rec := &recorder{}
	policy, err := New(answer.Config{AnswerTick: 3}, rec.logf)
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	for tick := 1; tick < 3; tick++ {
		if got := policy.Observe(session.Snapshot{CallID: "c1", Tick: tick}); got != session.SignalNone {
			t.Fatalf("tick %d: expected no signal, got %v", tick, got)
		}
	}
	if got := policy.Observe(session.Snapshot{CallID: "c1", Tick: 3}); got != session.SignalAnswered {
		t.Fatalf("expected answered at tick 3")
	}
	if len(rec.lines) != 1 {
		t.Fatalf("expected one log line, got %d", len(rec.lines))
	}
}

func TestFixedTickIgnoresAnsweredCalls(t *testing.T) {
	policy, err := New(answer.Config{AnswerTick: 1}, nil)
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	if got := policy.Observe(session.Snapshot{Tick: 5, Answered: true}); got != session.SignalNone {
		t.Fatalf("expected no signal for an answered call")
	}
}

func TestFixedTickDefaultTick(t *testing.T) {
	policy, err := New(answer.Config{}, nil)
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	if policy.Observe(session.Snapshot{Tick: 2}) != session.SignalNone {
		t.Fatalf("unexpected answer before default tick")
	}
	if policy.Observe(session.Snapshot{Tick: 3}) != session.SignalAnswered {
		t.Fatalf("expected answer at default tick")
	}
}

func TestRegistryResolvesDefault(t *testing.T) {
	observer, err := answer.New("", answer.Config{AnswerTick: 2}, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if observer.Observe(session.Snapshot{Tick: 2}) != session.SignalAnswered {
		t.Fatalf("expected registry policy to answer at tick 2")
	}
	if _, err := answer.New("carrier-events", answer.Config{}, nil); err == nil {
		t.Fatalf("expected unknown policy error")
	}
}
