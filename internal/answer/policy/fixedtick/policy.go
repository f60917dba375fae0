// Package fixedtick assumes a call is answered after a fixed number of
// monitor ticks.
package fixedtick

import (
	"github.com/clawdbot/callnode/internal/answer"
	"github.com/clawdbot/callnode/internal/session"
)

const defaultAnswerTick = 3

type Policy struct {
	answerTick int
	logf       func(string, ...any)
}

func init() {
	answer.Register(answer.DefaultPolicy, New)
}

func New(cfg answer.Config, logf func(string, ...any)) (session.CallStateObserver, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	tick := cfg.AnswerTick
	if tick <= 0 {
		tick = defaultAnswerTick
	}
	return &Policy{answerTick: tick, logf: logf}, nil
}

func (p *Policy) Observe(s session.Snapshot) session.Signal {
	if s.Answered || s.Tick < p.answerTick {
		return session.SignalNone
	}
	p.logf("call %s assumed answered at tick %d", s.CallID, s.Tick)
	return session.SignalAnswered
}
