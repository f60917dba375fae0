// Package operator carries what a human observes about a call, such as the
// keypad response heard or the call having ended, plus the prompts and
// notices shown back to them. None of it comes from the telephony stack.
package operator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clawdbot/callnode/internal/session"
)

type Kind string

const (
	KindDTMF      Kind = "dtmf"
	KindCallEnded Kind = "call_ended"
)

// Observation is one operator assertion. An empty CallID means the call in
// progress.
type Observation struct {
	Kind   Kind
	CallID string
	Value  string
	Source string
	At     time.Time
}

// Channel produces observations until ctx is done.
type Channel interface {
	Name() string
	Observations(ctx context.Context) (<-chan Observation, error)
}

// Parse reads one command line: a DTMF option ("5", "#", "no response"),
// optionally prefixed with "dtmf", or "end" / "call ended". A trailing
// "@<callId>" targets a specific call.
func Parse(line string) (Observation, error) {
	text := strings.TrimSpace(line)
	var obs Observation
	if at := strings.LastIndex(text, "@"); at >= 0 {
		obs.CallID = strings.TrimSpace(text[at+1:])
		text = strings.TrimSpace(text[:at])
	}
	lower := strings.ToLower(strings.Join(strings.Fields(text), " "))
	switch lower {
	case "":
		return Observation{}, fmt.Errorf("empty operator input")
	case "end", "ended", "call ended", "hangup", "hang up":
		obs.Kind = KindCallEnded
		return obs, nil
	}
	lower = strings.TrimSpace(strings.TrimPrefix(lower, "dtmf"))
	if lower == "no response" || lower == "none" {
		obs.Kind = KindDTMF
		obs.Value = session.NoResponse
		return obs, nil
	}
	if session.ValidDTMF(lower) {
		obs.Kind = KindDTMF
		obs.Value = lower
		return obs, nil
	}
	return Observation{}, fmt.Errorf("unrecognised operator input %q", line)
}

// Merge fans several channels into one. The result closes once every input
// has closed or ctx is done.
func Merge(ctx context.Context, channels ...Channel) (<-chan Observation, error) {
	out := make(chan Observation, 16)
	var wg sync.WaitGroup
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		in, err := ch.Observations(ctx)
		if err != nil {
			return nil, fmt.Errorf("operator channel %s: %w", ch.Name(), err)
		}
		wg.Add(1)
		go func(in <-chan Observation) {
			defer wg.Done()
			for obs := range in {
				select {
				case out <- obs:
				case <-ctx.Done():
					return
				}
			}
		}(in)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}
