package inject

import (
	"context"
	"strconv"

	"github.com/clawdbot/callnode/modules/command"
)

const (
	ModeInCommunication = "in_communication"
	ModeInCall          = "in_call"
)

// Route is the audio configuration held while injecting.
type Route struct {
	Mode           string
	Speakerphone   bool
	TransientFocus bool
	MaxCallVolume  bool
}

// AudioRouter applies a route and returns the function that restores normal
// mode and abandons focus. The release function must always be called.
type AudioRouter interface {
	Acquire(ctx context.Context, route Route) (release func(), err error)
}

// NopRouter is used when the platform needs no routing step.
type NopRouter struct{}

func (NopRouter) Acquire(context.Context, Route) (func(), error) {
	return func() {}, nil
}

// CommandRouter applies routes with external programs. The in template may
// use {mode}, {speaker}, {focus} and {volume}.
type CommandRouter struct {
	in     command.Template
	out    command.Template
	runner command.Runner
	logf   func(string, ...any)
}

func NewCommandRouter(in, out command.Template, runner command.Runner, logf func(string, ...any)) *CommandRouter {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &CommandRouter{in: in, out: out, runner: runner, logf: logf}
}

func (r *CommandRouter) Acquire(ctx context.Context, route Route) (func(), error) {
	vars := map[string]string{
		"mode":    route.Mode,
		"speaker": strconv.FormatBool(route.Speakerphone),
		"focus":   strconv.FormatBool(route.TransientFocus),
		"volume":  "default",
	}
	if route.MaxCallVolume {
		vars["volume"] = "max"
	}
	release := func() {
		if r.out.Empty() {
			return
		}
		if err := r.out.Run(context.Background(), vars, r.runner); err != nil {
			r.logf("audio route restore failed: %v", err)
		}
	}
	if r.in.Empty() {
		return release, nil
	}
	if err := r.in.Run(ctx, vars, r.runner); err != nil {
		release()
		return func() {}, err
	}
	return release, nil
}
