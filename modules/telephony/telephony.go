// Package telephony asks the host platform to place outbound calls. The
// platform owns the call afterwards; nothing here observes its progress.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/clawdbot/callnode/modules/command"
)

// ErrPermissionDenied means the outbound-call capability is unavailable.
var ErrPermissionDenied = errors.New("outbound call capability unavailable")

type Dialer interface {
	Name() string
	// Available fails with ErrPermissionDenied when calls cannot be placed.
	Available() error
	Dial(ctx context.Context, number string) error
}

// CommandDialer places calls through an external program, for example
// termux-telephony-call on Android.
type CommandDialer struct {
	tpl    command.Template
	runner command.Runner
	logf   func(string, ...any)
}

func NewCommandDialer(tpl command.Template, runner command.Runner, logf func(string, ...any)) *CommandDialer {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	if len(tpl.Args) == 0 {
		tpl.Args = []string{"{number}"}
	}
	return &CommandDialer{tpl: tpl, runner: runner, logf: logf}
}

func (d *CommandDialer) Name() string {
	return strings.TrimSpace(d.tpl.Command)
}

func (d *CommandDialer) Available() error {
	if _, err := d.tpl.Resolve(); err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return nil
}

func (d *CommandDialer) Dial(ctx context.Context, number string) error {
	number = strings.TrimSpace(number)
	if number == "" {
		return fmt.Errorf("phone number is required")
	}
	d.logf("dialing %s via %s", number, d.Name())
	return d.tpl.Run(ctx, map[string]string{"number": number}, d.runner)
}
