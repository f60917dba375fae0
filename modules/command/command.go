// Package command runs configured external programs with placeholder
// arguments such as {number} or {path}.
package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

type Template struct {
	Command string
	Args    []string
}

func (t Template) Empty() bool {
	return strings.TrimSpace(t.Command) == ""
}

// Expand substitutes {key} placeholders in every argument.
func (t Template) Expand(vars map[string]string) []string {
	if len(t.Args) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	replacer := strings.NewReplacer(pairs...)
	out := make([]string, len(t.Args))
	for i, arg := range t.Args {
		out[i] = replacer.Replace(arg)
	}
	return out
}

// Resolve finds the program on PATH.
func (t Template) Resolve() (string, error) {
	cmd := strings.TrimSpace(t.Command)
	if cmd == "" {
		return "", fmt.Errorf("command not configured")
	}
	return exec.LookPath(cmd)
}

func (t Template) String() string {
	cmd := strings.TrimSpace(t.Command)
	if len(t.Args) == 0 {
		return cmd
	}
	return fmt.Sprintf("%s %s", cmd, strings.Join(t.Args, " "))
}

// Runner executes a resolved program. Tests replace it.
type Runner func(ctx context.Context, path string, args []string) error

// Exec runs the program and folds its stderr into the error.
func Exec(ctx context.Context, path string, args []string) error {
	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", path, err, msg)
		}
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Run resolves, expands and executes t.
func (t Template) Run(ctx context.Context, vars map[string]string, runner Runner) error {
	path, err := t.Resolve()
	if err != nil {
		return err
	}
	if runner == nil {
		runner = Exec
	}
	return runner(ctx, path, t.Expand(vars))
}
