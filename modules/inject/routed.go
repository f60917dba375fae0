package inject

import (
	"context"
	"fmt"
	"strings"

	"github.com/clawdbot/callnode/modules/command"
)

// Player plays a local file on the voice-call stream.
type Player interface {
	Play(ctx context.Context, path string) error
}

// CommandPlayer plays through an external program, for example
// "play-audio -s voice_call {path}".
type CommandPlayer struct {
	tpl    command.Template
	runner command.Runner
}

func NewCommandPlayer(tpl command.Template, runner command.Runner) *CommandPlayer {
	return &CommandPlayer{tpl: tpl, runner: runner}
}

func (p *CommandPlayer) Play(ctx context.Context, path string) error {
	if p.tpl.Empty() {
		return fmt.Errorf("%w: no player configured", ErrUnimplemented)
	}
	return p.tpl.Run(ctx, map[string]string{"path": path}, p.runner)
}

// RoutedPlayback plays the file with the speaker off, transient
// communication focus and the call stream at full volume.
type RoutedPlayback struct {
	router AudioRouter
	player Player
}

func NewRoutedPlayback(router AudioRouter, player Player) *RoutedPlayback {
	if router == nil {
		router = NopRouter{}
	}
	return &RoutedPlayback{router: router, player: player}
}

func (r *RoutedPlayback) Name() string { return "routed" }

func (r *RoutedPlayback) Inject(ctx context.Context, src Source) error {
	if r.player == nil {
		return fmt.Errorf("%w: no player", ErrUnimplemented)
	}
	if strings.TrimSpace(src.Path) == "" {
		return fmt.Errorf("%w: asset %d is not a local file", ErrUnimplemented, src.ID)
	}
	release, err := r.router.Acquire(ctx, Route{
		Mode:           ModeInCall,
		Speakerphone:   false,
		TransientFocus: true,
		MaxCallVolume:  true,
	})
	if err != nil {
		return err
	}
	defer release()
	return r.player.Play(ctx, src.Path)
}
