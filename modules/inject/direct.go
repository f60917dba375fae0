package inject

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clawdbot/callnode/modules/audio"
)

const DefaultFrameDuration = 20 * time.Millisecond

// DeviceOpener opens a playback device bound to the call transmit path.
type DeviceOpener interface {
	Open(ctx context.Context, format audio.Format) (audio.Playback, error)
}

// DirectStream decodes the asset to call-format PCM and streams it, paced in
// real time, to a transmit-path device.
type DirectStream struct {
	opener    DeviceOpener
	router    AudioRouter
	frameSize time.Duration
}

func NewDirectStream(opener DeviceOpener, router AudioRouter) *DirectStream {
	if router == nil {
		router = NopRouter{}
	}
	return &DirectStream{opener: opener, router: router, frameSize: DefaultFrameDuration}
}

func (d *DirectStream) Name() string { return "direct" }

func (d *DirectStream) Inject(ctx context.Context, src Source) error {
	if d.opener == nil {
		return fmt.Errorf("%w: %w", ErrUnimplemented, ErrNoDevice)
	}
	rc, err := src.open(ctx)
	if err != nil {
		return err
	}
	buf, err := audio.DecodeWAV(rc)
	_ = rc.Close()
	if err != nil {
		if errors.Is(err, audio.ErrUnsupported) {
			return fmt.Errorf("%w: %w", ErrUnimplemented, err)
		}
		return err
	}
	pcm, err := audio.Convert(buf, audio.VoiceCall)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnimplemented, err)
	}

	release, err := d.router.Acquire(ctx, Route{Mode: ModeInCommunication})
	if err != nil {
		return err
	}
	defer release()

	dev, err := d.opener.Open(ctx, audio.VoiceCall)
	if err != nil {
		if errors.Is(err, ErrNoDevice) {
			return fmt.Errorf("%w: %w", ErrUnimplemented, err)
		}
		return err
	}
	defer func() { _ = dev.Close() }()
	return stream(ctx, dev, audio.Split(pcm, d.frameSize), d.frameSize)
}

// stream feeds frames to dev one frame duration apart.
func stream(ctx context.Context, dev audio.Playback, frames []audio.Frame, every time.Duration) error {
	ch := make(chan audio.Frame)
	played := make(chan error, 1)
	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { played <- dev.Play(playCtx, ch) }()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	start := time.Now()
	for i, frame := range frames {
		if i > 0 {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				close(ch)
				<-played
				return ctx.Err()
			case err := <-played:
				return deviceStopped(err)
			}
		}
		frame.Timestamp = start.Add(time.Duration(i) * every)
		select {
		case ch <- frame:
		case <-ctx.Done():
			close(ch)
			<-played
			return ctx.Err()
		case err := <-played:
			return deviceStopped(err)
		}
	}
	close(ch)
	return <-played
}

func deviceStopped(err error) error {
	if err == nil {
		return fmt.Errorf("output device stopped early")
	}
	return err
}
