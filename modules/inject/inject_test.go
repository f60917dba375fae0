package inject

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/clawdbot/callnode/modules/audio"
	"github.com/clawdbot/callnode/modules/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStrategy struct {
	name  string
	err   error
	calls int
	block chan struct{}
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Inject(ctx context.Context, _ Source) error {
	s.calls++
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

type recordingRouter struct {
	mu       sync.Mutex
	routes   []Route
	releases int
	err      error
}

func (r *recordingRouter) Acquire(_ context.Context, route Route) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
	if r.err != nil {
		return func() {}, r.err
	}
	return func() {
		r.mu.Lock()
		r.releases++
		r.mu.Unlock()
	}, nil
}

type fakeDevice struct {
	mu     sync.Mutex
	frames []audio.Frame
	closed bool
	err    error
}

func (d *fakeDevice) Name() string { return "fake" }

func (d *fakeDevice) Play(ctx context.Context, in <-chan audio.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-in:
			if !ok {
				return nil
			}
			d.mu.Lock()
			d.frames = append(d.frames, f)
			d.mu.Unlock()
			if d.err != nil {
				return d.err
			}
		}
	}
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

type fakeOpener struct {
	dev *fakeDevice
	err error
}

func (o *fakeOpener) Open(context.Context, audio.Format) (audio.Playback, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.dev, nil
}

func wavSource(t *testing.T, samples int, format audio.Format) Source {
	t.Helper()
	var buf bytes.Buffer
	data := make([]byte, samples*2*format.Channels)
	require.NoError(t, audio.EncodeWAV(&buf, &audio.Buffer{Data: data, Format: format}))
	raw := buf.Bytes()
	return Source{ID: 1, Path: "/tmp/audio_1.wav", Open: func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}}
}

func mp3Source() Source {
	return Source{ID: 2, Path: "/tmp/audio_2.mp3", Open: func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader([]byte("ID3\x04\x00\x00\x00\x00\x00\x00frames"))), nil
	}}
}

func TestPipelineFirstSuccessWins(t *testing.T) {
	first := &stubStrategy{name: "direct", err: ErrUnimplemented}
	second := &stubStrategy{name: "routed"}
	third := &stubStrategy{name: "never"}
	p := NewPipeline(nil, first, second, third)

	res, err := p.Play(context.Background(), Source{ID: 1})
	require.NoError(t, err)
	assert.True(t, res.Delivered())
	assert.Equal(t, "routed", res.Strategy)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, Unimplemented, res.Attempts[0].Outcome)
	assert.Equal(t, Delivered, res.Attempts[1].Outcome)
	assert.Zero(t, third.calls)
}

func TestPipelineAllFail(t *testing.T) {
	boom := errors.New("player crashed")
	p := NewPipeline(nil, &stubStrategy{name: "direct", err: ErrUnimplemented}, &stubStrategy{name: "routed", err: boom})
	res, err := p.Play(context.Background(), Source{ID: 1})
	assert.ErrorIs(t, err, ErrAllFailed)
	assert.ErrorIs(t, err, boom)
	assert.False(t, res.Delivered())
	assert.Contains(t, res.Summary(), "direct: unimplemented")
	assert.Contains(t, res.Summary(), "routed: failed (player crashed)")
}

func TestPipelineIsExclusive(t *testing.T) {
	block := make(chan struct{})
	p := NewPipeline(nil, &stubStrategy{name: "slow", block: block})
	done := make(chan error, 1)
	go func() {
		_, err := p.Play(context.Background(), Source{ID: 1})
		done <- err
	}()
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.busy
	}, time.Second, time.Millisecond)

	_, err := p.Play(context.Background(), Source{ID: 2})
	assert.ErrorIs(t, err, ErrBusy)
	close(block)
	require.NoError(t, <-done)

	_, err = p.Play(context.Background(), Source{ID: 3})
	assert.NoError(t, err)
}

func TestPipelineCancelStops(t *testing.T) {
	slow := &stubStrategy{name: "slow", block: make(chan struct{}), err: errors.New("unused")}
	next := &stubStrategy{name: "next"}
	p := NewPipeline(nil, slow, next)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := p.Play(ctx, Source{ID: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, next.calls)
}

func TestDirectStreamDeliversCallFormatFrames(t *testing.T) {
	dev := &fakeDevice{}
	router := &recordingRouter{}
	d := NewDirectStream(&fakeOpener{dev: dev}, router)
	d.frameSize = 5 * time.Millisecond
	src := wavSource(t, 1600, audio.Format{SampleRate: 16000, Channels: 2, Encoding: audio.EncodingPCM16})

	require.NoError(t, d.Inject(context.Background(), src))
	total := 0
	for _, f := range dev.frames {
		assert.Equal(t, audio.VoiceCall, f.Format)
		total += len(f.Data)
	}
	assert.Equal(t, 1600, total)
	assert.Len(t, dev.frames, 20)
	assert.True(t, dev.closed)
	assert.Equal(t, []Route{{Mode: ModeInCommunication}}, router.routes)
	assert.Equal(t, 1, router.releases)
}

func TestDirectStreamUnimplementedForCompressedAudio(t *testing.T) {
	router := &recordingRouter{}
	d := NewDirectStream(&fakeOpener{dev: &fakeDevice{}}, router)
	err := d.Inject(context.Background(), mp3Source())
	assert.ErrorIs(t, err, ErrUnimplemented)
	assert.Empty(t, router.routes)
}

func TestDirectStreamWithoutDevice(t *testing.T) {
	router := &recordingRouter{}
	d := NewDirectStream(&fakeOpener{err: ErrNoDevice}, router)
	err := d.Inject(context.Background(), wavSource(t, 80, audio.VoiceCall))
	assert.ErrorIs(t, err, ErrUnimplemented)
	assert.Equal(t, 1, router.releases)

	assert.ErrorIs(t, NewDirectStream(nil, nil).Inject(context.Background(), mp3Source()), ErrUnimplemented)
}

func TestDirectStreamDeviceFailure(t *testing.T) {
	boom := errors.New("gateway hung up")
	dev := &fakeDevice{err: boom}
	router := &recordingRouter{}
	d := NewDirectStream(&fakeOpener{dev: dev}, router)
	d.frameSize = time.Millisecond
	err := d.Inject(context.Background(), wavSource(t, 800, audio.VoiceCall))
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, ErrUnimplemented))
	assert.Equal(t, 1, router.releases)
	assert.True(t, dev.closed)
}

type fakePlayer struct {
	paths []string
	err   error
}

func (p *fakePlayer) Play(_ context.Context, path string) error {
	p.paths = append(p.paths, path)
	return p.err
}

func TestRoutedPlaybackRestoresRoute(t *testing.T) {
	router := &recordingRouter{}
	player := &fakePlayer{err: errors.New("player exited 1")}
	r := NewRoutedPlayback(router, player)

	err := r.Inject(context.Background(), mp3Source())
	assert.Error(t, err)
	assert.Equal(t, []string{"/tmp/audio_2.mp3"}, player.paths)
	require.Len(t, router.routes, 1)
	assert.Equal(t, Route{Mode: ModeInCall, TransientFocus: true, MaxCallVolume: true}, router.routes[0])
	assert.Equal(t, 1, router.releases)

	player.err = nil
	require.NoError(t, r.Inject(context.Background(), mp3Source()))
	assert.Equal(t, 2, router.releases)
}

func TestRoutedPlaybackNeedsLocalFile(t *testing.T) {
	r := NewRoutedPlayback(&recordingRouter{}, &fakePlayer{})
	err := r.Inject(context.Background(), Source{ID: 4})
	assert.ErrorIs(t, err, ErrUnimplemented)
}

func TestRoutedPlaybackRouteFailure(t *testing.T) {
	player := &fakePlayer{}
	r := NewRoutedPlayback(&recordingRouter{err: errors.New("focus denied")}, player)
	assert.Error(t, r.Inject(context.Background(), mp3Source()))
	assert.Empty(t, player.paths)
}

func TestCommandRouterRunsInAndOut(t *testing.T) {
	var calls [][]string
	runner := func(_ context.Context, _ string, args []string) error {
		calls = append(calls, args)
		return nil
	}
	in := command.Template{Command: "sh", Args: []string{"{mode}", "{speaker}", "{focus}", "{volume}"}}
	out := command.Template{Command: "sh", Args: []string{"normal"}}
	r := NewCommandRouter(in, out, runner, nil)
	release, err := r.Acquire(context.Background(), Route{Mode: ModeInCall, TransientFocus: true, MaxCallVolume: true})
	if err != nil {
		t.Skipf("sh not available: %v", err)
	}
	release()
	assert.Equal(t, [][]string{{"in_call", "false", "true", "max"}, {"normal"}}, calls)
}

func TestCommandRouterEmptyTemplates(t *testing.T) {
	r := NewCommandRouter(command.Template{}, command.Template{}, nil, nil)
	release, err := r.Acquire(context.Background(), Route{})
	require.NoError(t, err)
	release()
}

func TestCommandPlayerUnconfigured(t *testing.T) {
	p := NewCommandPlayer(command.Template{}, nil)
	assert.ErrorIs(t, p.Play(context.Background(), "/x"), ErrUnimplemented)
}
