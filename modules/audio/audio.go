package audio

import (
	"context"
	"time"
)

const EncodingPCM16 = "pcm16le"

type Format struct {
	SampleRate int
	Channels   int
	Encoding   string
}

// VoiceCall is the format carried on a narrowband call transmit path.
var VoiceCall = Format{SampleRate: 8000, Channels: 1, Encoding: EncodingPCM16}

// BytesPerSecond is zero for formats other than PCM16.
func (f Format) BytesPerSecond() int {
	if f.Encoding != EncodingPCM16 {
		return 0
	}
	return f.SampleRate * f.Channels * 2
}

// FrameBytes is the size of a frame of duration d, rounded down to whole
// sample frames.
func (f Format) FrameBytes(d time.Duration) int {
	bps := f.BytesPerSecond()
	if bps == 0 || d <= 0 {
		return 0
	}
	n := int(int64(bps) * int64(d) / int64(time.Second))
	align := f.Channels * 2
	return n - n%align
}

type Frame struct {
	Data      []byte
	Format    Format
	Timestamp time.Time
}

type Buffer struct {
	Data   []byte
	Format Format
}

func (b *Buffer) Duration() time.Duration {
	bps := b.Format.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(len(b.Data)) * int64(time.Second) / int64(bps))
}

// Playback consumes frames until in is closed or ctx is done.
type Playback interface {
	Name() string
	Play(ctx context.Context, in <-chan Frame) error
	Close() error
}
