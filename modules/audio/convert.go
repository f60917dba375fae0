package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Convert downmixes and resamples a PCM16 buffer to the target format.
// Resampling is linear, which is adequate for narrowband speech.
func Convert(buf *Buffer, target Format) (*Buffer, error) {
	if buf == nil {
		return nil, fmt.Errorf("nil buffer")
	}
	if buf.Format.Encoding != EncodingPCM16 || target.Encoding != EncodingPCM16 {
		return nil, fmt.Errorf("%w: %s to %s", ErrUnsupported, buf.Format.Encoding, target.Encoding)
	}
	if target.Channels != 1 {
		return nil, fmt.Errorf("%w: %d output channels", ErrUnsupported, target.Channels)
	}
	samples := toMono(buf)
	samples = resample(samples, buf.Format.SampleRate, target.SampleRate)
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return &Buffer{Data: out, Format: target}, nil
}

func toMono(buf *Buffer) []int16 {
	channels := buf.Format.Channels
	if channels <= 0 {
		channels = 1
	}
	frames := len(buf.Data) / (2 * channels)
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			sum += int(int16(binary.LittleEndian.Uint16(buf.Data[off:])))
		}
		out[i] = int16(sum / channels)
	}
	return out
}

func resample(in []int16, from, to int) []int16 {
	if from == to || len(in) == 0 || from <= 0 || to <= 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]int16, n)
	ratio := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(idx)
		a, b := float64(in[idx]), float64(in[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// Split cuts buf into frames of duration d. The last frame may be short.
func Split(buf *Buffer, d time.Duration) []Frame {
	size := buf.Format.FrameBytes(d)
	if size <= 0 {
		return nil
	}
	frames := make([]Frame, 0, len(buf.Data)/size+1)
	for off := 0; off < len(buf.Data); off += size {
		end := off + size
		if end > len(buf.Data) {
			end = len(buf.Data)
		}
		frames = append(frames, Frame{Data: buf.Data[off:end], Format: buf.Format})
	}
	return frames
}
