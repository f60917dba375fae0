package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrUnsupported is returned for input that is not 16-bit PCM WAV.
var ErrUnsupported = errors.New("unsupported audio encoding")

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// IsWAV reports whether header starts a RIFF/WAVE stream.
func IsWAV(header []byte) bool {
	return len(header) >= 12 && bytes.Equal(header[0:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE"))
}

// DecodeWAV reads a 16-bit PCM WAV stream into a buffer.
func DecodeWAV(r io.Reader) (*Buffer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !IsWAV(data) {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrUnsupported)
	}
	var (
		format  Format
		haveFmt bool
		pcm     []byte
	)
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := uint64(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		// A size past the end marks a stream written before its length was known.
		end := len(data)
		if size <= uint64(len(data)-body) {
			end = body + int(size)
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, fmt.Errorf("wav fmt chunk too short: %d", end-body)
			}
			chunk := data[body:end]
			tag := binary.LittleEndian.Uint16(chunk[0:2])
			channels := int(binary.LittleEndian.Uint16(chunk[2:4]))
			rate := int(binary.LittleEndian.Uint32(chunk[4:8]))
			bits := binary.LittleEndian.Uint16(chunk[14:16])
			if tag != wavFormatPCM && tag != wavFormatExtensible {
				return nil, fmt.Errorf("%w: wav format tag %d", ErrUnsupported, tag)
			}
			if bits != 16 {
				return nil, fmt.Errorf("%w: %d-bit samples", ErrUnsupported, bits)
			}
			if channels <= 0 || rate <= 0 {
				return nil, fmt.Errorf("invalid wav format: channels=%d rate=%d", channels, rate)
			}
			format = Format{SampleRate: rate, Channels: channels, Encoding: EncodingPCM16}
			haveFmt = true
		case "data":
			pcm = data[body:end]
		}
		if uint64(end-body) < size {
			break
		}
		offset = end + int(size%2)
	}
	if !haveFmt {
		return nil, fmt.Errorf("wav stream has no fmt chunk")
	}
	if pcm == nil {
		return nil, fmt.Errorf("wav stream has no data chunk")
	}
	align := format.Channels * 2
	pcm = pcm[:len(pcm)-len(pcm)%align]
	out := make([]byte, len(pcm))
	copy(out, pcm)
	return &Buffer{Data: out, Format: format}, nil
}

// EncodeWAV writes buf as a canonical 44-byte-header WAV stream.
func EncodeWAV(w io.Writer, buf *Buffer) error {
	if buf.Format.Encoding != EncodingPCM16 {
		return fmt.Errorf("%w: %s", ErrUnsupported, buf.Format.Encoding)
	}
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(buf.Data)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(header[22:24], uint16(buf.Format.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(buf.Format.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(buf.Format.BytesPerSecond()))
	binary.LittleEndian.PutUint16(header[32:34], uint16(buf.Format.Channels*2))
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(buf.Data)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(buf.Data)
	return err
}
