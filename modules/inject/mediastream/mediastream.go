// Package mediastream streams call audio to a media gateway over a websocket,
// using Media Streams style JSON messages.
package mediastream

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/clawdbot/callnode/modules/audio"
	"github.com/clawdbot/callnode/modules/inject"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type message struct {
	Event          string        `json:"event"`
	StreamSID      string        `json:"streamSid,omitempty"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	Start          *startMessage `json:"start,omitempty"`
	Media          *mediaPayload `json:"media,omitempty"`
	Mark           *markMessage  `json:"mark,omitempty"`
}

type startMessage struct {
	StreamSID   string      `json:"streamSid"`
	Tracks      []string    `json:"tracks"`
	MediaFormat mediaFormat `json:"mediaFormat"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type markMessage struct {
	Name string `json:"name"`
}

// Device dials the gateway once per injection.
type Device struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	logf   func(string, ...any)
}

func New(url string, header http.Header, logf func(string, ...any)) *Device {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Device{
		url:    strings.TrimSpace(url),
		header: header,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logf:   logf,
	}
}

// Open connects and announces the stream. An unconfigured URL yields
// inject.ErrNoDevice.
func (d *Device) Open(ctx context.Context, format audio.Format) (audio.Playback, error) {
	if d.url == "" {
		return nil, inject.ErrNoDevice
	}
	if format.Encoding != audio.EncodingPCM16 {
		return nil, fmt.Errorf("%w: %s", audio.ErrUnsupported, format.Encoding)
	}
	conn, resp, err := d.dialer.DialContext(ctx, d.url, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("media stream dial %s: %w", d.url, err)
	}
	s := &stream{conn: conn, sid: "MZ" + strings.ReplaceAll(uuid.NewString(), "-", ""), logf: d.logf}
	start := message{
		Event:     "start",
		StreamSID: s.sid,
		Start: &startMessage{
			StreamSID: s.sid,
			Tracks:    []string{"outbound"},
			MediaFormat: mediaFormat{
				Encoding:   "audio/l16",
				SampleRate: format.SampleRate,
				Channels:   format.Channels,
			},
		},
	}
	if err := s.write(start); err != nil {
		_ = conn.Close()
		return nil, err
	}
	d.logf("media stream %s opened to %s", s.sid, d.url)
	return s, nil
}

type stream struct {
	conn      *websocket.Conn
	sid       string
	seq       int
	logf      func(string, ...any)
	mu        sync.Mutex
	closeOnce sync.Once
}

func (s *stream) Name() string { return "mediastream:" + s.sid }

func (s *stream) Play(ctx context.Context, in <-chan audio.Frame) error {
	chunk := 0
	var first time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-in:
			if !ok {
				if err := s.write(message{Event: "mark", StreamSID: s.sid, Mark: &markMessage{Name: "end"}}); err != nil {
					return err
				}
				return s.write(message{Event: "stop", StreamSID: s.sid})
			}
			chunk++
			if first.IsZero() {
				first = frame.Timestamp
			}
			msg := message{
				Event:     "media",
				StreamSID: s.sid,
				Media: &mediaPayload{
					Track:     "outbound",
					Chunk:     strconv.Itoa(chunk),
					Timestamp: strconv.FormatInt(frame.Timestamp.Sub(first).Milliseconds(), 10),
					Payload:   base64.StdEncoding.EncodeToString(frame.Data),
				},
			}
			if err := s.write(msg); err != nil {
				return err
			}
		}
	}
}

func (s *stream) write(msg message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg.SequenceNumber = strconv.Itoa(s.seq)
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(msg)
}

func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}
