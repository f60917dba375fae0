// Package session tracks one outbound call attempt from request to a
// terminal outcome. A Session is not safe for concurrent use; the agent
// drives it from a single goroutine.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTerminal    = errors.New("call session already ended")
	ErrNotAnswered = errors.New("call session not answered")
	ErrInvalidMove = errors.New("invalid call session transition")
	ErrDTMFDone    = errors.New("dtmf already recorded for call")
	ErrInvalidDTMF = errors.New("invalid dtmf response")
)

type State int

const (
	Initiated State = iota
	Dialing
	Answered
	AudioPlaying
	Completed
	Failed
	NoAnswer
)

func (s State) String() string {
	switch s {
	case Initiated:
		return "initiated"
	case Dialing:
		return "dialing"
	case Answered:
		return "answered"
	case AudioPlaying:
		return "audio_playing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case NoAnswer:
		return "no_answer"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == NoAnswer
}

// Status is the lifecycle value sent to the server.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusAnswered  Status = "answered"
	StatusFailed    Status = "failed"
	StatusNoAnswer  Status = "no_answer"
	StatusCompleted Status = "completed"
)

const (
	NotePermissionDenied = "permission_denied"
	NoteManualEnd        = "Manual end"
	NoteDeviceBusy       = "device_busy"
)

// Report is one status publication produced by a transition.
type Report struct {
	Status   Status
	Answered *bool
	Notes    string
}

// Event is a transition together with the report it produces. Transitions
// that are not published carry a zero Report.
type Event struct {
	From   State
	To     State
	Report Report
}

// Published reports whether the event has something to send upstream.
func (e Event) Published() bool {
	return e.Report.Status != ""
}

// Signal is what an observer concluded from a monitor tick.
type Signal int

const (
	SignalNone Signal = iota
	SignalAnswered
)

// Snapshot is the view of a session handed to a CallStateObserver.
type Snapshot struct {
	CallID   string
	Tick     int
	Elapsed  time.Duration
	Answered bool
}

// CallStateObserver decides, tick by tick, whether the remote party has
// picked up. The platform exposes no call progress, so every implementation
// is a policy.
type CallStateObserver interface {
	Observe(snapshot Snapshot) Signal
}

// ObserverFunc adapts a function to CallStateObserver.
type ObserverFunc func(Snapshot) Signal

func (f ObserverFunc) Observe(s Snapshot) Signal { return f(s) }

type Options struct {
	MaxTicks     int
	TickInterval time.Duration
	Observer     CallStateObserver
	Now          func() time.Time
}

type Session struct {
	CallID      string
	PhoneNumber string
	AudioFileID int
	StartedAt   time.Time
	AnsweredAt  *time.Time

	state        State
	tickCount    int
	initiated    bool
	dtmfRecorded bool

	maxTicks     int
	tickInterval time.Duration
	observer     CallStateObserver
	now          func() time.Time
}

func New(callID, phoneNumber string, audioFileID int, opts Options) *Session {
	if opts.MaxTicks <= 0 {
		opts.MaxTicks = 30
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Observer == nil {
		opts.Observer = ObserverFunc(func(Snapshot) Signal { return SignalNone })
	}
	return &Session{
		CallID:       strings.TrimSpace(callID),
		PhoneNumber:  strings.TrimSpace(phoneNumber),
		AudioFileID:  audioFileID,
		StartedAt:    opts.Now(),
		state:        Initiated,
		maxTicks:     opts.MaxTicks,
		tickInterval: opts.TickInterval,
		observer:     opts.Observer,
		now:          opts.Now,
	}
}

func (s *Session) State() State { return s.state }

func (s *Session) TickCount() int { return s.tickCount }

// IsAnswered reports whether the call reached Answered at some point.
func (s *Session) IsAnswered() bool { return s.AnsweredAt != nil }

func (s *Session) Terminal() bool { return s.state.Terminal() }

// HasAudio reports whether an audio asset is attached to the call.
func (s *Session) HasAudio() bool { return s.AudioFileID > 0 }

// Initiate produces the initiated report. It may be called once.
func (s *Session) Initiate() (Event, error) {
	if s.state.Terminal() {
		return Event{}, ErrTerminal
	}
	if s.initiated || s.state != Initiated {
		return Event{}, ErrInvalidMove
	}
	s.initiated = true
	return Event{From: Initiated, To: Initiated, Report: Report{Status: StatusInitiated}}, nil
}

// Dial records that the platform accepted the call request.
func (s *Session) Dial() (Event, error) {
	if s.state.Terminal() {
		return Event{}, ErrTerminal
	}
	if s.state != Initiated {
		return Event{}, ErrInvalidMove
	}
	return s.move(Dialing, Report{}), nil
}

// Fail ends the session with the given reason.
func (s *Session) Fail(notes string) (Event, error) {
	if s.state.Terminal() {
		return Event{}, ErrTerminal
	}
	return s.move(Failed, Report{Status: StatusFailed, Notes: notes}), nil
}

// Tick advances the monitor by one interval. It may produce an answered
// transition, a terminal transition at the tick cap, both in that order, or
// nothing.
func (s *Session) Tick() ([]Event, error) {
	if s.state.Terminal() {
		return nil, ErrTerminal
	}
	if s.state == Initiated {
		return nil, ErrInvalidMove
	}
	s.tickCount++
	var events []Event
	if !s.IsAnswered() {
		signal := s.observer.Observe(Snapshot{
			CallID:  s.CallID,
			Tick:    s.tickCount,
			Elapsed: s.now().Sub(s.StartedAt),
		})
		if signal == SignalAnswered {
			now := s.now()
			s.AnsweredAt = &now
			events = append(events, s.move(Answered, Report{Status: StatusAnswered, Answered: boolPtr(true)}))
		}
	}
	if s.tickCount >= s.maxTicks {
		if s.IsAnswered() {
			seconds := int(s.now().Sub(s.StartedAt) / time.Second)
			events = append(events, s.move(Completed, Report{
				Status:   StatusCompleted,
				Answered: boolPtr(true),
				Notes:    fmt.Sprintf("Duration: %ds", seconds),
			}))
		} else {
			window := time.Duration(s.maxTicks) * s.tickInterval
			events = append(events, s.move(NoAnswer, Report{
				Status:   StatusNoAnswer,
				Answered: boolPtr(false),
				Notes:    "No answer after " + window.String(),
			}))
		}
	}
	return events, nil
}

// End records the operator asserting that the call is over.
func (s *Session) End() (Event, error) {
	if s.state.Terminal() {
		return Event{}, ErrTerminal
	}
	if !s.IsAnswered() {
		return Event{}, ErrNotAnswered
	}
	return s.move(Completed, Report{Status: StatusCompleted, Answered: boolPtr(true), Notes: NoteManualEnd}), nil
}

// BeginAudio marks injected audio as playing. It is not published.
func (s *Session) BeginAudio() (Event, error) {
	if s.state.Terminal() {
		return Event{}, ErrTerminal
	}
	if s.state != Answered {
		return Event{}, ErrNotAnswered
	}
	return s.move(AudioPlaying, Report{}), nil
}

// EndAudio returns a playing session to Answered. Pipeline failures never
// change the outcome, so this is the only exit besides a terminal move.
func (s *Session) EndAudio() (Event, error) {
	if s.state.Terminal() {
		return Event{}, ErrTerminal
	}
	if s.state != AudioPlaying {
		return Event{}, ErrInvalidMove
	}
	return s.move(Answered, Report{}), nil
}

// RecordDTMF accepts the operator's keypad observation. It returns true when
// the value must be reported; "No Response" is accepted but never sent.
func (s *Session) RecordDTMF(value string) (bool, error) {
	if s.state.Terminal() {
		return false, ErrTerminal
	}
	if !s.IsAnswered() {
		return false, ErrNotAnswered
	}
	if s.dtmfRecorded {
		return false, ErrDTMFDone
	}
	value = strings.TrimSpace(value)
	if !ValidDTMF(value) {
		return false, fmt.Errorf("%w: %q", ErrInvalidDTMF, value)
	}
	s.dtmfRecorded = true
	return value != NoResponse, nil
}

func (s *Session) move(to State, report Report) Event {
	from := s.state
	s.state = to
	return Event{From: from, To: to, Report: report}
}

func boolPtr(v bool) *bool { return &v }
