package operator

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notice is a user-visible status line.
type Notice struct {
	At      time.Time `json:"at"`
	Level   Level     `json:"level"`
	CallID  string    `json:"callId,omitempty"`
	Message string    `json:"message"`
}

// Prompt asks the operator what the remote party pressed.
type Prompt struct {
	CallID      string    `json:"callId"`
	PhoneNumber string    `json:"phoneNumber"`
	Options     []string  `json:"options"`
	At          time.Time `json:"at"`
}

// Notifier is the user-facing surface.
type Notifier interface {
	Notify(n Notice)
	PromptDTMF(p Prompt)
	ClearPrompt(callID string)
}

// Notifiers fans out to every member.
type Notifiers []Notifier

func (ns Notifiers) Notify(n Notice) {
	for _, x := range ns {
		x.Notify(n)
	}
}

func (ns Notifiers) PromptDTMF(p Prompt) {
	for _, x := range ns {
		x.PromptDTMF(p)
	}
}

func (ns Notifiers) ClearPrompt(callID string) {
	for _, x := range ns {
		x.ClearPrompt(callID)
	}
}

// WriterNotifier prints notices and prompts for a terminal operator.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (n *WriterNotifier) Notify(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if notice.Level == LevelError {
		fmt.Fprintf(n.w, "! %s\n", notice.Message)
		return
	}
	fmt.Fprintf(n.w, "* %s\n", notice.Message)
}

func (n *WriterNotifier) PromptDTMF(p Prompt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.w, "? Call to %s is active. Did the caller press any buttons? [%s] or \"end\"\n",
		p.PhoneNumber, strings.Join(p.Options, " | "))
}

func (n *WriterNotifier) ClearPrompt(string) {}
