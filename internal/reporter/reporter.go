// Package reporter publishes call lifecycle events without blocking the
// caller. Reports run on the shared network worker in submission order and
// their outcome is only logged.
package reporter

import (
	"context"
	"strings"
	"time"

	"github.com/clawdbot/callnode/internal/api"
	"github.com/clawdbot/callnode/internal/queue"
	"github.com/clawdbot/callnode/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sender is the part of the API client the reporter needs.
type Sender interface {
	ReportCallStatus(ctx context.Context, callID string, report api.StatusReport) error
	ReportDTMF(ctx context.Context, callID string, report api.DTMFReport) error
}

// Worker runs tasks sequentially.
type Worker interface {
	Enqueue(task queue.Task) bool
}

type Kind string

const (
	KindStatus Kind = "status"
	KindDTMF   Kind = "dtmf"
)

// Entry is one report, kept whole so that it can be replayed.
type Entry struct {
	ID       string            `json:"id"`
	Kind     Kind              `json:"kind"`
	CallID   string            `json:"callId"`
	Status   *api.StatusReport `json:"status,omitempty"`
	DTMF     *api.DTMFReport   `json:"dtmf,omitempty"`
	Attempts int               `json:"attempts"`
}

// Send delivers the entry once.
func (e *Entry) Send(ctx context.Context, sender Sender) error {
	switch e.Kind {
	case KindDTMF:
		if e.DTMF == nil {
			return nil
		}
		return sender.ReportDTMF(ctx, e.CallID, *e.DTMF)
	default:
		if e.Status == nil {
			return nil
		}
		return sender.ReportCallStatus(ctx, e.CallID, *e.Status)
	}
}

// Spool keeps failed entries for a later attempt.
type Spool interface {
	Push(ctx context.Context, entry *Entry) error
}

type Options struct {
	Sender Sender
	Worker Worker
	Logger *zap.Logger
	// Spool is nil by default: failed reports are dropped.
	Spool Spool
	Now   func() time.Time
}

type Reporter struct {
	sender Sender
	worker Worker
	logger *zap.Logger
	spool  Spool
	now    func() time.Time
}

func New(opts Options) *Reporter {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Reporter{
		sender: opts.Sender,
		worker: opts.Worker,
		logger: logger,
		spool:  opts.Spool,
		now:    now,
	}
}

// ReportStatus submits a call status report. The timestamp is taken now,
// not when the worker gets to it.
func (r *Reporter) ReportStatus(callID string, report session.Report) bool {
	if strings.TrimSpace(callID) == "" || report.Status == "" {
		return false
	}
	entry := &Entry{
		ID:     uuid.NewString(),
		Kind:   KindStatus,
		CallID: callID,
		Status: &api.StatusReport{
			Status:    string(report.Status),
			Answered:  report.Answered,
			Notes:     report.Notes,
			Timestamp: api.Timestamp(r.now()),
		},
	}
	return r.submit(entry)
}

// ReportDTMF submits an operator-observed keypad value.
func (r *Reporter) ReportDTMF(callID, value string) bool {
	if strings.TrimSpace(callID) == "" || strings.TrimSpace(value) == "" {
		return false
	}
	entry := &Entry{
		ID:     uuid.NewString(),
		Kind:   KindDTMF,
		CallID: callID,
		DTMF: &api.DTMFReport{
			DTMFResponse: value,
			Timestamp:    api.Timestamp(r.now()),
		},
	}
	return r.submit(entry)
}

func (r *Reporter) submit(entry *Entry) bool {
	ok := r.worker.Enqueue(func(ctx context.Context) error {
		r.deliver(ctx, entry)
		return nil
	})
	if !ok {
		r.logger.Warn("report dropped: worker unavailable", zap.String("callId", entry.CallID), zap.String("kind", string(entry.Kind)))
	}
	return ok
}

func (r *Reporter) deliver(ctx context.Context, entry *Entry) {
	entry.Attempts++
	err := entry.Send(ctx, r.sender)
	if err == nil {
		r.logger.Debug("report sent", zap.String("callId", entry.CallID), zap.String("kind", string(entry.Kind)))
		return
	}
	r.logger.Warn("report failed", zap.String("callId", entry.CallID), zap.String("kind", string(entry.Kind)), zap.Error(err))
	if r.spool == nil || !api.IsTemporary(err) {
		return
	}
	if err := r.spool.Push(ctx, entry); err != nil {
		r.logger.Error("report spool failed", zap.String("callId", entry.CallID), zap.Error(err))
	}
}
