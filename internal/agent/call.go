package agent

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/clawdbot/callnode/internal/api"
	"github.com/clawdbot/callnode/internal/assets"
	"github.com/clawdbot/callnode/internal/config"
	"github.com/clawdbot/callnode/internal/operator"
	"github.com/clawdbot/callnode/internal/session"
	"github.com/clawdbot/callnode/modules/inject"
	"go.uber.org/zap"
)

func (a *Agent) onCommand(gen int, cmd *api.Command) {
	if gen != a.gen || a.conn != Connected {
		a.logger.Debug("stale poll result discarded")
		return
	}
	if cmd.Action != api.ActionMakeCall {
		a.logger.Info("ignoring command", zap.String("action", string(cmd.Action)))
		return
	}
	if strings.TrimSpace(cmd.CallID) == "" || strings.TrimSpace(cmd.PhoneNumber) == "" {
		a.logger.Warn("ignoring make_call without callId or phoneNumber", zap.String("callId", cmd.CallID))
		return
	}
	if a.current != nil {
		if a.current.sess.CallID == cmd.CallID {
			a.logger.Info("duplicate command for active call", zap.String("callId", cmd.CallID))
			return
		}
		a.busy(cmd)
		return
	}
	a.startCall(cmd)
}

func (a *Agent) busy(cmd *api.Command) {
	if a.cfg.BusyPolicy == config.BusyQueue && len(a.pending) < a.cfg.QueueSize {
		for _, p := range a.pending {
			if p.CallID == cmd.CallID {
				return
			}
		}
		a.pending = append(a.pending, cmd)
		a.publishStatus()
		a.logger.Info("call queued", zap.String("callId", cmd.CallID), zap.Int("pending", len(a.pending)))
		return
	}
	a.logger.Warn("call rejected: device busy", zap.String("callId", cmd.CallID))
	a.deps.Reporter.ReportStatus(cmd.CallID, session.Report{Status: session.StatusFailed, Notes: session.NoteDeviceBusy})
	a.notifyError(cmd.CallID, "Rejected call to "+cmd.PhoneNumber+": "+ErrBusy.Error())
}

func (a *Agent) startCall(cmd *api.Command) {
	sess := session.New(cmd.CallID, cmd.PhoneNumber, cmd.AudioFileID, session.Options{
		MaxTicks:     a.cfg.MaxTicks,
		TickInterval: a.cfg.MonitorTick,
		Observer:     a.deps.Observer,
	})
	ctx, cancel := context.WithCancel(a.ctx)
	run := &callRun{sess: sess, ctx: ctx, cancel: cancel}
	a.current = run
	log := a.logger.With(zap.String("callId", sess.CallID))

	if ev, err := sess.Initiate(); err == nil {
		a.publish(run, ev)
	}
	if err := a.deps.Dialer.Available(); err != nil {
		log.Warn("outbound call capability unavailable", zap.Error(err))
		a.notifyError(sess.CallID, "Phone permission required")
		if ev, err := sess.Fail(session.NotePermissionDenied); err == nil {
			a.publish(run, ev)
		}
		a.finish(run)
		return
	}
	a.notify(sess.CallID, "Making call to "+sess.PhoneNumber)
	if sess.HasAudio() {
		a.prefetch(run)
	}

	run.requestedAt = time.Now()
	number := sess.PhoneNumber
	go func() {
		err := a.deps.Dialer.Dial(ctx, number)
		a.post(func() { a.onDialed(run, err) })
	}()
}

func (a *Agent) prefetch(run *callRun) {
	if a.deps.Assets == nil {
		return
	}
	id := run.sess.AudioFileID
	ok := a.deps.Worker.Enqueue(func(ctx context.Context) error {
		asset, err := a.deps.Assets.Resolve(ctx, id)
		a.post(func() { a.onAsset(run, asset, err) })
		return nil
	})
	if !ok {
		a.logger.Warn("audio download dropped: worker unavailable", zap.Int("audioFileId", id))
	}
}

func (a *Agent) onAsset(run *callRun, asset *assets.Asset, err error) {
	if err != nil {
		a.logger.Warn("audio download failed", zap.String("callId", run.sess.CallID), zap.Error(err))
		a.notifyError(run.sess.CallID, "Failed to download audio")
		return
	}
	run.asset = asset
	if run == a.current && !run.sess.Terminal() {
		a.notify(run.sess.CallID, "Audio file ready")
	}
}

func (a *Agent) onDialed(run *callRun, err error) {
	if run != a.current || run.sess.Terminal() {
		return
	}
	sess := run.sess
	if err != nil {
		a.logger.Warn("call request failed", zap.String("callId", sess.CallID), zap.Error(err))
		a.notifyError(sess.CallID, "Failed to make call: "+err.Error())
		if ev, ferr := sess.Fail("Error: " + err.Error()); ferr == nil {
			a.publish(run, ev)
		}
		a.finish(run)
		return
	}
	if ev, err := sess.Dial(); err == nil {
		a.publish(run, ev)
	}
	a.notify(sess.CallID, "Call initiated to "+sess.PhoneNumber)
	a.startMonitor(run)
	if sess.HasAudio() {
		delay := a.cfg.AudioDelay - time.Since(run.requestedAt)
		if delay < 0 {
			delay = 0
		}
		run.audioTimer = time.AfterFunc(delay, func() {
			a.post(func() { a.onAudioDue(run) })
		})
	}
}

func (a *Agent) startMonitor(run *callRun) {
	go func() {
		ticker := time.NewTicker(a.cfg.MonitorTick)
		defer ticker.Stop()
		for {
			select {
			case <-run.ctx.Done():
				return
			case <-ticker.C:
				if !a.post(func() { a.onTick(run) }) {
					return
				}
			}
		}
	}()
}

func (a *Agent) onTick(run *callRun) {
	if run != a.current || run.sess.Terminal() {
		return
	}
	events, err := run.sess.Tick()
	if err != nil {
		a.logger.Debug("tick ignored", zap.String("callId", run.sess.CallID), zap.Error(err))
		return
	}
	for _, ev := range events {
		a.publish(run, ev)
		if ev.To == session.Answered {
			a.deps.Notifier.PromptDTMF(operator.Prompt{
				CallID:      run.sess.CallID,
				PhoneNumber: run.sess.PhoneNumber,
				Options:     append([]string(nil), session.DTMFOptions...),
				At:          time.Now(),
			})
		}
	}
	if run.sess.Terminal() {
		a.finish(run)
		return
	}
	a.publishStatus()
}

func (a *Agent) onAudioDue(run *callRun) {
	if run != a.current || run.sess.Terminal() {
		return
	}
	sess := run.sess
	if sess.State() != session.Answered {
		a.logger.Info("audio skipped: call not answered", zap.String("callId", sess.CallID), zap.String("state", sess.State().String()))
		return
	}
	if a.deps.Injector == nil || a.deps.Assets == nil {
		return
	}
	asset := run.asset
	if asset == nil {
		if cached, ok := a.deps.Assets.Lookup(run.ctx, sess.AudioFileID); ok {
			asset = cached
		}
	}
	if asset == nil || !asset.Present {
		a.notifyError(sess.CallID, "Audio file not available for playback")
		return
	}
	if _, err := sess.BeginAudio(); err != nil {
		return
	}
	a.publishStatus()
	a.notify(sess.CallID, "Injecting audio to target number")
	store := a.deps.Assets
	src := inject.Source{
		ID:   asset.ID,
		Path: asset.LocalPath,
		Open: func(ctx context.Context) (io.ReadCloser, error) { return store.Open(ctx, asset) },
	}
	go func() {
		res, err := a.deps.Injector.Play(run.ctx, src)
		a.post(func() { a.onAudioDone(run, res, err) })
	}()
}

func (a *Agent) onAudioDone(run *callRun, res *inject.Result, err error) {
	sess := run.sess
	if !sess.Terminal() && sess.State() == session.AudioPlaying {
		_, _ = sess.EndAudio()
		a.publishStatus()
	}
	switch {
	case err == nil && res.Delivered():
		a.logger.Info("audio delivered", zap.String("callId", sess.CallID), zap.String("strategy", res.Strategy))
		a.notify(sess.CallID, "Message delivered to target")
	case errors.Is(err, context.Canceled):
		a.logger.Info("audio stopped: call ended", zap.String("callId", sess.CallID))
	default:
		a.logger.Warn("audio injection failed", zap.String("callId", sess.CallID), zap.String("attempts", res.Summary()), zap.Error(err))
		a.notifyError(sess.CallID, "Failed to play audio")
	}
}

func (a *Agent) onObservation(obs operator.Observation) {
	run := a.current
	if run == nil {
		a.logger.Info("operator input ignored: no active call", zap.String("kind", string(obs.Kind)))
		return
	}
	sess := run.sess
	if obs.CallID != "" && obs.CallID != sess.CallID {
		a.logger.Info("operator input ignored: not the active call", zap.String("callId", obs.CallID))
		return
	}
	switch obs.Kind {
	case operator.KindDTMF:
		value := strings.TrimSpace(obs.Value)
		send, err := sess.RecordDTMF(value)
		if err != nil {
			a.logger.Info("dtmf ignored", zap.String("callId", sess.CallID), zap.Error(err))
			return
		}
		if send {
			a.deps.Reporter.ReportDTMF(sess.CallID, value)
		}
		a.deps.Notifier.ClearPrompt(sess.CallID)
		a.notify(sess.CallID, "DTMF Response: "+value)
		a.publishStatus()
	case operator.KindCallEnded:
		ev, err := sess.End()
		if err != nil {
			a.logger.Info("call end ignored", zap.String("callId", sess.CallID), zap.Error(err))
			return
		}
		a.publish(run, ev)
		a.finish(run)
	}
}

func (a *Agent) publish(run *callRun, ev session.Event) {
	a.logger.Info("call transition",
		zap.String("callId", run.sess.CallID),
		zap.String("from", ev.From.String()),
		zap.String("to", ev.To.String()))
	if ev.Published() {
		a.deps.Reporter.ReportStatus(run.sess.CallID, ev.Report)
	}
}

// finish releases a terminal session and starts the next queued call.
func (a *Agent) finish(run *callRun) {
	a.stopRun(run)
	if a.current == run {
		a.current = nil
	}
	a.deps.Notifier.ClearPrompt(run.sess.CallID)
	a.notify(run.sess.CallID, "Ready for next call")
	if len(a.pending) > 0 && a.current == nil {
		next := a.pending[0]
		a.pending = a.pending[1:]
		a.startCall(next)
	}
	a.publishStatus()
}

func (a *Agent) stopRun(run *callRun) {
	if run.audioTimer != nil {
		run.audioTimer.Stop()
	}
	run.cancel()
}
