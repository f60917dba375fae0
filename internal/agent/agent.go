// Package agent turns polled commands into monitored calls. All session and
// connection state is owned by one event loop goroutine; network work runs on
// the shared worker and its results are posted back to the loop.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/clawdbot/callnode/internal/api"
	"github.com/clawdbot/callnode/internal/assets"
	"github.com/clawdbot/callnode/internal/config"
	"github.com/clawdbot/callnode/internal/operator"
	"github.com/clawdbot/callnode/internal/poller"
	"github.com/clawdbot/callnode/internal/queue"
	"github.com/clawdbot/callnode/internal/session"
	"github.com/clawdbot/callnode/modules/inject"
	"github.com/clawdbot/callnode/modules/telephony"
	"go.uber.org/zap"
)

var (
	ErrBusy       = errors.New("device busy")
	ErrNotRunning = errors.New("agent not running")
	ErrSuperseded = errors.New("connection attempt superseded")
)

// Client is the part of the API the agent drives directly.
type Client interface {
	Register(ctx context.Context, reg api.DeviceRegistration) (*api.RegistrationResult, error)
	UpdateDeviceStatus(ctx context.Context, status api.DeviceStatus) error
	PollCommand(ctx context.Context) (*api.Command, error)
}

type Worker interface {
	Enqueue(task queue.Task) bool
	Run(ctx context.Context, task queue.Task) (bool, error)
}

type Reporter interface {
	ReportStatus(callID string, report session.Report) bool
	ReportDTMF(callID, value string) bool
}

type Assets interface {
	Resolve(ctx context.Context, assetID int) (*assets.Asset, error)
	Lookup(ctx context.Context, assetID int) (*assets.Asset, bool)
	Open(ctx context.Context, asset *assets.Asset) (io.ReadCloser, error)
}

type Injector interface {
	Play(ctx context.Context, src inject.Source) (*inject.Result, error)
}

// Presence is told when the node comes online and goes offline.
type Presence interface {
	Advertise() error
	Withdraw()
}

type Config struct {
	Registration api.DeviceRegistration
	PollInterval time.Duration
	MonitorTick  time.Duration
	MaxTicks     int
	AudioDelay   time.Duration
	BusyPolicy   string
	QueueSize    int
}

type Deps struct {
	Client   Client
	Worker   Worker
	Reporter Reporter
	Dialer   telephony.Dialer
	Observer session.CallStateObserver
	Assets   Assets
	Injector Injector
	Notifier operator.Notifier
	Presence Presence
	Logger   *zap.Logger
}

type ConnState string

const (
	Disconnected ConnState = "disconnected"
	Connecting   ConnState = "connecting"
	Connected    ConnState = "connected"
)

type callRun struct {
	sess        *session.Session
	ctx         context.Context
	cancel      context.CancelFunc
	requestedAt time.Time
	asset       *assets.Asset
	audioTimer  *time.Timer
}

type Agent struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	poller *poller.Poller

	inbox   chan func()
	done    chan struct{}
	runOnce sync.Once

	// Owned by the loop.
	ctx        context.Context
	conn       ConnState
	gen        int
	pollCancel context.CancelFunc
	current    *callRun
	pending    []*api.Command

	statusMu sync.RWMutex
	status   Status
}

func New(cfg Config, deps Deps) (*Agent, error) {
	if deps.Client == nil || deps.Worker == nil || deps.Reporter == nil || deps.Dialer == nil {
		return nil, fmt.Errorf("agent requires client, worker, reporter and dialer")
	}
	if cfg.MonitorTick <= 0 {
		cfg.MonitorTick = time.Second
	}
	if cfg.MaxTicks <= 0 {
		cfg.MaxTicks = 30
	}
	if cfg.AudioDelay < 0 {
		cfg.AudioDelay = 0
	}
	if cfg.BusyPolicy == "" {
		cfg.BusyPolicy = config.BusyReject
	}
	if cfg.BusyPolicy != config.BusyReject && cfg.BusyPolicy != config.BusyQueue {
		return nil, fmt.Errorf("unsupported busy policy: %s", cfg.BusyPolicy)
	}
	if deps.Notifier == nil {
		deps.Notifier = operator.Notifiers{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		inbox:  make(chan func(), 64),
		done:   make(chan struct{}),
		conn:   Disconnected,
	}
	a.poller = poller.New(deps.Client, deps.Worker, cfg.PollInterval, logger.Sugar().Infof)
	a.publishStatus()
	return a, nil
}

// Run is the event loop. It returns when ctx is done.
func (a *Agent) Run(ctx context.Context, observations <-chan operator.Observation) error {
	started := false
	a.runOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("agent already ran")
	}
	defer close(a.done)
	a.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case fn := <-a.inbox:
			fn()
		case obs, ok := <-observations:
			if !ok {
				observations = nil
				continue
			}
			a.onObservation(obs)
		}
	}
}

func (a *Agent) post(fn func()) bool {
	select {
	case a.inbox <- fn:
		return true
	case <-a.done:
		return false
	}
}

// Connect registers the device and starts polling. It waits for the
// registration outcome.
func (a *Agent) Connect(ctx context.Context) error {
	reply := make(chan error, 1)
	if !a.post(func() { a.onConnect(reply) }) {
		return ErrNotRunning
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrNotRunning
	}
}

// Disconnect stops polling and marks the device offline. A call in progress
// runs to its end.
func (a *Agent) Disconnect(ctx context.Context) error {
	reply := make(chan error, 1)
	if !a.post(func() {
		a.onDisconnect()
		reply <- nil
	}) {
		return ErrNotRunning
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrNotRunning
	}
}

// Observe hands an operator observation to the loop.
func (a *Agent) Observe(obs operator.Observation) bool {
	return a.post(func() { a.onObservation(obs) })
}

func (a *Agent) onConnect(reply chan<- error) {
	switch a.conn {
	case Connected:
		reply <- nil
		return
	case Connecting:
		reply <- fmt.Errorf("connection already in progress")
		return
	}
	a.conn = Connecting
	a.gen++
	gen := a.gen
	a.publishStatus()
	reg := a.cfg.Registration
	ok := a.deps.Worker.Enqueue(func(ctx context.Context) error {
		res, err := a.deps.Client.Register(ctx, reg)
		a.post(func() { a.onRegistered(gen, res, err, reply) })
		return nil
	})
	if !ok {
		a.conn = Disconnected
		a.publishStatus()
		err := fmt.Errorf("registration not started: worker unavailable")
		a.notifyError("", "Registration failed: "+err.Error())
		reply <- err
	}
}

func (a *Agent) onRegistered(gen int, res *api.RegistrationResult, err error, reply chan<- error) {
	if gen != a.gen || a.conn != Connecting {
		reply <- ErrSuperseded
		return
	}
	if err != nil {
		a.conn = Disconnected
		a.publishStatus()
		a.logger.Warn("registration failed", zap.Error(err))
		a.notifyError("", "Registration failed: "+err.Error())
		reply <- err
		return
	}
	a.conn = Connected
	a.publishStatus()
	msg := "Connected to server"
	if res != nil && res.Message != "" {
		msg = res.Message
	}
	a.logger.Info("registered", zap.String("deviceId", a.cfg.Registration.DeviceID))
	a.notify("", msg)
	a.sendPresence(api.DeviceOnline)

	pollCtx, cancel := context.WithCancel(a.ctx)
	a.pollCancel = cancel
	go a.poller.Run(pollCtx, func(cmd *api.Command) {
		a.post(func() { a.onCommand(gen, cmd) })
	})
	if a.deps.Presence != nil {
		if err := a.deps.Presence.Advertise(); err != nil {
			a.logger.Warn("presence advertise failed", zap.Error(err))
		}
	}
	reply <- nil
}

func (a *Agent) onDisconnect() {
	switch a.conn {
	case Disconnected:
		return
	case Connecting:
		a.gen++
		a.conn = Disconnected
		a.publishStatus()
		return
	}
	a.stopPolling()
	a.gen++
	a.conn = Disconnected
	a.publishStatus()
	a.sendPresence(api.DeviceOffline)
	if a.deps.Presence != nil {
		a.deps.Presence.Withdraw()
	}
	a.notify("", "Disconnected")
}

func (a *Agent) stopPolling() {
	if a.pollCancel != nil {
		a.pollCancel()
		a.pollCancel = nil
	}
}

func (a *Agent) sendPresence(status api.DeviceStatus) {
	ok := a.deps.Worker.Enqueue(func(ctx context.Context) error {
		if err := a.deps.Client.UpdateDeviceStatus(ctx, status); err != nil {
			a.logger.Warn("device status update failed", zap.String("status", string(status)), zap.Error(err))
		}
		return nil
	})
	if !ok {
		a.logger.Warn("device status update dropped", zap.String("status", string(status)))
	}
}

func (a *Agent) shutdown() {
	if a.conn == Connected {
		a.stopPolling()
		a.sendPresence(api.DeviceOffline)
		if a.deps.Presence != nil {
			a.deps.Presence.Withdraw()
		}
	}
	a.gen++
	a.conn = Disconnected
	if a.current != nil {
		a.stopRun(a.current)
		a.current = nil
	}
	a.pending = nil
	a.publishStatus()
}

func (a *Agent) notify(callID, msg string) {
	a.deps.Notifier.Notify(operator.Notice{At: time.Now(), Level: operator.LevelInfo, CallID: callID, Message: msg})
}

func (a *Agent) notifyError(callID, msg string) {
	a.deps.Notifier.Notify(operator.Notice{At: time.Now(), Level: operator.LevelError, CallID: callID, Message: msg})
}
