package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/clawdbot/callnode/internal/agent"
	"github.com/clawdbot/callnode/internal/answer"
	_ "github.com/clawdbot/callnode/internal/answer/policy/fixedtick"
	"github.com/clawdbot/callnode/internal/assets"
	"github.com/clawdbot/callnode/internal/config"
	"github.com/clawdbot/callnode/internal/discovery"
	"github.com/clawdbot/callnode/internal/operator"
	"github.com/clawdbot/callnode/internal/operator/console"
	"github.com/clawdbot/callnode/internal/queue"
	"github.com/clawdbot/callnode/internal/reporter"
	"github.com/clawdbot/callnode/internal/reporter/outbox"
	"github.com/clawdbot/callnode/modules/command"
	"github.com/clawdbot/callnode/modules/inject"
	"github.com/clawdbot/callnode/modules/inject/mediastream"
	"github.com/clawdbot/callnode/modules/telephony"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const drainTimeout = 5 * time.Second

// RunCmd connects and serves call commands until interrupted.
type RunCmd struct {
	root      *Options
	Server    string `short:"s" long:"server" description:"server base URL"`
	Console   string `short:"c" long:"console" description:"operator console listen address, e.g. 127.0.0.1:8765"`
	Stdin     bool   `long:"stdin" description:"read operator input (DTMF, end) from stdin"`
	NoConnect bool   `long:"no-connect" description:"start disconnected; connect from the console"`
}

func (c *RunCmd) Execute(_ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := c.root.setup(ctx, c.Server)
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()
	cfg := e.cfg
	if c.Console != "" {
		cfg.Operator.ConsoleAddr = c.Console
	}
	if c.Stdin {
		cfg.Operator.Stdin = true
	}
	logger := e.logger
	logf := logger.Sugar().Infof

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	worker := queue.New(64)
	worker.OnError(func(err error) { logger.Warn("worker task failed", zap.Error(err)) })
	go worker.Start(workerCtx)

	repOpts := reporter.Options{Sender: e.client, Worker: worker, Logger: logger.Named("reporter")}
	if cfg.Reporter.Outbox.Enabled {
		ob, closeRedis := newOutbox(cfg.Reporter.Outbox, e, worker, logger.Named("outbox"))
		defer closeRedis()
		repOpts.Spool = ob
		go ob.Run(ctx)
	}
	rep := reporter.New(repOpts)

	observer, err := answer.New(cfg.Call.AnswerPolicy, answer.Config{AnswerTick: cfg.Call.AnswerTick}, logf)
	if err != nil {
		return err
	}
	dialer := telephony.NewCommandDialer(template(cfg.Dialer), command.Exec, logf)
	if err := dialer.Available(); err != nil {
		logger.Warn("dialer unavailable; calls will fail until it is installed", zap.Error(err))
	}

	notifiers := operator.Notifiers{operator.NewWriterNotifier(os.Stdout)}
	channels := []operator.Channel{}
	var con *console.Console
	if cfg.Operator.ConsoleAddr != "" {
		con = console.New(logger.Named("console"))
		notifiers = append(notifiers, con)
		channels = append(channels, con)
	}
	if cfg.Operator.Stdin {
		channels = append(channels, operator.NewLineChannel("stdin", os.Stdin, logf))
	}
	if cfg.Operator.Path != "" {
		channels = append(channels, operator.NewLineChannelFromPath(cfg.Operator.Path, logf))
	}

	var presence agent.Presence
	if cfg.Discovery.Enabled {
		presence = discovery.New(discovery.Config{
			Service:    cfg.Discovery.Service,
			Domain:     cfg.Discovery.Domain,
			Name:       cfg.Discovery.Name,
			DeviceID:   e.identity.DeviceID,
			DeviceName: e.identity.DeviceName,
			AppVersion: cfg.Device.AppVersion,
			ServerURL:  cfg.Server.URL,
			Port:       portOf(cfg.Operator.ConsoleAddr),
		}, logger.Named("mdns").Sugar().Infof)
	}

	ag, err := agent.New(agent.Config{
		Registration: e.registration(),
		PollInterval: cfg.Poll.Interval,
		MonitorTick:  cfg.Call.MonitorTick,
		MaxTicks:     cfg.Call.MaxTicks,
		AudioDelay:   cfg.Call.AudioDelay,
		BusyPolicy:   cfg.Call.BusyPolicy,
		QueueSize:    cfg.Call.QueueSize,
	}, agent.Deps{
		Client:   e.client,
		Worker:   worker,
		Reporter: rep,
		Dialer:   dialer,
		Observer: observer,
		Assets:   assets.New(cfg.Assets.Dir, e.client, logger.Named("assets").Sugar().Infof),
		Injector: newPipeline(cfg.Inject, logger.Named("inject").Sugar().Infof),
		Notifier: notifiers,
		Presence: presence,
		Logger:   logger.Named("agent"),
	})
	if err != nil {
		return err
	}

	if con != nil {
		con.Bind(ag)
		go func() {
			if err := con.Serve(ctx, cfg.Operator.ConsoleAddr); err != nil {
				logger.Error("operator console stopped", zap.Error(err))
			}
		}()
	}
	observations, err := operator.Merge(ctx, channels...)
	if err != nil {
		return err
	}
	if !c.NoConnect {
		go func() {
			if err := ag.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("initial connect failed", zap.Error(err))
			}
		}()
	}

	logger.Info("callnode running",
		zap.String("deviceId", e.identity.DeviceID),
		zap.String("server", cfg.Server.URL),
		zap.String("dialer", dialer.Name()))
	err = ag.Run(ctx, observations)

	// Let the offline status and queued reports go out before exiting.
	worker.Close()
	select {
	case <-worker.Done():
	case <-time.After(drainTimeout):
		logger.Warn("worker drain timed out")
	}
	logger.Info("callnode stopped")
	return err
}

func newOutbox(cfg config.Outbox, e *env, worker *queue.Queue, logger *zap.Logger) (*outbox.Outbox, func()) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := outbox.NewRedisStore(rdb, cfg.Key)
	ob := outbox.New(store, e.client, worker, logger, outbox.Config{
		MaxAttempts: cfg.MaxAttempts,
		Interval:    cfg.RetryInterval,
	})
	logger.Info("report outbox enabled", zap.String("redis", cfg.RedisAddr), zap.String("key", cfg.Key))
	return ob, func() { _ = rdb.Close() }
}

func newPipeline(cfg config.Inject, logf func(string, ...any)) *inject.Pipeline {
	var router inject.AudioRouter = inject.NopRouter{}
	if cfg.RouteIn.Command != "" || cfg.RouteOut.Command != "" {
		router = inject.NewCommandRouter(template(cfg.RouteIn), template(cfg.RouteOut), command.Exec, logf)
	}
	var strategies []inject.Strategy
	if cfg.MediaStreamURL != "" {
		strategies = append(strategies, inject.NewDirectStream(mediastream.New(cfg.MediaStreamURL, nil, logf), router))
	}
	if cfg.Player.Command != "" {
		strategies = append(strategies, inject.NewRoutedPlayback(router, inject.NewCommandPlayer(template(cfg.Player), command.Exec)))
	}
	return inject.NewPipeline(logf, strategies...)
}

func template(c config.Command) command.Template {
	return command.Template{Command: c.Command, Args: c.Args}
}

func portOf(addr string) int {
	if addr == "" {
		return 0
	}
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return port
}
