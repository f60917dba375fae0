package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/clawdbot/callnode/internal/api"
	"github.com/clawdbot/callnode/internal/config"
	"github.com/clawdbot/callnode/internal/state"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// env is what every sub-command starts from.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	identity *state.Identity
	tokens   state.TokenStore
	client   *api.Client
}

func (o *Options) setup(ctx context.Context, serverOverride string) (*env, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, err
	}
	if o.Debug {
		cfg.Debug = true
	}
	if s := strings.TrimSpace(serverOverride); s != "" {
		cfg.Server.URL = s
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return nil, err
	}

	identity, err := state.LoadOrInit(cfg.Device.StatePath)
	if err != nil {
		return nil, fmt.Errorf("device identity: %w", err)
	}
	if strings.TrimSpace(cfg.Device.Name) != "" && identity.DeviceName == state.DefaultDeviceName {
		identity.DeviceName = cfg.Device.Name
	}
	if identity.ServerURL != cfg.Server.URL {
		identity.ServerURL = cfg.Server.URL
		if err := state.Save(cfg.Device.StatePath, identity); err != nil {
			return nil, err
		}
	}

	var tokens state.TokenStore
	if cfg.Device.TokenURL != "" {
		tokens = state.NewScyTokenStore(cfg.Device.TokenURL)
		moved, err := state.ResolveToken(ctx, identity, tokens)
		if err != nil {
			return nil, fmt.Errorf("token store: %w", err)
		}
		if moved {
			// The secret store now owns the token; keep it out of the plain file.
			plain := *identity
			plain.Token = ""
			if err := state.Save(cfg.Device.StatePath, &plain); err != nil {
				return nil, err
			}
			logger.Info("bearer token moved to secret store", zap.String("url", cfg.Device.TokenURL))
		}
	}

	client, err := api.New(&api.Config{
		ServerURL: cfg.Server.URL,
		APIPath:   cfg.Server.APIPath,
		DeviceID:  identity.DeviceID,
		Token:     identity.Token,
		Timeout:   cfg.Server.Timeout,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("configured",
		zap.String("deviceId", identity.DeviceID),
		zap.String("server", cfg.Server.URL),
		zap.Bool("authenticated", identity.LoggedIn()))
	return &env{cfg: cfg, logger: logger, identity: identity, tokens: tokens, client: client}, nil
}

func (e *env) registration() api.DeviceRegistration {
	return api.DeviceRegistration{
		DeviceID:       e.identity.DeviceID,
		DeviceName:     e.identity.DeviceName,
		DeviceModel:    e.cfg.Device.Model,
		AndroidVersion: e.cfg.Device.AndroidVersion,
		AppVersion:     e.cfg.Device.AppVersion,
		Capabilities:   api.DefaultCapabilities,
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
