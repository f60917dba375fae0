package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/clawdbot/callnode/internal/state"
	"go.uber.org/zap"
)

// RegisterCmd registers the device once and reports the outcome.
type RegisterCmd struct {
	root   *Options
	Server string `short:"s" long:"server" description:"server base URL"`
}

func (c *RegisterCmd) Execute(_ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	e, err := c.root.setup(ctx, c.Server)
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()
	res, err := e.client.Register(ctx, e.registration())
	if err != nil {
		e.logger.Error("registration failed", zap.Error(err))
		return err
	}
	msg := "Connected to server"
	if res != nil && res.Message != "" {
		msg = res.Message
	}
	fmt.Fprintf(os.Stdout, "%s (device %s)\n", msg, e.identity.DeviceID)
	return nil
}

// ProbeCmd checks server reachability.
type ProbeCmd struct {
	root   *Options
	Server string `short:"s" long:"server" description:"server base URL"`
}

func (c *ProbeCmd) Execute(_ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	e, err := c.root.setup(ctx, c.Server)
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()
	start := time.Now()
	if err := e.client.Health(ctx); err != nil {
		return fmt.Errorf("server %s unreachable: %w", e.cfg.Server.URL, err)
	}
	fmt.Fprintf(os.Stdout, "server %s reachable (%s)\n", e.cfg.Server.URL, time.Since(start).Round(time.Millisecond))
	return nil
}

// LogoutCmd clears the bearer token. The device id is kept.
type LogoutCmd struct {
	root *Options
}

func (c *LogoutCmd) Execute(_ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	e, err := c.root.setup(ctx, "")
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()
	e.identity.Logout()
	if err := state.Save(e.cfg.Device.StatePath, e.identity); err != nil {
		return err
	}
	if e.tokens != nil {
		if err := e.tokens.Save(ctx, ""); err != nil {
			return fmt.Errorf("clear secret token: %w", err)
		}
	}
	fmt.Fprintf(os.Stdout, "logged out (device %s kept)\n", e.identity.DeviceID)
	return nil
}
