package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "https://ivr.wxon.in", cfg.Server.URL)
	assert.Equal(t, "/api", cfg.Server.APIPath)
	assert.Equal(t, 5*time.Second, cfg.Poll.Interval)
	assert.Equal(t, time.Second, cfg.Call.MonitorTick)
	assert.Equal(t, 3, cfg.Call.AnswerTick)
	assert.Equal(t, 30, cfg.Call.MaxTicks)
	assert.Equal(t, 5*time.Second, cfg.Call.AudioDelay)
	assert.Equal(t, BusyReject, cfg.Call.BusyPolicy)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  url: https://calls.example
poll:
  interval: 2s
call:
  busyPolicy: queue
  queueSize: 2
  audioDelay: 1500ms
inject:
  mediaStreamUrl: ws://127.0.0.1:9000/stream
reporter:
  outbox:
    enabled: true
    maxAttempts: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://calls.example", cfg.Server.URL)
	assert.Equal(t, "/api", cfg.Server.APIPath)
	assert.Equal(t, 2*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 1500*time.Millisecond, cfg.Call.AudioDelay)
	assert.Equal(t, BusyQueue, cfg.Call.BusyPolicy)
	assert.Equal(t, "ws://127.0.0.1:9000/stream", cfg.Inject.MediaStreamURL)
	assert.Equal(t, "play-audio", cfg.Inject.Player.Command)
	assert.True(t, cfg.Reporter.Outbox.Enabled)
	assert.Equal(t, 3, cfg.Reporter.Outbox.MaxAttempts)
	assert.Equal(t, "127.0.0.1:6379", cfg.Reporter.Outbox.RedisAddr)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll: [\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dir", "config.yaml")
	cfg := Default()
	cfg.Server.URL = "https://saved.example"
	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://saved.example", loaded.Server.URL)
	assert.Equal(t, cfg.Call, loaded.Call)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty server", mutate: func(c *Config) { c.Server.URL = "" }},
		{name: "zero poll", mutate: func(c *Config) { c.Poll.Interval = 0 }},
		{name: "zero tick", mutate: func(c *Config) { c.Call.MonitorTick = 0 }},
		{name: "answer beyond cap", mutate: func(c *Config) { c.Call.AnswerTick = 31 }},
		{name: "unknown busy policy", mutate: func(c *Config) { c.Call.BusyPolicy = "drop" }},
		{name: "queue without size", mutate: func(c *Config) { c.Call.BusyPolicy = BusyQueue; c.Call.QueueSize = 0 }},
		{name: "no dialer", mutate: func(c *Config) { c.Dialer.Command = " " }},
		{name: "outbox without redis", mutate: func(c *Config) {
			c.Reporter.Outbox.Enabled = true
			c.Reporter.Outbox.RedisAddr = ""
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
