package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/clawdbot/callnode/internal/config"
	"github.com/clawdbot/callnode/internal/state"
	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCmdFlags(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		console string
		stdin   bool
		offline bool
	}{
		{name: "defaults", args: []string{}},
		{name: "console", args: []string{"--console", "127.0.0.1:8765"}, console: "127.0.0.1:8765"},
		{name: "stdin offline", args: []string{"--stdin", "--no-connect"}, stdin: true, offline: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := &RunCmd{}
			parser := flags.NewParser(cmd, flags.HelpFlag|flags.PassDoubleDash)
			_, err := parser.ParseArgs(tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.console, cmd.Console)
			assert.Equal(t, tc.stdin, cmd.Stdin)
			assert.Equal(t, tc.offline, cmd.NoConnect)
		})
	}
}

func TestRunRequiresCommand(t *testing.T) {
	err := Run([]string{})
	require.Error(t, err)
	err = Run([]string{"--help"})
	var flagsErr *flags.Error
	require.ErrorAs(t, err, &flagsErr)
	assert.Equal(t, flags.ErrHelp, flagsErr.Type)
}

func writeConfig(t *testing.T, serverURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.URL = serverURL
	cfg.Device.StatePath = filepath.Join(dir, "identity.json")
	cfg.Assets.Dir = filepath.Join(dir, "audio")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.Save(path, cfg))
	return path, cfg.Device.StatePath
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	path, _ := writeConfig(t, srv.URL)
	require.NoError(t, Run([]string{"-f", path, "probe"}))
}

func TestRegisterUsesIdentity(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/devices/register" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got.Store(body)
		_, _ = w.Write([]byte(`{"success":true,"message":"Device registered"}`))
	}))
	defer srv.Close()
	path, statePath := writeConfig(t, srv.URL)

	require.NoError(t, Run([]string{"-f", path, "register"}))
	id, err := state.LoadOrInit(statePath)
	require.NoError(t, err)
	body := got.Load().(map[string]any)
	assert.Equal(t, id.DeviceID, body["deviceId"])
	assert.Equal(t, srv.URL, id.ServerURL)
	assert.True(t, strings.HasPrefix(id.DeviceID, "device_"))
}

func TestRegisterRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"Device limit reached"}`))
	}))
	defer srv.Close()
	path, _ := writeConfig(t, srv.URL)
	err := Run([]string{"-f", path, "register"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Device limit reached")
}

func TestLogoutKeepsDevice(t *testing.T) {
	path, statePath := writeConfig(t, "https://example.invalid")
	id, err := state.LoadOrInit(statePath)
	require.NoError(t, err)
	id.Token = "secret"
	require.NoError(t, state.Save(statePath, id))

	require.NoError(t, Run([]string{"-f", path, "logout"}))
	after, err := state.LoadOrInit(statePath)
	require.NoError(t, err)
	assert.Empty(t, after.Token)
	assert.Equal(t, id.DeviceID, after.DeviceID)
}

func TestPortOf(t *testing.T) {
	assert.Equal(t, 8765, portOf("127.0.0.1:8765"))
	assert.Equal(t, 8765, portOf(":8765"))
	assert.Zero(t, portOf(""))
	assert.Zero(t, portOf("localhost"))
}

func TestNewPipelineStrategies(t *testing.T) {
	cfg := config.Default().Inject
	assert.Equal(t, []string{"routed"}, newPipeline(cfg, nil).Strategies())
	cfg.MediaStreamURL = "ws://127.0.0.1:1/stream"
	assert.Equal(t, []string{"direct", "routed"}, newPipeline(cfg, nil).Strategies())
	cfg.Player.Command = ""
	assert.Equal(t, []string{"direct"}, newPipeline(cfg, nil).Strategies())
}
