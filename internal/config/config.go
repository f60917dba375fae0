// Package config loads the node configuration from YAML and fills defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BusyReject = "reject"
	BusyQueue  = "queue"
)

type Config struct {
	Server    Server    `yaml:"server"`
	Device    Device    `yaml:"device"`
	Poll      Poll      `yaml:"poll"`
	Call      Call      `yaml:"call"`
	Dialer    Command   `yaml:"dialer"`
	Inject    Inject    `yaml:"inject"`
	Assets    Assets    `yaml:"assets"`
	Reporter  Reporter  `yaml:"reporter"`
	Operator  Operator  `yaml:"operator"`
	Discovery Discovery `yaml:"discovery"`
	Debug     bool      `yaml:"debug"`
}

type Server struct {
	URL     string        `yaml:"url"`
	APIPath string        `yaml:"apiPath"`
	Timeout time.Duration `yaml:"timeout"`
}

type Device struct {
	Name           string `yaml:"name"`
	Model          string `yaml:"model"`
	AndroidVersion string `yaml:"androidVersion"`
	AppVersion     string `yaml:"appVersion"`
	StatePath      string `yaml:"statePath"`
	// TokenURL, when set, keeps the bearer token in a scy secret instead of
	// the identity file.
	TokenURL string `yaml:"tokenUrl"`
}

type Poll struct {
	Interval time.Duration `yaml:"interval"`
}

type Call struct {
	MonitorTick  time.Duration `yaml:"monitorTick"`
	AnswerTick   int           `yaml:"answerTick"`
	MaxTicks     int           `yaml:"maxTicks"`
	AudioDelay   time.Duration `yaml:"audioDelay"`
	AnswerPolicy string        `yaml:"answerPolicy"`
	BusyPolicy   string        `yaml:"busyPolicy"`
	QueueSize    int           `yaml:"queueSize"`
}

// Command is an external program invocation. Args may reference
// placeholders such as {number} or {path}.
type Command struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Inject struct {
	// MediaStreamURL is the websocket endpoint of the call media gateway.
	// Empty disables direct injection.
	MediaStreamURL string  `yaml:"mediaStreamUrl"`
	Player         Command `yaml:"player"`
	RouteIn        Command `yaml:"routeIn"`
	RouteOut       Command `yaml:"routeOut"`
}

type Assets struct {
	// Dir is a local path or any afs URL.
	Dir string `yaml:"dir"`
}

type Reporter struct {
	Outbox Outbox `yaml:"outbox"`
}

type Outbox struct {
	Enabled       bool          `yaml:"enabled"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDb"`
	Key           string        `yaml:"key"`
	MaxAttempts   int           `yaml:"maxAttempts"`
	RetryInterval time.Duration `yaml:"retryInterval"`
}

type Operator struct {
	Stdin       bool   `yaml:"stdin"`
	Path        string `yaml:"path"`
	ConsoleAddr string `yaml:"consoleAddr"`
}

type Discovery struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
	Domain  string `yaml:"domain"`
	Name    string `yaml:"name"`
}

func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".callnode"
	}
	return filepath.Join(home, ".callnode")
}

func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	dir := DefaultDir()
	return &Config{
		Server: Server{
			URL:     "https://ivr.wxon.in",
			APIPath: "/api",
			Timeout: 30 * time.Second,
		},
		Device: Device{
			Name:           "Callnode Device",
			Model:          "generic",
			AndroidVersion: "unknown",
			AppVersion:     "2.0.0",
			StatePath:      filepath.Join(dir, "identity.json"),
		},
		Poll: Poll{Interval: 5 * time.Second},
		Call: Call{
			MonitorTick:  time.Second,
			AnswerTick:   3,
			MaxTicks:     30,
			AudioDelay:   5 * time.Second,
			AnswerPolicy: "fixedtick",
			BusyPolicy:   BusyReject,
			QueueSize:    4,
		},
		Dialer: Command{Command: "termux-telephony-call", Args: []string{"{number}"}},
		Inject: Inject{
			Player: Command{Command: "play-audio", Args: []string{"-s", "voice_call", "{path}"}},
		},
		Assets: Assets{Dir: filepath.Join(dir, "audio")},
		Reporter: Reporter{Outbox: Outbox{
			RedisAddr:     "127.0.0.1:6379",
			Key:           "callnode:outbox",
			MaxAttempts:   5,
			RetryInterval: 10 * time.Second,
		}},
		Discovery: Discovery{
			Service: "_callnode._tcp",
			Domain:  "local.",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.Assets.Dir = expandHome(cfg.Assets.Dir)
	cfg.Device.StatePath = expandHome(cfg.Device.StatePath)
	cfg.Operator.Path = expandHome(cfg.Operator.Path)
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.URL) == "" {
		return fmt.Errorf("server.url is required")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive")
	}
	if c.Call.MonitorTick <= 0 {
		return fmt.Errorf("call.monitorTick must be positive")
	}
	if c.Call.MaxTicks <= 0 {
		return fmt.Errorf("call.maxTicks must be positive")
	}
	if c.Call.AnswerTick <= 0 || c.Call.AnswerTick > c.Call.MaxTicks {
		return fmt.Errorf("call.answerTick must be within 1..%d", c.Call.MaxTicks)
	}
	if c.Call.AudioDelay < 0 {
		return fmt.Errorf("call.audioDelay must not be negative")
	}
	switch c.Call.BusyPolicy {
	case BusyReject:
	case BusyQueue:
		if c.Call.QueueSize <= 0 {
			return fmt.Errorf("call.queueSize must be positive for the queue busy policy")
		}
	default:
		return fmt.Errorf("unsupported busy policy: %s", c.Call.BusyPolicy)
	}
	if strings.TrimSpace(c.Dialer.Command) == "" {
		return fmt.Errorf("dialer.command is required")
	}
	if c.Reporter.Outbox.Enabled {
		if strings.TrimSpace(c.Reporter.Outbox.RedisAddr) == "" {
			return fmt.Errorf("reporter.outbox.redisAddr is required when the outbox is enabled")
		}
		if c.Reporter.Outbox.MaxAttempts <= 0 {
			return fmt.Errorf("reporter.outbox.maxAttempts must be positive")
		}
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
