// Package discovery advertises a connected node on the local network over
// mDNS so operators can find its console.
package discovery

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

const (
	DefaultService = "_callnode._tcp"
	DefaultDomain  = "local."
)

type Config struct {
	Service    string
	Domain     string
	Name       string
	DeviceID   string
	DeviceName string
	AppVersion string
	ServerURL  string
	// Port is the console port to advertise. Zero reserves an ephemeral
	// port for the lifetime of the advertisement.
	Port int
}

type server interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, txt []string) (server, error)

func zeroconfRegister(instance, service, domain string, port int, txt []string) (server, error) {
	return zeroconf.Register(instance, service, domain, port, txt, nil)
}

// Advertiser publishes one service instance at a time.
type Advertiser struct {
	cfg      Config
	logf     func(string, ...any)
	register registerFunc

	mu       sync.Mutex
	server   server
	listener net.Listener
}

func New(cfg Config, logf func(string, ...any)) *Advertiser {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	if strings.TrimSpace(cfg.Service) == "" {
		cfg.Service = DefaultService
	}
	if strings.TrimSpace(cfg.Domain) == "" {
		cfg.Domain = DefaultDomain
	}
	return &Advertiser{cfg: cfg, logf: logf, register: zeroconfRegister}
}

// Advertise registers the instance. Calling it while already advertised is
// a no-op.
func (a *Advertiser) Advertise() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return nil
	}
	port := a.cfg.Port
	var listener net.Listener
	if port <= 0 {
		l, err := net.Listen("tcp", "0.0.0.0:0")
		if err != nil {
			return fmt.Errorf("mdns listen: %w", err)
		}
		listener = l
		port = l.Addr().(*net.TCPAddr).Port
	}
	name := a.InstanceName()
	srv, err := a.register(name, a.cfg.Service, a.cfg.Domain, port, a.TXT())
	if err != nil {
		if listener != nil {
			_ = listener.Close()
		}
		return fmt.Errorf("mdns register: %w", err)
	}
	a.server = srv
	a.listener = listener
	a.logf("mdns: advertised %s on %s (%s) port=%d", name, a.cfg.Service, a.cfg.Domain, port)
	return nil
}

func (a *Advertiser) Withdraw() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	if a.listener != nil {
		_ = a.listener.Close()
		a.listener = nil
	}
	a.logf("mdns: withdrawn")
}

// InstanceName is the configured name, else the device name, else the host
// name, always tagged with "(Callnode)".
func (a *Advertiser) InstanceName() string {
	name := strings.TrimSpace(a.cfg.Name)
	if name == "" {
		name = strings.TrimSpace(a.cfg.DeviceName)
	}
	if name == "" {
		name = hostLabel()
	}
	if !strings.Contains(strings.ToLower(name), "callnode") {
		name = fmt.Sprintf("%s (Callnode)", name)
	}
	return name
}

func (a *Advertiser) TXT() []string {
	txt := []string{
		"role=callnode",
		fmt.Sprintf("deviceId=%s", a.cfg.DeviceID),
		fmt.Sprintf("lanHost=%s.local", hostLabel()),
	}
	if a.cfg.DeviceName != "" {
		txt = append(txt, fmt.Sprintf("displayName=%s", strings.Join(strings.Fields(a.cfg.DeviceName), " ")))
	}
	if a.cfg.AppVersion != "" {
		txt = append(txt, fmt.Sprintf("version=%s", a.cfg.AppVersion))
	}
	if a.cfg.ServerURL != "" {
		txt = append(txt, fmt.Sprintf("server=%s", a.cfg.ServerURL))
	}
	return txt
}

func hostLabel() string {
	host, err := os.Hostname()
	host = strings.TrimSuffix(strings.TrimSpace(host), ".local")
	if err != nil || host == "" {
		return "callnode"
	}
	if i := strings.Index(host, "."); i > 0 {
		host = host[:i]
	}
	return host
}
