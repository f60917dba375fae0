// Package answer holds the registry of answer-detection policies.
package answer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/clawdbot/callnode/internal/session"
)

const DefaultPolicy = "fixedtick"

type Config struct {
	// AnswerTick is the monitor tick at which tick-based policies assume the
	// remote party picked up.
	AnswerTick int
}

type Factory func(cfg Config, logf func(string, ...any)) (session.CallStateObserver, error)

type registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var globalRegistry = &registry{factories: map[string]Factory{}}

func Register(name string, factory Factory) {
	name = strings.TrimSpace(name)
	if name == "" || factory == nil {
		return
	}
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.factories[name] = factory
}

func New(name string, cfg Config, logf func(string, ...any)) (session.CallStateObserver, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultPolicy
	}
	globalRegistry.mu.RLock()
	factory, ok := globalRegistry.factories[name]
	globalRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("answer policy not found: %s", name)
	}
	return factory(cfg, logf)
}

// Names lists the registered policies.
func Names() []string {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	names := make([]string, 0, len(globalRegistry.factories))
	for name := range globalRegistry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
