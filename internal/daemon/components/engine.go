package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nebulaforge/forge/internal/config"
	"github.com/nebulaforge/forge/internal/daemon"
	"github.com/nebulaforge/forge/internal/engine"
)

type EngineComponent struct {
	registryComp *RegistryComponent
	eventsComp   *EventLogComponent
	cfg          config.EngineConfig
	engine       *engine.Engine
	initialized  bool
	started      bool
	mu           sync.RWMutex
}

func NewEngineComponent(registryComp *RegistryComponent, eventsComp *EventLogComponent, cfg config.EngineConfig) *EngineComponent {
	return &EngineComponent{registryComp: registryComp, eventsComp: eventsComp, cfg: cfg}
}

func (e *EngineComponent) Name() string {
	return "RequestEngine"
}

func (e *EngineComponent) Dependencies() []string {
	return []string{"CapabilityRegistry", "EventLog"}
}

func (e *EngineComponent) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	registry := e.registryComp.GetRegistry()
	if registry == nil {
		return fmt.Errorf("capability registry not available")
	}
	log := e.eventsComp.GetLog()
	if log == nil {
		return fmt.Errorf("event log not available")
	}

	eng, err := engine.New(registry, log, e.cfg)
	if err != nil {
		return fmt.Errorf("failed to init request engine: %w", err)
	}

	e.engine = eng
	e.initialized = true
	slog.Info("RequestEngine initialized", "component", e.Name(), "max_retained", e.cfg.MaxRetained)
	return nil
}

func (e *EngineComponent) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return fmt.Errorf("RequestEngine not initialized")
	}

	e.started = true
	return nil
}

func (e *EngineComponent) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = false
	return nil
}

func (e *EngineComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized {
		return &daemon.ComponentHealth{Name: e.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}

	return &daemon.ComponentHealth{Name: e.Name(), Healthy: e.started}, nil
}

func (e *EngineComponent) GetEngine() *engine.Engine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.engine
}
