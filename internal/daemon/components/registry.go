package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nebulaforge/forge/internal/catalog"
	"github.com/nebulaforge/forge/internal/config"
	"github.com/nebulaforge/forge/internal/daemon"
)

type RegistryComponent struct {
	eventsComp  *EventLogComponent
	cfg         config.CatalogConfig
	registry    *catalog.Registry
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewRegistryComponent(eventsComp *EventLogComponent, cfg config.CatalogConfig) *RegistryComponent {
	return &RegistryComponent{eventsComp: eventsComp, cfg: cfg}
}

func (r *RegistryComponent) Name() string {
	return "CapabilityRegistry"
}

func (r *RegistryComponent) Dependencies() []string {
	return []string{"EventLog"}
}

func (r *RegistryComponent) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.eventsComp.GetLog()
	if log == nil {
		return fmt.Errorf("event log not available")
	}

	r.registry = catalog.NewRegistry(log)
	r.initialized = true
	slog.Info("CapabilityRegistry initialized", "component", r.Name())
	return nil
}

func (r *RegistryComponent) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return fmt.Errorf("CapabilityRegistry not initialized")
	}

	if err := r.registry.Initialize(r.cfg.Path); err != nil {
		return fmt.Errorf("failed to load capability catalog: %w", err)
	}

	r.started = true
	return nil
}

func (r *RegistryComponent) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = false
	return nil
}

func (r *RegistryComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.initialized {
		return &daemon.ComponentHealth{Name: r.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if r.started && len(r.registry.List()) == 0 {
		return &daemon.ComponentHealth{Name: r.Name(), Healthy: false, Error: fmt.Errorf("catalog is empty")}, nil
	}

	return &daemon.ComponentHealth{Name: r.Name(), Healthy: r.started}, nil
}

func (r *RegistryComponent) GetRegistry() *catalog.Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registry
}
