package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nebulaforge/forge/internal/config"
	"github.com/nebulaforge/forge/internal/daemon"
	"github.com/nebulaforge/forge/internal/export"
)

type ExporterComponent struct {
	cfg          config.ExporterConfig
	orchestrator *export.Orchestrator
	initialized  bool
	started      bool
	mu           sync.RWMutex
}

func NewExporterComponent(cfg config.ExporterConfig) *ExporterComponent {
	return &ExporterComponent{cfg: cfg}
}

func (e *ExporterComponent) Name() string {
	return "Exporter"
}

func (e *ExporterComponent) Dependencies() []string {
	return []string{}
}

func (e *ExporterComponent) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	orchestrator, err := export.New(e.cfg)
	if err != nil {
		return fmt.Errorf("failed to init export orchestrator: %w", err)
	}

	e.orchestrator = orchestrator
	e.initialized = true
	slog.Info("Exporter initialized", "component", e.Name())
	return nil
}

func (e *ExporterComponent) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return fmt.Errorf("Exporter not initialized")
	}

	e.started = true
	return nil
}

func (e *ExporterComponent) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = false
	return nil
}

func (e *ExporterComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized {
		return &daemon.ComponentHealth{Name: e.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}

	return &daemon.ComponentHealth{Name: e.Name(), Healthy: e.started}, nil
}

func (e *ExporterComponent) GetOrchestrator() *export.Orchestrator {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.orchestrator
}
