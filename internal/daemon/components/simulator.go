package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nebulaforge/forge/internal/config"
	"github.com/nebulaforge/forge/internal/daemon"
	"github.com/nebulaforge/forge/internal/sim"
)

type SimulatorComponent struct {
	eventsComp  *EventLogComponent
	cfg         config.SimulatorConfig
	simulator   *sim.Simulator
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewSimulatorComponent(eventsComp *EventLogComponent, cfg config.SimulatorConfig) *SimulatorComponent {
	return &SimulatorComponent{eventsComp: eventsComp, cfg: cfg}
}

func (s *SimulatorComponent) Name() string {
	return "ActivitySimulator"
}

func (s *SimulatorComponent) Dependencies() []string {
	return []string{"EventLog"}
}

func (s *SimulatorComponent) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.initialized = true
		slog.Info("ActivitySimulator disabled by config", "component", s.Name())
		return nil
	}

	log := s.eventsComp.GetLog()
	if log == nil {
		return fmt.Errorf("event log not available")
	}

	simulator, err := sim.New(log, s.cfg)
	if err != nil {
		return fmt.Errorf("failed to init activity simulator: %w", err)
	}

	s.simulator = simulator
	s.initialized = true
	slog.Info("ActivitySimulator initialized", "component", s.Name(), "schedule", s.cfg.Schedule)
	return nil
}

func (s *SimulatorComponent) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return fmt.Errorf("ActivitySimulator not initialized")
	}
	if s.simulator == nil {
		return nil
	}

	s.simulator.Start()
	s.started = true
	return nil
}

func (s *SimulatorComponent) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.simulator.Stop()
	s.started = false
	return nil
}

func (s *SimulatorComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if s.simulator == nil {
		// Disabled simulator reports healthy so the daemon stays green.
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: true}, nil
	}
	if s.started && !s.simulator.IsRunning() {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: fmt.Errorf("loop not running")}, nil
	}

	return &daemon.ComponentHealth{Name: s.Name(), Healthy: true}, nil
}
