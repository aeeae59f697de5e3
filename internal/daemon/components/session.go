package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nebulaforge/forge/internal/config"
	"github.com/nebulaforge/forge/internal/daemon"
	"github.com/nebulaforge/forge/internal/session"
)

type SessionComponent struct {
	storeComp   *StoreWorkerComponent
	cfg         config.SessionConfig
	sessions    *session.SessionStore
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewSessionComponent(storeComp *StoreWorkerComponent, cfg config.SessionConfig) *SessionComponent {
	return &SessionComponent{storeComp: storeComp, cfg: cfg}
}

func (s *SessionComponent) Name() string {
	return "SessionStore"
}

func (s *SessionComponent) Dependencies() []string {
	return []string{"StoreWorker"}
}

func (s *SessionComponent) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	worker := s.storeComp.GetWorker()
	if worker == nil {
		return fmt.Errorf("store worker not available")
	}

	sessions, err := session.NewSessionStore(worker, s.cfg)
	if err != nil {
		return fmt.Errorf("failed to init session store: %w", err)
	}

	s.sessions = sessions
	s.initialized = true
	slog.Info("SessionStore initialized", "component", s.Name())
	return nil
}

func (s *SessionComponent) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return fmt.Errorf("SessionStore not initialized")
	}

	// Worker loop is running by now, safe to restore the persisted session.
	s.sessions.Initialize(ctx)
	s.started = true
	return nil
}

func (s *SessionComponent) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

func (s *SessionComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}

	return &daemon.ComponentHealth{Name: s.Name(), Healthy: s.started}, nil
}

func (s *SessionComponent) GetStore() *session.SessionStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions
}
