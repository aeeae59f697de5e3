package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nebulaforge/forge/internal/daemon"
	"github.com/nebulaforge/forge/internal/eventlog"
)

// EventLogComponent owns the activity feed. It journals entries through the
// store worker and restores the feed from the journal on startup.
type EventLogComponent struct {
	storeComp   *StoreWorkerComponent
	log         *eventlog.Log
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewEventLogComponent(storeComp *StoreWorkerComponent) *EventLogComponent {
	return &EventLogComponent{storeComp: storeComp}
}

func (e *EventLogComponent) Name() string {
	return "EventLog"
}

func (e *EventLogComponent) Dependencies() []string {
	return []string{"StoreWorker"}
}

func (e *EventLogComponent) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	worker := e.storeComp.GetWorker()
	if worker == nil {
		return fmt.Errorf("store worker not available")
	}

	e.log = eventlog.New(eventlog.WithSink(worker))
	e.initialized = true
	slog.Info("EventLog initialized", "component", e.Name())
	return nil
}

func (e *EventLogComponent) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return fmt.Errorf("EventLog not initialized")
	}

	journaled, err := e.storeComp.GetWorker().ReadJournal(0)
	if err != nil {
		slog.Warn("Failed to restore event journal, starting empty", "error", err)
	} else if len(journaled) > 0 {
		e.log.Restore(journaled)
		slog.Info("Event journal restored", "entries", len(journaled))
	}

	e.started = true
	return nil
}

func (e *EventLogComponent) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = false
	return nil
}

func (e *EventLogComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized {
		return &daemon.ComponentHealth{Name: e.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}

	return &daemon.ComponentHealth{Name: e.Name(), Healthy: e.started}, nil
}

func (e *EventLogComponent) GetLog() *eventlog.Log {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.log
}
