// Package catalog manages the engine's capability registry: the fixed set of
// modules the runtime exposes, each with a lifecycle status operators can
// toggle.
package catalog

import (
	_ "embed"
	"log/slog"
	"os"

	errs "github.com/nebulaforge/forge/internal/errors"
	"github.com/nebulaforge/forge/internal/eventlog"
	"github.com/nebulaforge/forge/internal/observe"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedManifest []byte

type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusInactive     Status = "inactive"
	StatusError        Status = "error"
)

type Capability struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Status      Status   `yaml:"-" json:"status"`
	Description string   `yaml:"description" json:"description"`
	Tags        []string `yaml:"tags" json:"tags"`
}

type manifest struct {
	Capabilities []Capability `yaml:"capabilities"`
}

type State struct {
	Capabilities []Capability
}

// Events is the slice of the event log the registry writes to.
type Events interface {
	Append(kind eventlog.Kind, content string) (string, error)
}

// Registry holds the capability catalog. Catalog order is manifest file order
// and never changes at runtime; only statuses do.
type Registry struct {
	state  *observe.Store[State]
	events Events
}

func NewRegistry(events Events) *Registry {
	return &Registry{
		state:  observe.New(State{}),
		events: events,
	}
}

// Initialize loads the manifest and marks every capability active. A non-empty
// manifestPath overrides the embedded catalog.
func (r *Registry) Initialize(manifestPath string) error {
	data := embeddedManifest
	if manifestPath != "" {
		fileData, err := os.ReadFile(manifestPath)
		if err != nil {
			return errs.Persistence("read catalog manifest: " + err.Error())
		}
		data = fileData
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return errs.Validation("parse catalog manifest: " + err.Error())
	}
	if len(m.Capabilities) == 0 {
		return errs.Validation("catalog manifest lists no capabilities")
	}

	capabilities := make([]Capability, len(m.Capabilities))
	copy(capabilities, m.Capabilities)
	for i := range capabilities {
		capabilities[i].Status = StatusActive
	}

	r.state.Mutate(func(State) State {
		return State{Capabilities: capabilities}
	})

	slog.Info("Capability catalog initialized", "count", len(capabilities))

	if r.events != nil {
		if _, err := r.events.Append(eventlog.KindSystem, "All engine modules initialized and active"); err != nil {
			slog.Error("Failed to announce catalog readiness", "error", err)
		}
	}

	return nil
}

// SetEnabled toggles a capability and returns the status it had before.
func (r *Registry) SetEnabled(id string, enabled bool) (Status, error) {
	var previous Status
	found := false

	target := StatusInactive
	if enabled {
		target = StatusActive
	}

	r.state.Mutate(func(s State) State {
		next := make([]Capability, len(s.Capabilities))
		copy(next, s.Capabilities)
		for i := range next {
			if next[i].ID == id {
				previous = next[i].Status
				next[i].Status = target
				found = true
				break
			}
		}
		return State{Capabilities: next}
	})

	if !found {
		return "", errs.NotFound("capability not found: " + id)
	}
	return previous, nil
}

// Get returns a single capability by id.
func (r *Registry) Get(id string) (Capability, error) {
	for _, c := range r.state.Get().Capabilities {
		if c.ID == id {
			return c, nil
		}
	}
	return Capability{}, errs.NotFound("capability not found: " + id)
}

// Has reports whether the catalog knows the given id.
func (r *Registry) Has(id string) bool {
	_, err := r.Get(id)
	return err == nil
}

// List returns the catalog in manifest order.
func (r *Registry) List() []Capability {
	capabilities := r.state.Get().Capabilities
	out := make([]Capability, len(capabilities))
	copy(out, capabilities)
	return out
}

// Subscribe registers a callback for catalog changes.
func (r *Registry) Subscribe(fn func(State)) func() {
	return r.state.Subscribe(fn)
}
