// Package session owns the authenticated-user state: a demo-mode identity
// minted at login, persisted across restarts through the store worker.
package session

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/nebulaforge/forge/internal/config"
	errs "github.com/nebulaforge/forge/internal/errors"
	"github.com/nebulaforge/forge/internal/observe"
	"github.com/nebulaforge/forge/internal/store"

	"github.com/oklog/ulid/v2"
)

const minSecretLength = 4

type Session struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Plan        store.PlanTier `json:"plan"`
	CreatedAt   time.Time      `json:"created_at"`
}

type State struct {
	Authenticated bool
	Session       *Session
	Err           string
}

// Persistence is the slice of the store worker the session store uses.
type Persistence interface {
	SaveSession(record *store.SessionRecord, token string) error
	LoadSession() (*store.LoadedSession, error)
	ClearSession() error
}

// Latency simulates the round trip to an identity provider. It returns early
// with the context error when ctx is cancelled.
type Latency func(ctx context.Context) error

// RandomLatency sleeps a uniform duration in [min, max].
func RandomLatency(min, max time.Duration) Latency {
	return func(ctx context.Context) error {
		d := min
		if max > min {
			d += time.Duration(rand.Int63n(int64(max - min)))
		}
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// NoLatency completes immediately.
func NoLatency(ctx context.Context) error {
	return ctx.Err()
}

type SessionStore struct {
	state       *observe.Store[State]
	persistence Persistence
	latency     Latency
	clock       func() time.Time
}

type Option func(*SessionStore)

func WithLatency(latency Latency) Option {
	return func(s *SessionStore) { s.latency = latency }
}

func WithClock(clock func() time.Time) Option {
	return func(s *SessionStore) { s.clock = clock }
}

func NewSessionStore(persistence Persistence, cfg config.SessionConfig, opts ...Option) (*SessionStore, error) {
	min, err := config.DurationOrDefault(cfg.AuthLatencyMin, config.DefaultSessionAuthLatencyMin)
	if err != nil {
		return nil, err
	}
	max, err := config.DurationOrDefault(cfg.AuthLatencyMax, config.DefaultSessionAuthLatencyMax)
	if err != nil {
		return nil, err
	}

	s := &SessionStore{
		state:       observe.New(State{}),
		persistence: persistence,
		latency:     RandomLatency(min, max),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Initialize restores a persisted session. Absent or corrupt durable state
// leaves the store unauthenticated; the caller never sees an error.
func (s *SessionStore) Initialize(ctx context.Context) {
	loaded, err := s.persistence.LoadSession()
	if err != nil {
		slog.Warn("Failed to restore session, starting unauthenticated", "error", err)
		s.state.Mutate(func(State) State {
			return State{Err: "session restore failed"}
		})
		return
	}
	if loaded == nil || loaded.Record == nil || loaded.Token == "" {
		s.state.Mutate(func(State) State { return State{} })
		return
	}

	session := fromRecord(loaded.Record)
	s.state.Mutate(func(State) State {
		return State{Authenticated: true, Session: session}
	})
	slog.Info("Session restored", "session", session.ID, "plan", session.Plan)
}

// Login establishes a demo identity. It does not verify the secret against
// anything; the secret is length checked and then discarded.
func (s *SessionStore) Login(ctx context.Context, identifier, secret string) error {
	if err := validateCredentials(identifier, secret); err != nil {
		s.setErr(err.Error())
		return err
	}

	if err := s.latency(ctx); err != nil {
		return err
	}

	session := s.mint(identifier, store.PlanPro)
	return s.establish(session)
}

// Register creates a fresh free-tier identity.
func (s *SessionStore) Register(ctx context.Context, identifier, contact, secret string) error {
	if err := validateCredentials(identifier, secret); err != nil {
		s.setErr(err.Error())
		return err
	}
	if strings.TrimSpace(contact) == "" {
		err := errs.Validation("contact is required")
		s.setErr(err.Error())
		return err
	}

	if err := s.latency(ctx); err != nil {
		return err
	}

	session := s.mint(identifier, store.PlanFree)
	session.Email = strings.TrimSpace(contact)
	return s.establish(session)
}

// Logout drops durable keys and in-memory state. Safe to call when already
// logged out.
func (s *SessionStore) Logout(ctx context.Context) error {
	if err := s.persistence.ClearSession(); err != nil {
		wrapped := errs.Persistence("clear session: " + err.Error())
		s.setErr(wrapped.Error())
		return wrapped
	}

	s.state.Mutate(func(State) State { return State{} })
	slog.Info("Session cleared")
	return nil
}

// Get returns the current state snapshot.
func (s *SessionStore) Get() State {
	return s.state.Get()
}

// Subscribe registers a callback for session state changes.
func (s *SessionStore) Subscribe(fn func(State)) func() {
	return s.state.Subscribe(fn)
}

func (s *SessionStore) mint(identifier string, plan store.PlanTier) *Session {
	name := strings.TrimSpace(identifier)
	email := name
	if !strings.Contains(name, "@") {
		email = name + "@demo.nebulaforge.dev"
	}
	return &Session{
		ID:          ulid.Make().String(),
		DisplayName: name,
		Email:       email,
		Plan:        plan,
		CreatedAt:   s.clock().UTC(),
	}
}

func (s *SessionStore) establish(session *Session) error {
	token := "nf_" + ulid.Make().String()

	if err := s.persistence.SaveSession(toRecord(session), token); err != nil {
		wrapped := errs.Persistence("save session: " + err.Error())
		s.setErr(wrapped.Error())
		return wrapped
	}

	s.state.Mutate(func(State) State {
		return State{Authenticated: true, Session: session}
	})
	slog.Info("Session established", "session", session.ID, "plan", session.Plan)
	return nil
}

func (s *SessionStore) setErr(message string) {
	s.state.Mutate(func(st State) State {
		st.Err = message
		return st
	})
}

func validateCredentials(identifier, secret string) error {
	if strings.TrimSpace(identifier) == "" {
		return errs.Validation("identifier is required")
	}
	if len(secret) < minSecretLength {
		return errs.Validation("secret is too short")
	}
	return nil
}

func toRecord(session *Session) *store.SessionRecord {
	return &store.SessionRecord{
		ID:          session.ID,
		DisplayName: session.DisplayName,
		Email:       session.Email,
		Plan:        session.Plan,
		CreatedAt:   session.CreatedAt,
	}
}

func fromRecord(record *store.SessionRecord) *Session {
	return &Session{
		ID:          record.ID,
		DisplayName: record.DisplayName,
		Email:       record.Email,
		Plan:        record.Plan,
		CreatedAt:   record.CreatedAt,
	}
}
