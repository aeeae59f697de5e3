package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nebulaforge/forge/internal/config"
	errs "github.com/nebulaforge/forge/internal/errors"
	"github.com/nebulaforge/forge/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePersistence struct {
	record   *store.SessionRecord
	token    string
	saveErr  error
	loadErr  error
	clearErr error
}

func (f *fakePersistence) SaveSession(record *store.SessionRecord, token string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.record = record
	f.token = token
	return nil
}

func (f *fakePersistence) LoadSession() (*store.LoadedSession, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.record == nil {
		return nil, nil
	}
	return &store.LoadedSession{Record: f.record, Token: f.token}, nil
}

func (f *fakePersistence) ClearSession() error {
	if f.clearErr != nil {
		return f.clearErr
	}
	f.record = nil
	f.token = ""
	return nil
}

func newTestStore(t *testing.T, persistence Persistence) *SessionStore {
	t.Helper()
	s, err := NewSessionStore(persistence, config.SessionConfig{}, WithLatency(NoLatency))
	require.NoError(t, err)
	return s
}

func TestLoginEstablishesProSession(t *testing.T) {
	persistence := &fakePersistence{}
	s := newTestStore(t, persistence)

	require.NoError(t, s.Login(context.Background(), "ripley", "nostromo"))

	state := s.Get()
	require.True(t, state.Authenticated)
	require.NotNil(t, state.Session)
	assert.Equal(t, "ripley", state.Session.DisplayName)
	assert.Equal(t, "ripley@demo.nebulaforge.dev", state.Session.Email)
	assert.Equal(t, store.PlanPro, state.Session.Plan)
	assert.NotEmpty(t, state.Session.ID)
	assert.Empty(t, state.Err)

	require.NotNil(t, persistence.record)
	assert.Equal(t, state.Session.ID, persistence.record.ID)
	assert.NotEmpty(t, persistence.token)
}

func TestLoginValidation(t *testing.T) {
	persistence := &fakePersistence{}
	s := newTestStore(t, persistence)

	err := s.Login(context.Background(), "", "password")
	assert.ErrorIs(t, err, errs.ErrValidation)

	err = s.Login(context.Background(), "ripley", "abc")
	assert.ErrorIs(t, err, errs.ErrValidation)

	state := s.Get()
	assert.False(t, state.Authenticated)
	assert.Nil(t, state.Session)
	assert.NotEmpty(t, state.Err)
	assert.Nil(t, persistence.record)
}

func TestLoginPersistenceFailureLeavesUnauthenticated(t *testing.T) {
	persistence := &fakePersistence{saveErr: fmt.Errorf("disk full")}
	s := newTestStore(t, persistence)

	err := s.Login(context.Background(), "ripley", "nostromo")
	assert.ErrorIs(t, err, errs.ErrPersistence)

	state := s.Get()
	assert.False(t, state.Authenticated)
	assert.NotEmpty(t, state.Err)
}

func TestLoginRespectsContextCancellation(t *testing.T) {
	persistence := &fakePersistence{}
	s, err := NewSessionStore(persistence, config.SessionConfig{},
		WithLatency(RandomLatency(time.Second, 2*time.Second)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = s.Login(ctx, "ripley", "nostromo")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, s.Get().Authenticated)
}

func TestRegisterMintsFreeTier(t *testing.T) {
	persistence := &fakePersistence{}
	s := newTestStore(t, persistence)

	require.NoError(t, s.Register(context.Background(), "newpilot", "newpilot@example.com", "secret1"))

	state := s.Get()
	require.True(t, state.Authenticated)
	assert.Equal(t, store.PlanFree, state.Session.Plan)
	assert.Equal(t, "newpilot@example.com", state.Session.Email)
}

func TestRegisterRequiresContact(t *testing.T) {
	s := newTestStore(t, &fakePersistence{})

	err := s.Register(context.Background(), "newpilot", "  ", "secret1")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestLogoutClearsStateAndKeys(t *testing.T) {
	persistence := &fakePersistence{}
	s := newTestStore(t, persistence)

	require.NoError(t, s.Login(context.Background(), "ripley", "nostromo"))
	require.NoError(t, s.Logout(context.Background()))

	state := s.Get()
	assert.False(t, state.Authenticated)
	assert.Nil(t, state.Session)
	assert.Nil(t, persistence.record)
	assert.Empty(t, persistence.token)

	// Idempotent.
	require.NoError(t, s.Logout(context.Background()))
}

func TestInitializeRestoresPersistedSession(t *testing.T) {
	persistence := &fakePersistence{
		record: &store.SessionRecord{
			ID:          "01JRESTORED00000000000000",
			DisplayName: "ripley",
			Email:       "ripley@demo.nebulaforge.dev",
			Plan:        store.PlanEnterprise,
			CreatedAt:   time.Now().UTC(),
		},
		token: "nf_token",
	}
	s := newTestStore(t, persistence)

	s.Initialize(context.Background())

	state := s.Get()
	require.True(t, state.Authenticated)
	assert.Equal(t, "01JRESTORED00000000000000", state.Session.ID)
	assert.Equal(t, store.PlanEnterprise, state.Session.Plan)
}

func TestInitializeWithoutPersistedSession(t *testing.T) {
	s := newTestStore(t, &fakePersistence{})

	s.Initialize(context.Background())

	state := s.Get()
	assert.False(t, state.Authenticated)
	assert.Empty(t, state.Err)
}

func TestInitializeSurvivesCorruptStorage(t *testing.T) {
	persistence := &fakePersistence{loadErr: fmt.Errorf("corrupt record")}
	s := newTestStore(t, persistence)

	s.Initialize(context.Background())

	state := s.Get()
	assert.False(t, state.Authenticated)
	assert.NotEmpty(t, state.Err)
}
