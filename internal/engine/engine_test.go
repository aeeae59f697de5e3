package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nebulaforge/forge/internal/config"
	errs "github.com/nebulaforge/forge/internal/errors"
	"github.com/nebulaforge/forge/internal/eventlog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	known map[string]bool
}

func (f *fakeCatalog) Has(id string) bool { return f.known[id] }

type fakeEvents struct {
	mu      sync.Mutex
	entries []string
}

func (f *fakeEvents) Append(kind eventlog.Kind, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, content)
	return "id", nil
}

func (f *fakeEvents) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.entries))
	copy(out, f.entries)
	return out
}

func alwaysSucceed(req Request) (map[string]interface{}, error) {
	return map[string]interface{}{"capability": req.CapabilityID, "action": req.Action}, nil
}

func alwaysFail(req Request) (map[string]interface{}, error) {
	return nil, fmt.Errorf("synthetic failure")
}

func newTestEngine(t *testing.T, catalog Catalog, events Events, opts ...Option) *Engine {
	t.Helper()
	base := []Option{WithDelay(NoDelay), WithOutcome(alwaysSucceed)}
	e, err := New(catalog, events, config.EngineConfig{}, append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func TestSubmitReturnsIDAndSettlesCompleted(t *testing.T) {
	catalog := &fakeCatalog{known: map[string]bool{"nebulavoid": true}}
	events := &fakeEvents{}
	e := newTestEngine(t, catalog, events)

	id, err := e.Submit("nebulavoid", "generate_code", map[string]interface{}{"prompt": "fps controller"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	res, err := e.Await(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Nil(t, res.ErrDetail)
	assert.Equal(t, "generate_code", res.Result["action"])

	req, ok := e.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, req.Status)
	assert.False(t, req.SettledAt.IsZero())
}

func TestSubmitValidation(t *testing.T) {
	e := newTestEngine(t, &fakeCatalog{}, nil)

	_, err := e.Submit("", "act", nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = e.Submit("cap", "", nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestUnknownCapabilitySettlesWithNotFoundDetail(t *testing.T) {
	catalog := &fakeCatalog{known: map[string]bool{}}
	e := newTestEngine(t, catalog, nil)

	id, err := e.Submit("warpdrive", "engage", nil)
	require.NoError(t, err)

	res, err := e.Await(id)
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	require.NotNil(t, res.ErrDetail)
	assert.Equal(t, KindCapabilityNotFound, res.ErrDetail.Kind)
}

func TestFailedOutcomeSettlesWithSimulatedFailure(t *testing.T) {
	catalog := &fakeCatalog{known: map[string]bool{"echosim": true}}
	e := newTestEngine(t, catalog, nil, WithOutcome(alwaysFail))

	id, err := e.Submit("echosim", "render_soundscape", nil)
	require.NoError(t, err)

	res, err := e.Await(id)
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	require.NotNil(t, res.ErrDetail)
	assert.Equal(t, KindSimulatedFailure, res.ErrDetail.Kind)
	assert.Contains(t, res.ErrDetail.Message, "synthetic failure")
}

func TestExactlyOneEventPerTerminal(t *testing.T) {
	catalog := &fakeCatalog{known: map[string]bool{"nebulavoid": true}}
	events := &fakeEvents{}
	e := newTestEngine(t, catalog, events)

	id, err := e.Submit("nebulavoid", "generate_code", nil)
	require.NoError(t, err)
	_, err = e.Await(id)
	require.NoError(t, err)

	// Resolving again must not duplicate the settlement entry.
	_, err = e.Await(id)
	require.NoError(t, err)

	entries := events.snapshot()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "generate_code completed")
	assert.Contains(t, entries[0], "bytes")
}

func TestOnSettledResolvesTerminalImmediatelyAndIdentically(t *testing.T) {
	catalog := &fakeCatalog{known: map[string]bool{"nebulavoid": true}}
	e := newTestEngine(t, catalog, nil)

	id, err := e.Submit("nebulavoid", "plan", nil)
	require.NoError(t, err)

	first, err := e.Await(id)
	require.NoError(t, err)
	second, err := e.Await(id)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestOnSettledUnknownRequest(t *testing.T) {
	e := newTestEngine(t, &fakeCatalog{}, nil)

	_, err := e.OnSettled("missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMultipleWaitersEachResolveOnce(t *testing.T) {
	catalog := &fakeCatalog{known: map[string]bool{"nebulavoid": true}}
	release := make(chan struct{})
	e := newTestEngine(t, catalog, nil, WithDelay(func() time.Duration {
		<-release
		return 0
	}))

	id, err := e.Submit("nebulavoid", "plan", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Result, 3)
	for i := 0; i < 3; i++ {
		ch, err := e.OnSettled(id)
		require.NoError(t, err)
		wg.Add(1)
		go func(i int, ch <-chan Result) {
			defer wg.Done()
			results[i] = <-ch
		}(i, ch)
	}

	close(release)
	wg.Wait()

	for _, res := range results {
		assert.Equal(t, StatusCompleted, res.Status)
		assert.Equal(t, id, res.RequestID)
	}
}

func TestRequestIsProcessingWhileInFlight(t *testing.T) {
	catalog := &fakeCatalog{known: map[string]bool{"nebulavoid": true}}
	release := make(chan struct{})
	e := newTestEngine(t, catalog, nil, WithDelay(func() time.Duration {
		<-release
		return 0
	}))

	id, err := e.Submit("nebulavoid", "plan", nil)
	require.NoError(t, err)

	req, ok := e.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusProcessing, req.Status)

	close(release)
	_, err = e.Await(id)
	require.NoError(t, err)
}

func TestBoundedRetentionEvictsOldestTerminal(t *testing.T) {
	catalog := &fakeCatalog{known: map[string]bool{"nebulavoid": true}}
	e, err := New(catalog, nil, config.EngineConfig{MaxRetained: 3},
		WithDelay(NoDelay), WithOutcome(alwaysSucceed))
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := e.Submit("nebulavoid", "plan", nil)
		require.NoError(t, err)
		_, err = e.Await(id)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	retained := e.List()
	assert.Len(t, retained, 3)

	_, ok := e.Get(ids[0])
	assert.False(t, ok, "oldest terminal request should be evicted")
	_, ok = e.Get(ids[4])
	assert.True(t, ok, "newest request should be retained")
}
