package catalog

import (
	"os"
	"path/filepath"
	"testing"

	errs "github.com/nebulaforge/forge/internal/errors"
	"github.com/nebulaforge/forge/internal/eventlog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvents struct {
	entries []string
}

func (f *fakeEvents) Append(kind eventlog.Kind, content string) (string, error) {
	f.entries = append(f.entries, string(kind)+": "+content)
	return "id", nil
}

func TestInitializeLoadsEmbeddedCatalog(t *testing.T) {
	events := &fakeEvents{}
	r := NewRegistry(events)

	require.NoError(t, r.Initialize(""))

	capabilities := r.List()
	require.Len(t, capabilities, 8)
	assert.Equal(t, "nebulavoid", capabilities[0].ID)
	assert.Equal(t, "nebula_agent", capabilities[7].ID)
	for _, c := range capabilities {
		assert.Equal(t, StatusActive, c.Status, c.ID)
		assert.NotEmpty(t, c.Name)
		assert.NotEmpty(t, c.Description)
	}

	require.Len(t, events.entries, 1)
	assert.Contains(t, events.entries[0], "system")
}

func TestInitializeWithManifestOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	manifest := `capabilities:
  - id: custom
    name: Custom Module
    description: Replacement catalog.
    tags: [test]
`
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0644))

	r := NewRegistry(nil)
	require.NoError(t, r.Initialize(path))

	capabilities := r.List()
	require.Len(t, capabilities, 1)
	assert.Equal(t, "custom", capabilities[0].ID)
	assert.Equal(t, StatusActive, capabilities[0].Status)
}

func TestInitializeRejectsMissingOverride(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Initialize(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, errs.ErrPersistence)
}

func TestSetEnabledTogglesAndReturnsPrevious(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Initialize(""))

	previous, err := r.SetEnabled("echosim", false)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, previous)

	c, err := r.Get("echosim")
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, c.Status)

	previous, err = r.SetEnabled("echosim", true)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, previous)
}

func TestSetEnabledUnknownID(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Initialize(""))

	_, err := r.SetEnabled("warpdrive", true)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListOrderStableAcrossToggles(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Initialize(""))

	before := r.List()
	_, err := r.SetEnabled("aethercore", false)
	require.NoError(t, err)
	after := r.List()

	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
	}
}

func TestHas(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Initialize(""))

	assert.True(t, r.Has("sentinelflux"))
	assert.False(t, r.Has("nonexistent"))
}
