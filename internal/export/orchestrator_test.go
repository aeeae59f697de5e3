package export

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/nebulaforge/forge/internal/config"
	errs "github.com/nebulaforge/forge/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	base := []Option{WithDelay(NoDelay)}
	o, err := New(config.ExporterConfig{}, append(base, opts...)...)
	require.NoError(t, err)
	return o
}

func TestRunAllStagesSucceed(t *testing.T) {
	o := newTestOrchestrator(t)

	result, err := o.Run(context.Background(), FormatWeb, []string{"optimize", "bundle", "package"})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Empty(t, result.Err)
	require.Len(t, result.BuildLog, 3)
	assert.Contains(t, result.BuildLog[0], "optimize")
	assert.Contains(t, result.BuildLog[1], "bundle")
	assert.Contains(t, result.BuildLog[2], "package")

	require.NotNil(t, result.Artifact)
	assert.True(t, strings.HasPrefix(result.Artifact.DownloadURL, "https://"))
	assert.Contains(t, result.Artifact.DownloadURL, result.ID)
	assert.Greater(t, result.Artifact.FileSize, int64(0))
	assert.GreaterOrEqual(t, result.Artifact.BuildTimeMs, int64(0))
}

func TestRunFailFastNamesFailedStage(t *testing.T) {
	runner := func(ctx context.Context, format Format, stage string) error {
		if stage == "package" {
			return fmt.Errorf("signing key unavailable")
		}
		return nil
	}
	o := newTestOrchestrator(t, WithStageRunner(runner))

	result, err := o.Run(context.Background(), FormatWeb, []string{"optimize", "package", "upload"})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Err, `"package"`)
	assert.Nil(t, result.Artifact)

	// Exactly the one completed stage is logged; nothing for the failed
	// stage or the stages after it.
	require.Len(t, result.BuildLog, 1)
	assert.Contains(t, result.BuildLog[0], "optimize")
}

func TestRunValidation(t *testing.T) {
	o := newTestOrchestrator(t)

	_, err := o.Run(context.Background(), Format("vr"), []string{"optimize"})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = o.Run(context.Background(), FormatWeb, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestRunRemovedFromActiveMapAfterTerminal(t *testing.T) {
	o := newTestOrchestrator(t)

	var seenActive bool
	o.Subscribe(func(s State) {
		if len(s.Active) > 0 {
			seenActive = true
		}
	})

	_, err := o.Run(context.Background(), FormatDesktop, []string{"compile"})
	require.NoError(t, err)

	assert.True(t, seenActive, "run should have appeared in the active map")
	assert.Empty(t, o.Active())
}

func TestArtifactExtensionPerFormat(t *testing.T) {
	o := newTestOrchestrator(t)

	for format, ext := range map[Format]string{
		FormatWeb:     ".zip",
		FormatDesktop: ".tar.gz",
		FormatMobile:  ".apk",
	} {
		result, err := o.Run(context.Background(), format, []string{"package"})
		require.NoError(t, err)
		require.NotNil(t, result.Artifact)
		assert.True(t, strings.HasSuffix(result.Artifact.DownloadURL, ext),
			"format %s should yield %s, got %s", format, ext, result.Artifact.DownloadURL)
	}
}

func TestStagesRunStrictlyInOrder(t *testing.T) {
	var order []string
	runner := func(ctx context.Context, format Format, stage string) error {
		order = append(order, stage)
		return nil
	}
	o := newTestOrchestrator(t, WithStageRunner(runner))

	_, err := o.Run(context.Background(), FormatMobile, []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, order)
}
