package core_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/book-expert/enunu-service/internal/core"
	"github.com/book-expert/enunu-service/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPaths(t *testing.T) {
	t.Parallel()

	paths := core.NewPaths("/jobs/abc")

	assert.Equal(t, filepath.Join("/jobs/abc", "temp.ust"), paths.TempScore)
	assert.Equal(t, filepath.Join("/jobs/abc", "full.lab"), paths.FullTiming)
	assert.Equal(t, filepath.Join("/jobs/abc", "mono.lab"), paths.MonoTiming)
	assert.Equal(t, filepath.Join("/jobs/abc", "f0.csv"), paths.F0)
	assert.Equal(t, filepath.Join("/jobs/abc", "aperiodicity.csv"), paths.Aperiodicity)
}

func TestJobContext_Config(t *testing.T) {
	t.Parallel()

	cfg := &voice.Config{TablePath: "/voice/table"}
	job := core.NewJobContext("/in/song.ust", "/jobs/abc", cfg, nil)

	got, err := job.Config()
	require.NoError(t, err)
	assert.Same(t, cfg, got)

	errMissing := errors.New("missing enuconfig")
	failing := core.NewJobContext("/in/song.ust", "/jobs/abc", nil, errMissing)

	_, err = failing.Config()
	require.ErrorIs(t, err, errMissing)
	assert.Equal(t, "/jobs/abc", failing.WorkingDir, "working dir is usable even when config is not")
}
