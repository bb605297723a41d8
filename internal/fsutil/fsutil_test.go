package fsutil_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/enunu-service/internal/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "a", "b")

	require.NoError(t, fsutil.EnsureDir(dir))
	require.NoError(t, fsutil.EnsureDir(dir), "existing directory is not an error")

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnsureDir_File(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	err := fsutil.EnsureDir(file)
	require.ErrorIs(t, err, fsutil.ErrNotADirectory)
}

func TestRemoveIfExists(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "f0.csv")
	require.NoError(t, os.WriteFile(file, []byte("1.0"), 0o600))

	require.NoError(t, fsutil.RemoveIfExists(file))
	assert.NoFileExists(t, file)
	require.NoError(t, fsutil.RemoveIfExists(file), "missing file is tolerated")
}

func TestCopyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "song.ust")
	dst := filepath.Join(dir, "temp.ust")

	require.NoError(t, os.WriteFile(src, []byte("[#SETTING]\n"), 0o600))
	require.NoError(t, fsutil.CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "[#SETTING]\n", string(data))

	err = fsutil.CopyFile(filepath.Join(dir, "missing.ust"), dst)
	require.Error(t, err)
}

func TestWriteFileAtomic_FailureLeavesNoFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "out.npy")
	errBoom := errors.New("boom")

	err := fsutil.WriteFileAtomic(target, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))

		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	assert.NoFileExists(t, target)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be cleaned up")
}

func TestReplaceExt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/jobs/x/f0.npy", fsutil.ReplaceExt("/jobs/x/f0.csv", ".npy"))
	assert.Equal(t, "/jobs/x/f0.npy", fsutil.ReplaceExt("/jobs/x/f0", ".npy"))
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "my_song_v2_", fsutil.SanitizeFilename("my song:v2?"))
}
