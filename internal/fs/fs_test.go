package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	lfs := LocalFS{}
	require.NoError(t, lfs.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, "x.tmp")
	f, err := lfs.Create(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())
	assert.Equal(t, path, f.Name())

	final := filepath.Join(dir, "x")
	require.NoError(t, lfs.Rename(path, final))
	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, lfs.Remove(final))
	_, err = os.Stat(final)
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFSWriteLimit(t *testing.T) {
	ffs := NewFaultyFS(nil)
	ffs.AddRule("tensors", Fault{FailAfterBytes: 4})

	f, err := ffs.Create(filepath.Join(t.TempDir(), "tensors.bin"))
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = f.Write([]byte("de"))
	assert.ErrorIs(t, err, ErrInjected)
}

func TestFaultyFSUnmatched(t *testing.T) {
	ffs := NewFaultyFS(LocalFS{})
	ffs.AddRule("tensors", Fault{FailAfterBytes: 0, FailOnSync: true})

	f, err := ffs.Create(filepath.Join(t.TempDir(), "state.bin"))
	require.NoError(t, err)
	_, err = f.Write([]byte("ok"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())
}

func TestFaultyFSSyncCloseRename(t *testing.T) {
	boom := errors.New("boom")
	dir := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("blob", Fault{FailAfterBytes: -1, FailOnSync: true, FailOnClose: true, FailOnRename: true, Err: boom})

	f, err := ffs.Create(filepath.Join(dir, "blob.tmp"))
	require.NoError(t, err)
	assert.ErrorIs(t, f.Sync(), boom)
	assert.ErrorIs(t, f.Close(), boom)
	assert.ErrorIs(t, ffs.Rename(filepath.Join(dir, "blob.tmp"), filepath.Join(dir, "blob")), boom)
}
