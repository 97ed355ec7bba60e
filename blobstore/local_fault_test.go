package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/treemem/internal/fs"
)

func faultyLocalStore(t *testing.T, pattern string, fault fs.Fault) (*LocalStore, string) {
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(pattern, fault)
	store := NewLocalStore(dir)
	store.fs = ffs
	return store, dir
}

func assertNoFiles(t *testing.T, dir string) {
	t.Helper()
	var files []string
	require.NoError(t, filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, path)
		}
		return err
	}))
	assert.Empty(t, files)
}

func TestLocalStorePutFaults(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		fault fs.Fault
	}{
		{"write", fs.Fault{FailAfterBytes: 2}},
		{"sync", fs.Fault{FailAfterBytes: -1, FailOnSync: true}},
		{"close", fs.Fault{FailAfterBytes: -1, FailOnClose: true}},
		{"rename", fs.Fault{FailAfterBytes: -1, FailOnRename: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, dir := faultyLocalStore(t, "blob", tt.fault)

			err := store.Put(ctx, "blob", []byte("payload"))
			assert.ErrorIs(t, err, fs.ErrInjected)

			_, err = store.Open(ctx, "blob")
			assert.ErrorIs(t, err, ErrNotFound)
			assertNoFiles(t, dir)
		})
	}
}

func TestLocalStoreFaultScopedToPattern(t *testing.T) {
	ctx := context.Background()
	store, _ := faultyLocalStore(t, "tensors", fs.Fault{FailAfterBytes: 0})

	require.NoError(t, store.Put(ctx, "state.bin", []byte("ok")))
	assert.Error(t, store.Put(ctx, "tensors.bin", []byte("x")))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"state.bin"}, names)
}
