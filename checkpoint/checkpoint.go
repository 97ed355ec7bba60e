package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hupe1980/treemem"
	"github.com/hupe1980/treemem/blobstore"
	"github.com/hupe1980/treemem/codec"
	"github.com/hupe1980/treemem/internal/hash"
	"github.com/hupe1980/treemem/internal/resource"
	"github.com/hupe1980/treemem/tensor"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrIncompatible is returned when a checkpoint does not match the
	// module's parameters. It is joined with a *treemem.ShapeError.
	ErrIncompatible = errors.New("checkpoint: incompatible parameters")
	// ErrChecksum is returned when tensor data fails verification.
	ErrChecksum = errors.New("checkpoint: checksum mismatch")
	// ErrFormat is returned for manifests of an unknown format version.
	ErrFormat = errors.New("checkpoint: unsupported format")
	// ErrCurrent is returned when deleting the checkpoint CURRENT names.
	ErrCurrent = errors.New("checkpoint: checkpoint is current")
)

// Module exposes trainable tensors by stable name. TreeMemory and
// FlatMemory implement it.
type Module interface {
	NamedParameters() map[string]*tensor.Tensor
}

// Stateful modules persist non-parameter state next to their weights.
type Stateful interface {
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error
}

type resetter interface{ Reset() }

type aborter interface{ Abort() error }

type conditionalPutter interface {
	PutIfAbsent(ctx context.Context, name string, data []byte) error
}

// Save writes every parameter of m (and its state, if m is Stateful) as a
// new checkpoint and then points CURRENT at it.
func Save(ctx context.Context, store blobstore.BlobStore, m Module, optFns ...Option) (_ *Manifest, err error) {
	o := applyOptions(optFns)
	params := m.NamedParameters()
	man := &Manifest{
		ID:          uuid.NewString(),
		Format:      FormatVersion,
		Created:     o.now().UTC(),
		Codec:       o.codec.Name(),
		Compression: o.compression,
	}
	defer func() { o.logger.LogCheckpoint(ctx, "save", man.ID, len(params), err) }()

	names := sortedNames(params)
	var raw int64
	for _, name := range names {
		raw += 4 * int64(params[name].Numel())
	}
	if err := o.controller.AcquireMemory(raw); err != nil {
		return nil, err
	}
	defer o.controller.ReleaseMemory(raw)

	blocks, err := encodeAll(ctx, params, names, man, o)
	if err != nil {
		return nil, err
	}
	if err := writeTensors(ctx, store, man.TensorsPath(), blocks, o); err != nil {
		return nil, err
	}
	written := []string{man.TensorsPath()}
	defer func() {
		if err != nil {
			removeAll(ctx, store, written)
		}
	}()

	if s, ok := m.(Stateful); ok {
		state, err := s.MarshalState()
		if err != nil {
			return nil, fmt.Errorf("checkpoint: marshal state: %w", err)
		}
		man.State = path.Join(man.Dir(), stateName)
		if err := store.Put(ctx, man.State, state); err != nil {
			return nil, err
		}
		written = append(written, man.State)
	}

	data, err := o.codec.Marshal(man)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal manifest: %w", err)
	}
	if cp, ok := store.(conditionalPutter); ok {
		err = cp.PutIfAbsent(ctx, man.Path(), data)
	} else {
		err = store.Put(ctx, man.Path(), data)
	}
	if err != nil {
		return nil, err
	}
	written = append(written, man.Path())

	if err := store.Put(ctx, blobstore.CurrentName, []byte(man.Path())); err != nil {
		return nil, fmt.Errorf("checkpoint: commit %s: %w", man.ID, err)
	}
	return man, nil
}

func encodeAll(ctx context.Context, params map[string]*tensor.Tensor, names []string, man *Manifest, o options) ([][]byte, error) {
	blocks := make([][]byte, len(names))
	man.Tensors = make([]TensorEntry, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t := params[name]
			raw := encodeFloats(t.Data)
			block, err := compressBlock(raw, o.compression)
			if err != nil {
				return fmt.Errorf("checkpoint: encode %s: %w", name, err)
			}
			blocks[i] = block
			man.Tensors[i] = TensorEntry{
				Name:     name,
				Shape:    t.Shape(),
				Length:   int64(len(block)),
				Checksum: hash.CRC32C(raw),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var off int64
	for i := range man.Tensors {
		man.Tensors[i].Offset = off
		off += man.Tensors[i].Length
	}
	return blocks, nil
}

func writeTensors(ctx context.Context, store blobstore.BlobStore, name string, blocks [][]byte, o options) error {
	if err := o.controller.AcquireBlob(ctx); err != nil {
		return err
	}
	defer o.controller.ReleaseBlob()

	w, err := store.Create(ctx, name)
	if err != nil {
		return err
	}
	rw := resource.NewRateLimitedWriter(ctx, w, o.controller)
	for _, b := range blocks {
		if _, err := rw.Write(b); err != nil {
			discard(ctx, store, name, w)
			return fmt.Errorf("checkpoint: write %s: %w", name, err)
		}
	}
	if err := w.Sync(); err != nil {
		discard(ctx, store, name, w)
		return err
	}
	return w.Close()
}

func discard(ctx context.Context, store blobstore.BlobStore, name string, w blobstore.WritableBlob) {
	if a, ok := w.(aborter); ok {
		_ = a.Abort()
		return
	}
	_ = w.Close()
	_ = store.Delete(ctx, name)
}

// removeAll deletes the blobs of a save that did not commit. It runs even
// when ctx is already canceled.
func removeAll(ctx context.Context, store blobstore.BlobStore, names []string) {
	ctx = context.WithoutCancel(ctx)
	for _, name := range names {
		_ = store.Delete(ctx, name)
	}
}

// Load restores the checkpoint named by CURRENT into m.
func Load(ctx context.Context, store blobstore.BlobStore, m Module, optFns ...Option) (*Manifest, error) {
	o := applyOptions(optFns)
	man, err := latest(ctx, store, o)
	if err != nil {
		o.logger.LogCheckpoint(ctx, "load", "", 0, err)
		return nil, err
	}
	return man, Restore(ctx, store, man, m, optFns...)
}

// Latest returns the manifest CURRENT points at.
func Latest(ctx context.Context, store blobstore.BlobStore, optFns ...Option) (*Manifest, error) {
	return latest(ctx, store, applyOptions(optFns))
}

func latest(ctx context.Context, store blobstore.BlobStore, o options) (*Manifest, error) {
	current, err := blobstore.ReadAll(ctx, store, blobstore.CurrentName)
	if err != nil {
		return nil, err
	}
	return readManifest(ctx, store, strings.TrimSpace(string(current)), o)
}

// Open reads the manifest of checkpoint id.
func Open(ctx context.Context, store blobstore.BlobStore, id string, optFns ...Option) (*Manifest, error) {
	return readManifest(ctx, store, path.Join(Dir(id), manifestName), applyOptions(optFns))
}

func readManifest(ctx context.Context, store blobstore.BlobStore, name string, o options) (*Manifest, error) {
	data, err := blobstore.ReadAll(ctx, store, name)
	if err != nil {
		return nil, err
	}
	man, err := codec.Decode[Manifest](o.codec, data)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", name, err)
	}
	if man.Format != FormatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrFormat, man.Format)
	}
	if _, err := codec.Lookup(man.Codec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return &man, nil
}

// Restore copies the tensors of man into m. Parameters are only written
// once every tensor has been read and verified. Modules with a Reset method
// are reset so that nothing built from the old weights survives.
func Restore(ctx context.Context, store blobstore.BlobStore, man *Manifest, m Module, optFns ...Option) (err error) {
	o := applyOptions(optFns)
	params := m.NamedParameters()
	defer func() { o.logger.LogCheckpoint(ctx, "load", man.ID, len(man.Tensors), err) }()

	if err := checkCompatible(man, params); err != nil {
		return err
	}

	size := man.Size()
	if err := o.controller.AcquireMemory(size); err != nil {
		return err
	}
	defer o.controller.ReleaseMemory(size)

	values, err := readTensors(ctx, store, man, o)
	if err != nil {
		return err
	}

	if s, ok := m.(Stateful); ok && man.State != "" {
		state, err := blobstore.ReadAll(ctx, store, man.State)
		if err != nil {
			return err
		}
		if err := s.UnmarshalState(state); err != nil {
			return fmt.Errorf("checkpoint: restore state: %w", err)
		}
	}

	for i, e := range man.Tensors {
		copy(params[e.Name].Data, values[i])
	}
	if r, ok := m.(resetter); ok {
		r.Reset()
	}
	return nil
}

func checkCompatible(man *Manifest, params map[string]*tensor.Tensor) error {
	incompatible := func(input, format string, args ...any) error {
		return errors.Join(ErrIncompatible, &treemem.ShapeError{Input: input, Reason: fmt.Sprintf(format, args...)})
	}

	seen := make(map[string]bool, len(man.Tensors))
	for _, e := range man.Tensors {
		t, ok := params[e.Name]
		if !ok {
			return incompatible(e.Name, "not a parameter of the module")
		}
		if !slices.Equal(t.Shape(), e.Shape) {
			return incompatible(e.Name, "checkpoint shape %v, parameter shape %v", e.Shape, t.Shape())
		}
		seen[e.Name] = true
	}
	for _, name := range sortedNames(params) {
		if !seen[name] {
			return incompatible(name, "missing from checkpoint %s", man.ID)
		}
	}
	return nil
}

func readTensors(ctx context.Context, store blobstore.BlobStore, man *Manifest, o options) ([][]float32, error) {
	if err := o.controller.AcquireBlob(ctx); err != nil {
		return nil, err
	}
	defer o.controller.ReleaseBlob()

	blob, err := store.Open(ctx, man.TensorsPath())
	if err != nil {
		return nil, err
	}
	defer blob.Close()
	if blob.Size() < man.Size() {
		return nil, fmt.Errorf("%w: tensors blob has %d bytes, want %d", errCorruptBlock, blob.Size(), man.Size())
	}

	values := make([][]float32, len(man.Tensors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)
	for i, e := range man.Tensors {
		g.Go(func() error {
			rc, err := blob.ReadRange(gctx, e.Offset, e.Length)
			if err != nil {
				return err
			}
			defer rc.Close()

			block, err := io.ReadAll(resource.NewRateLimitedReader(gctx, rc, o.controller))
			if err != nil {
				return err
			}
			raw, err := decompressBlock(block, man.Compression)
			if err != nil {
				return fmt.Errorf("checkpoint: decode %s: %w", e.Name, err)
			}
			if hash.CRC32C(raw) != e.Checksum {
				return fmt.Errorf("%w: %s", ErrChecksum, e.Name)
			}
			values[i], err = decodeFloats(raw, numel(e.Shape))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}

// List returns the ids of all stored checkpoints, sorted.
func List(ctx context.Context, store blobstore.BlobStore) ([]string, error) {
	names, err := store.List(ctx, rootDir+"/")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, name := range names {
		if path.Base(name) != manifestName {
			continue
		}
		ids = append(ids, path.Base(path.Dir(name)))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes every blob of checkpoint id. The current checkpoint cannot
// be deleted.
func Delete(ctx context.Context, store blobstore.BlobStore, id string) error {
	dir := Dir(id)
	current, err := blobstore.ReadAll(ctx, store, blobstore.CurrentName)
	switch {
	case err == nil && path.Dir(strings.TrimSpace(string(current))) == dir:
		return fmt.Errorf("%w: %s", ErrCurrent, id)
	case err != nil && !errors.Is(err, blobstore.ErrNotFound):
		return err
	}

	names, err := store.List(ctx, dir+"/")
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := store.Delete(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func sortedNames(params map[string]*tensor.Tensor) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
