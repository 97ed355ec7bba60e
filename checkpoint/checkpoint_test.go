package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/treemem"
	"github.com/hupe1980/treemem/blobstore"
	"github.com/hupe1980/treemem/codec"
	"github.com/hupe1980/treemem/internal/resource"
	"github.com/hupe1980/treemem/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig(seed int64) treemem.Config {
	cfg := treemem.DefaultConfig()
	cfg.Dim = 8
	cfg.Heads = 2
	cfg.FeedForward = 16
	cfg.Seed = seed
	return cfg
}

func newTree(t *testing.T, seed int64) *treemem.TreeMemory {
	t.Helper()
	mem, err := treemem.New(smallConfig(seed))
	require.NoError(t, err)
	return mem
}

func train(t *testing.T, mem *treemem.TreeMemory) {
	t.Helper()
	ctx := context.Background()
	rng := testutil.NewRNG(3)
	require.NoError(t, mem.Setup(ctx, rng.Gaussian(2, 9, 8), treemem.ModeTrain))
	_, err := mem.Retrieve(ctx, rng.Gaussian(2, 3, 8), treemem.ModeTrain)
	require.NoError(t, err)
}

func assertSameParameters(t *testing.T, want, got Module) {
	t.Helper()
	wp, gp := want.NamedParameters(), got.NamedParameters()
	require.Len(t, gp, len(wp))
	for name, w := range wp {
		require.Contains(t, gp, name)
		assert.Equal(t, w.Data, gp[name].Data, name)
	}
}

func TestSaveLoadTreeMemory(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			ctx := context.Background()
			store := blobstore.NewMemoryStore()

			src := newTree(t, 1)
			train(t, src)

			man, err := Save(ctx, store, src, WithCompression(c), WithParallelism(2))
			require.NoError(t, err)
			assert.Equal(t, FormatVersion, man.Format)
			assert.Equal(t, c, man.Compression)
			assert.Len(t, man.Tensors, len(src.NamedParameters()))
			assert.NotEmpty(t, man.State)

			dst := newTree(t, 2)
			require.NoError(t, dst.Setup(ctx, testutil.NewRNG(4).Gaussian(1, 5, 8), treemem.ModeInference))
			require.Equal(t, 2, dst.Depth())

			loaded, err := Load(ctx, store, dst)
			require.NoError(t, err)
			assert.Equal(t, man.ID, loaded.ID)

			assertSameParameters(t, src, dst)
			assert.Equal(t, -1, dst.Depth(), "load drops the tree built from old weights")

			want, got := src.LossStats(), dst.LossStats()
			require.Len(t, got, len(want))
			for i := range want {
				assert.Equal(t, want[i].Count, got[i].Count)
				assert.InDelta(t, want[i].Mean, got[i].Mean, 1e-12)
			}
		})
	}
}

func TestSaveLoadFlatMemoryLocalStore(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewLocalStore(t.TempDir())

	src, err := treemem.NewFlat(smallConfig(1))
	require.NoError(t, err)
	_, err = Save(ctx, store, src, WithCompression(CompressionLZ4), WithCodec(codec.JSON{}))
	require.NoError(t, err)

	dst, err := treemem.NewFlat(smallConfig(9))
	require.NoError(t, err)
	_, err = Load(ctx, store, dst, WithCodec(codec.JSON{}))
	require.NoError(t, err)
	assertSameParameters(t, src, dst)
}

func TestLoadIncompatible(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	flat, err := treemem.NewFlat(smallConfig(1))
	require.NoError(t, err)
	_, err = Save(ctx, store, flat)
	require.NoError(t, err)

	t.Run("different module", func(t *testing.T) {
		_, err := Load(ctx, store, newTree(t, 1))
		assert.ErrorIs(t, err, ErrIncompatible)
		assert.ErrorIs(t, err, treemem.ErrShape)
	})

	t.Run("different shape", func(t *testing.T) {
		cfg := smallConfig(1)
		cfg.FeedForward = 32
		wide, err := treemem.NewFlat(cfg)
		require.NoError(t, err)

		_, err = Load(ctx, store, wide)
		assert.ErrorIs(t, err, ErrIncompatible)

		var se *treemem.ShapeError
		require.ErrorAs(t, err, &se)
		assert.Contains(t, se.Reason, "shape")
	})
}

func TestLoadDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	src, err := treemem.NewFlat(smallConfig(1))
	require.NoError(t, err)
	man, err := Save(ctx, store, src, WithCompression(CompressionNone))
	require.NoError(t, err)

	data, err := blobstore.ReadAll(ctx, store, man.TensorsPath())
	require.NoError(t, err)
	data[blockHeaderSize] ^= 0xff
	require.NoError(t, store.Put(ctx, man.TensorsPath(), data))

	dst, err := treemem.NewFlat(smallConfig(2))
	require.NoError(t, err)
	before := dst.NamedParameters()["attn.query.weight"].Data[0]

	_, err = Load(ctx, store, dst)
	assert.ErrorIs(t, err, ErrChecksum)
	assert.Equal(t, before, dst.NamedParameters()["attn.query.weight"].Data[0], "failed load leaves parameters untouched")
}

func TestLoadWithoutCheckpoint(t *testing.T) {
	_, err := Load(context.Background(), blobstore.NewMemoryStore(), newTree(t, 1))
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestListOpenDelete(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	mem := newTree(t, 1)

	first, err := Save(ctx, store, mem)
	require.NoError(t, err)
	second, err := Save(ctx, store, mem)
	require.NoError(t, err)

	ids, err := List(ctx, store)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)

	current, err := Latest(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)

	opened, err := Open(ctx, store, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Tensors, opened.Tensors)

	assert.ErrorIs(t, Delete(ctx, store, second.ID), ErrCurrent)
	require.NoError(t, Delete(ctx, store, first.ID))

	ids, err = List(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, ids)

	names, err := store.List(ctx, Dir(first.ID))
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSaveMemoryLimit(t *testing.T) {
	_, err := Save(context.Background(), blobstore.NewMemoryStore(), newTree(t, 1), WithLimits(Limits{MemoryBytes: 16}))
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
}

func TestSaveWithLimitsAndLogger(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	var buf bytes.Buffer
	logger := treemem.NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mem := newTree(t, 1)
	limits := Limits{MemoryBytes: 1 << 24, ConcurrentBlobs: 1, BytesPerSec: 1 << 30}
	man, err := Save(ctx, store, mem, WithLimits(limits), WithLogger(logger))
	require.NoError(t, err)
	_, err = Load(ctx, store, mem, WithLimits(limits), WithLogger(logger))
	require.NoError(t, err)

	assert.Contains(t, buf.String(), man.ID)
	assert.Contains(t, buf.String(), "checkpoint save completed")
	assert.Contains(t, buf.String(), "checkpoint load completed")
}

type conditionalStore struct {
	*blobstore.MemoryStore
	conditional []string
}

func (s *conditionalStore) PutIfAbsent(ctx context.Context, name string, data []byte) error {
	s.conditional = append(s.conditional, name)
	return s.Put(ctx, name, data)
}

func TestSaveUsesConditionalPut(t *testing.T) {
	store := &conditionalStore{MemoryStore: blobstore.NewMemoryStore()}
	man, err := Save(context.Background(), store, newTree(t, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{man.Path()}, store.conditional)
	assert.Equal(t, path.Join("ckpt", man.ID, "manifest.json"), man.Path())
}

func TestManifestCreated(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	man, err := Save(context.Background(), blobstore.NewMemoryStore(), newTree(t, 1),
		func(o *options) { o.now = func() time.Time { return at } })
	require.NoError(t, err)
	assert.Equal(t, at, man.Created)
}

func TestOpenUnknownCodec(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	man, err := Save(ctx, store, newTree(t, 1))
	require.NoError(t, err)

	man.Codec = "msgpack"
	require.NoError(t, store.Put(ctx, man.Path(), codec.MustMarshal(nil, man)))

	_, err = Open(ctx, store, man.ID)
	assert.ErrorIs(t, err, ErrFormat)
	assert.ErrorIs(t, err, codec.ErrUnknown)
}

type failingStore struct {
	blobstore.BlobStore
	fail    string
	failPut string
}

func (s *failingStore) Put(ctx context.Context, name string, data []byte) error {
	if s.failPut != "" && strings.HasSuffix(name, s.failPut) {
		return errInjected
	}
	return s.BlobStore.Put(ctx, name, data)
}

type failingBlob struct{ blobstore.WritableBlob }

func (failingBlob) Write([]byte) (int, error) { return 0, errInjected }

var errInjected = errors.New("injected")

func (s *failingStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	w, err := s.BlobStore.Create(ctx, name)
	if err != nil || s.fail == "" || !strings.HasSuffix(name, s.fail) {
		return w, err
	}
	return failingBlob{w}, nil
}

func TestSaveFailureKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	mem := newTree(t, 1)
	inner := blobstore.NewMemoryStore()

	first, err := Save(ctx, inner, mem)
	require.NoError(t, err)

	_, err = Save(ctx, &failingStore{BlobStore: inner, fail: tensorsName}, mem)
	require.ErrorIs(t, err, errInjected)

	current, err := Latest(ctx, inner)
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)

	ids, err := List(ctx, inner)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, ids)
}

func TestSaveFailureRemovesWrittenBlobs(t *testing.T) {
	for _, failPut := range []string{stateName, manifestName, blobstore.CurrentName} {
		t.Run(failPut, func(t *testing.T) {
			ctx := context.Background()
			mem := newTree(t, 1)
			inner := blobstore.NewMemoryStore()

			first, err := Save(ctx, inner, mem)
			require.NoError(t, err)
			before, err := inner.List(ctx, rootDir+"/")
			require.NoError(t, err)

			_, err = Save(ctx, &failingStore{BlobStore: inner, failPut: failPut}, mem)
			require.ErrorIs(t, err, errInjected)

			after, err := inner.List(ctx, rootDir+"/")
			require.NoError(t, err)
			assert.Equal(t, before, after)

			current, err := Latest(ctx, inner)
			require.NoError(t, err)
			assert.Equal(t, first.ID, current.ID)
		})
	}
}
