package checkpoint

import (
	"runtime"
	"time"

	"github.com/hupe1980/treemem"
	"github.com/hupe1980/treemem/codec"
	"github.com/hupe1980/treemem/internal/resource"
)

// Option configures Save and Load.
type Option func(*options)

type options struct {
	logger      *treemem.Logger
	compression Compression
	codec       codec.Codec
	controller  *resource.Controller
	parallelism int
	now         func() time.Time
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:      treemem.NoopLogger(),
		compression: CompressionZstd,
		codec:       codec.Default,
		parallelism: runtime.GOMAXPROCS(0),
		now:         time.Now,
	}
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}

// WithLogger logs every save and load.
func WithLogger(l *treemem.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCompression sets the tensor block codec. Default: CompressionZstd.
func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithCodec sets the manifest codec. Default: codec.Default.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// Limits bounds the resources of one Save or Load. Zero fields mean
// unlimited.
type Limits struct {
	// MemoryBytes caps the encoded tensor bytes held at once.
	MemoryBytes int64
	// ConcurrentBlobs caps blobs transferred in parallel.
	ConcurrentBlobs int64
	// BytesPerSec caps blob throughput.
	BytesPerSec int64
}

// WithLimits applies resource limits.
func WithLimits(l Limits) Option {
	return func(o *options) {
		o.controller = resource.NewController(resource.Config{
			MemoryLimitBytes:   l.MemoryBytes,
			MaxConcurrentBlobs: l.ConcurrentBlobs,
			IOLimitBytesPerSec: l.BytesPerSec,
		})
	}
}

// WithParallelism sets how many tensors are encoded or decoded at once.
// Default: GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.parallelism = n
		}
	}
}
