package resource

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the
// memory limit.
var ErrMemoryLimitExceeded = errors.New("resource: memory limit exceeded")

// Config holds resource limits. Zero values mean unlimited, except
// MaxConcurrentBlobs which defaults to 1.
type Config struct {
	// MemoryLimitBytes caps the encode and decode buffers held at once.
	MemoryLimitBytes int64
	// MaxConcurrentBlobs caps blobs transferred in parallel.
	MaxConcurrentBlobs int64
	// IOLimitBytesPerSec caps blob throughput.
	IOLimitBytesPerSec int64
}

// Controller enforces a Config.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted
	memUsed atomic.Int64

	blobSem *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewController creates a controller for cfg.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentBlobs <= 0 {
		cfg.MaxConcurrentBlobs = 1
	}

	c := &Controller{
		cfg:     cfg,
		blobSem: semaphore.NewWeighted(cfg.MaxConcurrentBlobs),
	}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// AcquireMemory reserves bytes without blocking.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return ErrMemoryLimitExceeded
	}
	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory returns a reservation.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the reserved bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured limit, 0 if unlimited.
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// AcquireBlob waits for a transfer slot.
func (c *Controller) AcquireBlob(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.blobSem.Acquire(ctx, 1)
}

// TryAcquireBlob takes a transfer slot if one is free.
func (c *Controller) TryAcquireBlob() bool {
	if c == nil {
		return true
	}
	return c.blobSem.TryAcquire(1)
}

// ReleaseBlob returns a transfer slot.
func (c *Controller) ReleaseBlob() {
	if c == nil {
		return
	}
	c.blobSem.Release(1)
}

// AcquireIO waits until n bytes may be transferred. Requests larger than
// the limiter burst are split.
func (c *Controller) AcquireIO(ctx context.Context, n int) error {
	if c == nil || c.ioLimiter == nil {
		return ctx.Err()
	}
	burst := c.ioLimiter.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := c.ioLimiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// RateLimitedWriter paces writes through a Controller.
type RateLimitedWriter struct {
	ctx context.Context
	w   io.Writer
	c   *Controller
}

// NewRateLimitedWriter wraps w.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, c *Controller) *RateLimitedWriter {
	return &RateLimitedWriter{ctx: ctx, w: w, c: c}
}

func (r *RateLimitedWriter) Write(p []byte) (int, error) {
	if err := r.c.AcquireIO(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.w.Write(p)
}

// RateLimitedReader paces reads through a Controller.
type RateLimitedReader struct {
	ctx context.Context
	r   io.Reader
	c   *Controller
}

// NewRateLimitedReader wraps r.
func NewRateLimitedReader(ctx context.Context, r io.Reader, c *Controller) *RateLimitedReader {
	return &RateLimitedReader{ctx: ctx, r: r, c: c}
}

func (r *RateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.c.AcquireIO(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
