package resource

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerMemory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.AcquireMemory(50))
	require.NoError(t, c.AcquireMemory(40))
	assert.Equal(t, int64(90), c.MemoryUsage())

	assert.ErrorIs(t, c.AcquireMemory(20), ErrMemoryLimitExceeded)
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.ReleaseMemory(50)
	require.NoError(t, c.AcquireMemory(20))
	assert.Equal(t, int64(60), c.MemoryUsage())
	assert.Equal(t, int64(100), c.MemoryLimit())
}

func TestControllerUnlimitedMemory(t *testing.T) {
	c := NewController(Config{})

	require.NoError(t, c.AcquireMemory(1000))
	c.ReleaseMemory(500)
	assert.Equal(t, int64(500), c.MemoryUsage())
}

func TestControllerBlobs(t *testing.T) {
	c := NewController(Config{MaxConcurrentBlobs: 2})

	require.NoError(t, c.AcquireBlob(t.Context()))
	require.NoError(t, c.AcquireBlob(t.Context()))
	assert.False(t, c.TryAcquireBlob())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.AcquireBlob(ctx), context.DeadlineExceeded)

	c.ReleaseBlob()
	assert.True(t, c.TryAcquireBlob())
}

func TestControllerNil(t *testing.T) {
	var c *Controller
	ctx := context.Background()

	assert.NoError(t, c.AcquireMemory(10))
	c.ReleaseMemory(10)
	assert.Zero(t, c.MemoryUsage())
	assert.NoError(t, c.AcquireBlob(ctx))
	assert.True(t, c.TryAcquireBlob())
	c.ReleaseBlob()
	assert.NoError(t, c.AcquireIO(ctx, 1<<20))
}

func TestAcquireIOSplitsLargeRequests(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})

	// More than one burst needs roughly one second of refill.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireIO(ctx, 3<<20))

	assert.NoError(t, NewController(Config{IOLimitBytesPerSec: 1 << 20}).AcquireIO(context.Background(), 1<<10))
}

func TestRateLimitedWriterAndReader(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})
	ctx := context.Background()

	var buf bytes.Buffer
	w := NewRateLimitedWriter(ctx, &buf, c)
	_, err := io.Copy(w, strings.NewReader("tensor data"))
	require.NoError(t, err)
	assert.Equal(t, "tensor data", buf.String())

	r := NewRateLimitedReader(ctx, strings.NewReader("tensor data"), c)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "tensor data", string(got))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewRateLimitedWriter(canceled, &buf, nil).Write([]byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
