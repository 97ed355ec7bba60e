// Package resource bounds the memory, concurrency and IO bandwidth of
// checkpoint transfers.
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:   256 << 20,
//	    MaxConcurrentBlobs: 4,
//	    IOLimitBytesPerSec: 64 << 20,
//	})
//
//	if err := rc.AcquireMemory(n); err != nil {
//	    return err // ErrMemoryLimitExceeded, never blocks
//	}
//	defer rc.ReleaseMemory(n)
//
//	w := resource.NewRateLimitedWriter(ctx, blob, rc)
//
// All methods are safe for concurrent use and treat a nil *Controller as
// unlimited.
package resource
