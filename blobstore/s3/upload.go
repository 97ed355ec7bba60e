package s3

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// UploadConfig configures streaming uploads.
type UploadConfig struct {
	// PartSize is the multipart part size. Default: 8MB.
	PartSize int64
	// Concurrency is the number of parts uploaded in parallel. Default: 5.
	Concurrency int
	// EnableChecksum asks S3 to verify CRC32C checksums. Default: true.
	EnableChecksum bool
	// LeavePartsOnError keeps uploaded parts when an upload fails.
	LeavePartsOnError bool
}

// DefaultUploadConfig returns the default upload settings.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		PartSize:       8 * 1024 * 1024,
		Concurrency:    5,
		EnableChecksum: true,
	}
}

func newUploader(client Client, cfg UploadConfig) *manager.Uploader {
	return manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
		u.LeavePartsOnError = cfg.LeavePartsOnError
	})
}

// writableBlob streams writes through a pipe into the upload manager.
type writableBlob struct {
	pw   *io.PipeWriter
	done chan error

	closeMu  sync.Mutex
	closed   atomic.Bool
	closeErr error
}

func newWritableBlob(ctx context.Context, uploader *manager.Uploader, bucket, key string, checksum bool) *writableBlob {
	pr, pw := io.Pipe()
	w := &writableBlob{pw: pw, done: make(chan error, 1)}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   pr,
	}
	if checksum {
		input.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
	}

	go func() {
		_, err := uploader.Upload(ctx, input)
		_ = pr.CloseWithError(err)
		w.done <- err
	}()

	return w
}

func (w *writableBlob) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return w.pw.Write(p)
}

// Close finishes the upload and waits for it. It is idempotent.
func (w *writableBlob) Close() error {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()

	if !w.closed.CompareAndSwap(false, true) {
		return w.closeErr
	}
	if err := w.pw.Close(); err != nil {
		w.closeErr = err
		return err
	}
	w.closeErr = <-w.done
	return w.closeErr
}

// Abort cancels the upload. The upload manager removes uploaded parts
// unless LeavePartsOnError is set.
func (w *writableBlob) Abort() error {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()

	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = w.pw.CloseWithError(context.Canceled)
	<-w.done
	w.closeErr = context.Canceled
	return nil
}

// Sync is a no-op; data is committed on Close.
func (w *writableBlob) Sync() error { return nil }
