// Package blobstore stores named immutable blobs for checkpoints.
//
// # Built-in Implementations
//
//   - LocalStore: local file system, reads through read-only mmap
//   - MemoryStore: in-process map, for tests and ephemeral checkpoints
//   - s3.Store, s3.DDBCommitStore: Amazon S3, optionally with DynamoDB commits
//   - minio.Store: MinIO and other S3-compatible services
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Put must be atomic: a concurrent Open sees either the old blob or the new
// one, never a prefix.
package blobstore
