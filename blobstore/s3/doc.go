// Package s3 stores checkpoint blobs in Amazon S3.
//
// # Usage
//
//	store, err := s3.NewFromConfig(ctx, "my-bucket", "models/tree/")
//	if err != nil { ... }
//	_, err = checkpoint.Save(ctx, store, mem)
//
// Large blobs are streamed with the multipart upload manager; whole-blob
// writes carry a CRC32C checksum. S3 has no compare-and-swap on plain keys,
// so concurrent writers should commit through DDBCommitStore, which keeps
// the CURRENT pointer in DynamoDB.
package s3
