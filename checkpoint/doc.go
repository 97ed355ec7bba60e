// Package checkpoint persists the parameters of a memory module in a
// blobstore.BlobStore.
//
// A checkpoint is three blobs below ckpt/<id>/: tensors.bin holds every
// parameter as a compressed little-endian block, state.bin holds module
// state such as estimator loss statistics, and manifest.json lists names,
// shapes, offsets and checksums. Save writes the blobs first and then
// repoints CURRENT, so readers see either the old checkpoint or the new one:
//
//	store := blobstore.NewLocalStore("/var/lib/treemem")
//	if _, err := checkpoint.Save(ctx, store, mem, checkpoint.WithCompression(checkpoint.CompressionLZ4)); err != nil {
//	    return err
//	}
//	if _, err := checkpoint.Load(ctx, store, mem); err != nil {
//	    return err
//	}
//
// On S3 wrap the store in s3.DDBCommitStore so that concurrent savers
// cannot overwrite each other's CURRENT.
package checkpoint
