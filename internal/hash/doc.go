// Package hash computes the CRC32-Castagnoli checksums used for checkpoint
// tensors and S3 upload integrity. Go's crc32 package uses SSE4.2 or the ARM
// CRC extension when available.
package hash
