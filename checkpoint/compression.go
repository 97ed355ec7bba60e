package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/hupe1980/treemem/internal/conv"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block codec for tensor data.
type Compression uint8

const (
	// CompressionNone stores raw little-endian floats.
	CompressionNone Compression = iota
	// CompressionLZ4 favours speed.
	CompressionLZ4
	// CompressionZstd favours ratio.
	CompressionZstd
)

// String implements fmt.Stringer.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Compression) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Compression) UnmarshalText(text []byte) error {
	v, err := ParseCompression(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	}
	return 0, fmt.Errorf("checkpoint: unknown compression %q", s)
}

var errCorruptBlock = errors.New("checkpoint: corrupt block")

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Block layout: [raw size uint32][payload size uint32][payload]. A payload
// size of 0 means the raw bytes follow uncompressed.
const blockHeaderSize = 8

func compressBlock(data []byte, c Compression) ([]byte, error) {
	var payload []byte
	switch c {
	case CompressionNone:
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		payload = buf[:n]
	case CompressionZstd:
		enc := getZstdEncoder()
		payload = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("checkpoint: unknown compression %d", c)
	}

	rawSize, err := conv.IntToUint32(len(data))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: block too large: %w", err)
	}

	// Incompressible (ratio above 0.9) blocks are stored raw.
	if len(payload) == 0 || float64(len(payload)) > float64(len(data))*0.9 {
		out := make([]byte, blockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], rawSize)
		copy(out[blockHeaderSize:], data)
		return out, nil
	}

	out := make([]byte, blockHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:], rawSize)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(payload)))
	copy(out[blockHeaderSize:], payload)
	return out, nil
}

func decompressBlock(block []byte, c Compression) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, errCorruptBlock
	}
	rawSize, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(block[0:]))
	if err != nil {
		return nil, err
	}
	payloadSize, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(block[4:]))
	if err != nil {
		return nil, err
	}
	body := block[blockHeaderSize:]

	if payloadSize == 0 {
		if len(body) < rawSize {
			return nil, errCorruptBlock
		}
		return body[:rawSize], nil
	}
	if len(body) < payloadSize {
		return nil, errCorruptBlock
	}
	body = body[:payloadSize]

	out := make([]byte, rawSize)
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, err
		}
		if n != rawSize {
			return nil, errCorruptBlock
		}
		return out, nil
	case CompressionZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(body, out[:0])
		if err != nil {
			return nil, err
		}
		if len(decoded) != rawSize {
			return nil, errCorruptBlock
		}
		return decoded, nil
	}
	return nil, fmt.Errorf("checkpoint: compressed block with compression %s", c)
}
