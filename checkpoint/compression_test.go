package checkpoint

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressBlockRoundTrip(t *testing.T) {
	compressible := make([]byte, 4096)
	for i := range compressible {
		compressible[i] = byte(i % 7)
	}
	random := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(random)

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		for name, data := range map[string][]byte{"compressible": compressible, "random": random, "empty": {}} {
			t.Run(c.String()+"/"+name, func(t *testing.T) {
				block, err := compressBlock(data, c)
				require.NoError(t, err)

				got, err := decompressBlock(block, c)
				require.NoError(t, err)
				assert.Equal(t, len(data), len(got))
				assert.Equal(t, data, got[:len(data):len(data)])
			})
		}
	}
}

func TestCompressBlockShrinks(t *testing.T) {
	data := make([]byte, 1<<16)
	for _, c := range []Compression{CompressionLZ4, CompressionZstd} {
		block, err := compressBlock(data, c)
		require.NoError(t, err)
		assert.Less(t, len(block), len(data)/10, c.String())
	}

	block, err := compressBlock(data, CompressionNone)
	require.NoError(t, err)
	assert.Len(t, block, blockHeaderSize+len(data))
}

func TestDecompressBlockCorrupt(t *testing.T) {
	_, err := decompressBlock([]byte{1, 2, 3}, CompressionZstd)
	assert.ErrorIs(t, err, errCorruptBlock)

	block, err := compressBlock(make([]byte, 1024), CompressionLZ4)
	require.NoError(t, err)
	_, err = decompressBlock(block[:len(block)-1], CompressionLZ4)
	assert.ErrorIs(t, err, errCorruptBlock)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	_, err := ParseCompression("snappy")
	assert.Error(t, err)
	assert.Equal(t, "compression(9)", Compression(9).String())

	var c Compression
	require.NoError(t, c.UnmarshalText([]byte("lz4")))
	assert.Equal(t, CompressionLZ4, c)
}
