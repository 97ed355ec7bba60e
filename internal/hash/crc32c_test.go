package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// RFC 3720 B.4: 32 bytes of zeros.
	zeros := make([]byte, 32)
	assert.Equal(t, uint32(0x8a9136aa), CRC32C(zeros))
	assert.Equal(t, "ipE2qg==", CRC32CBase64(zeros))
	assert.Equal(t, uint32(0), CRC32C(nil))
}
