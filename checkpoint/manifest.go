package checkpoint

import (
	"encoding/binary"
	"fmt"
	"math"
	"path"
	"time"
)

// FormatVersion is written into every manifest.
const FormatVersion = 1

const (
	rootDir      = "ckpt"
	tensorsName  = "tensors.bin"
	stateName    = "state.bin"
	manifestName = "manifest.json"
)

// Manifest describes one checkpoint.
type Manifest struct {
	ID          string        `json:"id"`
	Format      int           `json:"format"`
	Created     time.Time     `json:"created"`
	Codec       string        `json:"codec"`
	Compression Compression   `json:"compression"`
	Tensors     []TensorEntry `json:"tensors"`
	// State names the module state blob, empty if the module has none.
	State string `json:"state,omitempty"`
}

// TensorEntry locates one parameter inside the tensors blob.
type TensorEntry struct {
	Name   string `json:"name"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
	// CRC32C of the raw little-endian values.
	Checksum uint32 `json:"crc32c"`
}

// Dir returns the directory of the checkpoint's blobs.
func (m *Manifest) Dir() string { return Dir(m.ID) }

// Path returns the manifest blob name.
func (m *Manifest) Path() string { return path.Join(m.Dir(), manifestName) }

// TensorsPath returns the tensors blob name.
func (m *Manifest) TensorsPath() string { return path.Join(m.Dir(), tensorsName) }

// Size returns the encoded size of the tensors blob.
func (m *Manifest) Size() int64 {
	var n int64
	for _, e := range m.Tensors {
		n += e.Length
	}
	return n
}

// Dir returns the blob directory for checkpoint id.
func Dir(id string) string { return path.Join(rootDir, id) }

func encodeFloats(data []float32) []byte {
	out := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func decodeFloats(raw []byte, n int) ([]float32, error) {
	if len(raw) != 4*n {
		return nil, fmt.Errorf("%w: %d bytes for %d values", errCorruptBlock, len(raw), n)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out, nil
}
