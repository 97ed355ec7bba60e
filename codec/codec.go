// Package codec encodes checkpoint manifests and module state.
//
// Manifests record the name of the codec that wrote them; Lookup resolves
// that name back to a registered Codec.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknown is returned by Lookup for names nobody registered.
var ErrUnknown = errors.New("codec: unknown codec")

// Codec encodes and decodes values. Implementations must be safe for
// concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

var (
	mu       sync.RWMutex
	registry = map[string]Codec{}
)

func init() {
	Register(JSON{})
	Register(GoJSON{})
}

// Register makes c available to Lookup. It panics if the name is taken.
func Register(c Codec) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[c.Name()]; dup {
		panic(fmt.Sprintf("codec: Register called twice for %q", c.Name()))
	}
	registry[c.Name()] = c
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknown, name)
	}
	return c, nil
}

// Names returns the registered codec names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decode unmarshals data into a new T. A nil codec means Default.
func Decode[T any](c Codec, data []byte) (T, error) {
	var v T
	if c == nil {
		c = Default
	}
	if err := c.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("codec %s: %w", c.Name(), err)
	}
	return v, nil
}

// MustMarshal panics on error. Tests only.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s: %w", c.Name(), err))
	}
	return b
}
