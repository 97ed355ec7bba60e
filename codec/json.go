package codec

import (
	"encoding/json"

	gojson "github.com/goccy/go-json"
)

// Default writes new manifests and state blobs.
var Default Codec = GoJSON{}

// JSON uses encoding/json. Output is byte-compatible with GoJSON, so either
// codec can read what the other wrote.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSON) Name() string                       { return "json" }

// GoJSON uses github.com/goccy/go-json.
type GoJSON struct{}

func (GoJSON) Marshal(v any) ([]byte, error)      { return gojson.Marshal(v) }
func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }
func (GoJSON) Name() string                       { return "go-json" }
