package codec

import (
	"io"

	"github.com/bytedance/sonic"
)

// NameJSON is the registry name of the text codec.
const NameJSON = "json"

// IDJSON is the wire id of the JSON codec.
const IDJSON byte = 2

func init() {
	Register(&jsonCodec{})
}

// jsonCodec encodes payloads as JSON via sonic in std-compatible mode, so
// output matches encoding/json byte for byte while decoding stays fast.
type jsonCodec struct{}

func (jsonCodec) Name() string        { return NameJSON }
func (jsonCodec) ID() byte            { return IDJSON }
func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return sonic.ConfigStd.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return sonic.ConfigStd.Unmarshal(data, v)
}

// Marshal returns the JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	return sonic.ConfigStd.Marshal(v)
}

// MarshalIndent returns the JSON encoding of v with the given prefix and
// indentation applied to each line.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return sonic.ConfigStd.MarshalIndent(v, prefix, indent)
}

// Unmarshal parses JSON-encoded data into v.
func Unmarshal(data []byte, v any) error {
	return sonic.ConfigStd.Unmarshal(data, v)
}

// Encode writes the JSON encoding of v to w.
func Encode(w io.Writer, v any) error {
	return sonic.ConfigStd.NewEncoder(w).Encode(v)
}

// Decode reads JSON from r into v.
func Decode(r io.Reader, v any) error {
	return sonic.ConfigStd.NewDecoder(r).Decode(v)
}
