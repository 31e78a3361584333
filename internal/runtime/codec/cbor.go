package codec

import "github.com/fxamacker/cbor/v2"

// NameCBOR is the registry name of the binary codec.
const NameCBOR = "cbor"

// IDCBOR is the wire id of the CBOR codec.
const IDCBOR byte = 1

func init() {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("quicflow: cbor encoder init: " + err.Error())
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("quicflow: cbor decoder init: " + err.Error())
	}
	Register(&cborCodec{enc: enc, dec: dec})
}

// cborCodec encodes payloads as canonical CBOR. Canonical form keeps the
// bytes deterministic for a given value, which makes golden tests and
// payload-based dedup stable.
type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func (c *cborCodec) Name() string        { return NameCBOR }
func (c *cborCodec) ID() byte            { return IDCBOR }
func (c *cborCodec) ContentType() string { return "application/cbor" }

func (c *cborCodec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *cborCodec) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}
