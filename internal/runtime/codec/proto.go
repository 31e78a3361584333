package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// NameProto is the registry name of the protobuf codec.
const NameProto = "proto"

// IDProto is the wire id of the protobuf codec.
const IDProto byte = 3

func init() {
	Register(&protoCodec{
		enc: proto.MarshalOptions{Deterministic: true},
	})
}

// protoCodec encodes payloads that implement proto.Message. Bound message
// prototypes must be generated protobuf types when this codec is selected.
type protoCodec struct {
	enc proto.MarshalOptions
}

func (protoCodec) Name() string        { return NameProto }
func (protoCodec) ID() byte            { return IDProto }
func (protoCodec) ContentType() string { return "application/x-protobuf" }

func (p *protoCodec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("quicflow: proto codec needs a proto.Message, got %T", v)
	}
	return p.enc.Marshal(msg)
}

func (p *protoCodec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("quicflow: proto codec needs a proto.Message, got %T", v)
	}
	return proto.Unmarshal(data, msg)
}
