package codec

import (
	"errors"

	amqplib "github.com/bernardjkim/amqplib"
	"google.golang.org/protobuf/proto"
)

var ErrNotProtoMessage = errors.New("payload does not implement proto.Message")

type protoCodec struct{}

var _ amqplib.Codec = (*protoCodec)(nil)

// NewProtoCodec encodes payloads with the protobuf wire format. Both
// sides of the flow must pass proto.Message values.
func NewProtoCodec() amqplib.Codec {
	return &protoCodec{}
}

func (c *protoCodec) Encode(m any) ([]byte, error) {
	pm, ok := m.(proto.Message)
	if !ok {
		return nil, ErrNotProtoMessage
	}
	return proto.Marshal(pm)
}

func (c *protoCodec) Decode(m any, bs []byte) error {
	pm, ok := m.(proto.Message)
	if !ok {
		return ErrNotProtoMessage
	}
	return proto.Unmarshal(bs, pm)
}

func (c *protoCodec) ContentType() string {
	return "application/x-protobuf"
}
