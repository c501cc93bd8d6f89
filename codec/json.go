package codec

import (
	"encoding/json"

	amqplib "github.com/bernardjkim/amqplib"
)

type jsonCodec struct{}

var _ amqplib.Codec = (*jsonCodec)(nil)

// NewJSONCodec encodes payloads with encoding/json.
func NewJSONCodec() amqplib.Codec {
	return &jsonCodec{}
}

func (c *jsonCodec) Encode(m any) ([]byte, error) {
	return json.Marshal(m)
}

func (c *jsonCodec) Decode(m any, bs []byte) error {
	return json.Unmarshal(bs, m)
}

func (c *jsonCodec) ContentType() string {
	return "application/json"
}
