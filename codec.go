package amqplib

// Codec encodes and decodes message payloads. Without a codec, plain
// values are JSON-encoded by Message.SetContent; a custom codec set via
// OptionWithCodec takes over payload handling for RPC requests and
// consumer replies.
type Codec interface {
	// Encode encodes the payload to an array of bytes.
	Encode(m any) ([]byte, error)

	// Decode retrieves the payload from an array of bytes.
	Decode(m any, bs []byte) error

	// ContentType returns the content type the codec produces.
	// Example: "application/json"
	ContentType() string
}

//go:generate mockgen -destination=./test/mocks/codec.go -package=mocks -source=codec.go
