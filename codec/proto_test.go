package codec_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/bernardjkim/amqplib/codec"
)

func TestProto(t *testing.T) {
	c := codec.NewProtoCodec()
	require.NotNil(t, c)

	t.Run("success", func(t *testing.T) {
		bs, err := c.Encode(wrapperspb.String("Hello Gopher!"))
		require.NoError(t, err)
		require.NotEmpty(t, bs)

		var rc wrapperspb.StringValue
		err = c.Decode(&rc, bs)
		require.NoError(t, err)
		require.Equal(t, "Hello Gopher!", rc.GetValue())

		require.Equal(t, "application/x-protobuf", c.ContentType())
	})

	t.Run("failure", func(t *testing.T) {
		_, err := c.Encode("not a proto message")
		require.ErrorIs(t, err, codec.ErrNotProtoMessage)

		var rc string
		err = c.Decode(&rc, []byte{})
		require.ErrorIs(t, err, codec.ErrNotProtoMessage)
	})
}
