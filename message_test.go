package amqplib

import (
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/bernardjkim/amqplib/test/mocks"
)

func TestMessageContent(t *testing.T) {
	t.Run("string", func(t *testing.T) {
		m, err := NewMessage("Hello Gopher!")
		require.NoError(t, err)
		require.Equal(t, []byte("Hello Gopher!"), m.Body())
		require.Empty(t, m.Properties.ContentType)

		v, err := m.GetContent()
		require.NoError(t, err)
		require.Equal(t, "Hello Gopher!", v)
	})

	t.Run("bytes", func(t *testing.T) {
		bs := []byte{0x00, 0x01, 0xFF}
		m, err := NewMessage(bs)
		require.NoError(t, err)
		require.Equal(t, bs, m.Body())
		require.Empty(t, m.Properties.ContentType)
	})

	t.Run("json", func(t *testing.T) {
		payload := map[string]any{"uid": "u-1", "age": float64(12)}
		m, err := NewMessage(payload)
		require.NoError(t, err)
		require.Equal(t, contentTypeJSON, m.Properties.ContentType)

		v, err := m.GetContent()
		require.NoError(t, err)
		require.Equal(t, payload, v)
	})

	t.Run("proto", func(t *testing.T) {
		m, err := NewMessage(wrapperspb.String("Hello Gopher!"))
		require.NoError(t, err)
		require.Equal(t, contentTypeProto, m.Properties.ContentType)

		var out wrapperspb.StringValue
		require.NoError(t, m.GetContentProto(&out))
		require.Equal(t, "Hello Gopher!", out.GetValue())
	})

	t.Run("unencodable", func(t *testing.T) {
		_, err := NewMessage(make(chan struct{}))
		require.Error(t, err)
	})

	t.Run("nil", func(t *testing.T) {
		m, err := NewMessage(nil)
		require.NoError(t, err)
		require.Empty(t, m.Body())
	})
}

func TestMessageAckOnOutgoing(t *testing.T) {
	m, err := NewMessage("x")
	require.NoError(t, err)
	// acknowledgement is only meaningful on received messages
	require.NoError(t, m.Ack(false))
	require.NoError(t, m.Nack(false, true))
}

func TestNewOutgoingMessage(t *testing.T) {
	t.Run("message passthrough", func(t *testing.T) {
		c := &Connection{logger: testLogger}
		m, err := NewMessage("x")
		require.NoError(t, err)
		out, err := c.newOutgoingMessage(m)
		require.NoError(t, err)
		require.Same(t, m, out)
	})

	t.Run("codec", func(t *testing.T) {
		testCodec := mocks.NewMockCodec(gomock.NewController(t))
		testCodec.EXPECT().Encode(gomock.Any()).Return([]byte("Hello, world!"), nil)
		testCodec.EXPECT().ContentType().Return("application/text")

		c := &Connection{logger: testLogger}
		c.config.codec = testCodec
		out, err := c.newOutgoingMessage(map[string]int{"q": 1})
		require.NoError(t, err)
		require.Equal(t, []byte("Hello, world!"), out.Body())
		require.Equal(t, "application/text", out.Properties.ContentType)
	})

	t.Run("default json", func(t *testing.T) {
		c := &Connection{logger: testLogger}
		out, err := c.newOutgoingMessage(map[string]int{"q": 1})
		require.NoError(t, err)
		require.Equal(t, contentTypeJSON, out.Properties.ContentType)
		require.JSONEq(t, `{"q":1}`, string(out.Body()))
	})
}
