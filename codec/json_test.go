package codec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bernardjkim/amqplib/codec"
)

func TestJSON(t *testing.T) {
	c := codec.NewJSONCodec()
	require.NotNil(t, c)

	t.Run("success", func(t *testing.T) {
		type testCase struct {
			Age  int32
			Name string `json:"name"`
		}
		tc := testCase{Age: 12, Name: "World"}
		bs, err := c.Encode(tc)
		require.NoError(t, err)
		require.NotEmpty(t, bs)

		var rc testCase
		err = c.Decode(&rc, bs)
		require.NoError(t, err)
		require.Equal(t, tc, rc)

		require.Equal(t, "application/json", c.ContentType())
	})

	t.Run("failure", func(t *testing.T) {
		type testCase struct {
			C chan struct{}
		}
		_, err := c.Encode(testCase{})
		require.Error(t, err)

		var rc testCase
		err = c.Decode(&rc, []byte("{"))
		require.Error(t, err)
	})
}
