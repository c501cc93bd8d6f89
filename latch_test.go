package amqplib

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	t.Run("resolve", func(t *testing.T) {
		l := newLatch()
		require.False(t, l.Settled())
		require.NoError(t, l.Err())

		go func() {
			time.Sleep(10 * time.Millisecond)
			l.resolve()
		}()
		require.NoError(t, l.Await())
		require.True(t, l.Settled())
		require.NoError(t, l.Err())
	})

	t.Run("reject", func(t *testing.T) {
		l := newLatch()
		cause := errors.New("any")
		l.reject(cause)
		require.ErrorIs(t, l.Await(), cause)
		require.ErrorIs(t, l.Err(), cause)
	})

	t.Run("one shot", func(t *testing.T) {
		l := newLatch()
		l.resolve()
		l.reject(errors.New("late"))
		require.NoError(t, l.Await())

		l = newLatch()
		l.reject(errors.New("first"))
		l.resolve()
		require.Error(t, l.Await())
	})

	t.Run("done channel", func(t *testing.T) {
		l := newLatch()
		select {
		case <-l.Done():
			t.Fatal("latch settled early")
		default:
		}
		l.resolve()
		select {
		case <-l.Done():
		case <-time.After(time.Second):
			t.Fatal("latch never settled")
		}
	})
}
