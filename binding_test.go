package amqplib

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testConnection() *Connection {
	return &Connection{
		logger:    testLogger,
		exchanges: make(map[string]*Exchange),
		queues:    make(map[string]*Queue),
		bindings:  make(map[string]*Binding),
	}
}

func TestBindingID(t *testing.T) {
	c := testConnection()
	ex := newExchange(c, "ex", "topic", nil)
	other := newExchange(c, "other", "topic", nil)
	q := newQueue(c, "q", nil)

	require.Equal(t, "[ex]toQueue[q]a.*", BindingID(q, ex, "a.*"))
	require.Equal(t, "[ex]toExchange[other]a.*", BindingID(other, ex, "a.*"))

	t.Run("injective", func(t *testing.T) {
		sources := []*Exchange{ex, other}
		destinations := []Node{q, other, newQueue(c, "other", nil)}
		patterns := []string{"", "a.*", "a.b"}

		seen := map[string]struct{}{}
		for _, src := range sources {
			for _, dst := range destinations {
				for _, p := range patterns {
					id := BindingID(dst, src, p)
					_, dup := seen[id]
					require.False(t, dup, "duplicate id %s", id)
					seen[id] = struct{}{}
				}
			}
		}
	})
}

func TestValidateTopology(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		err := validateTopology(Topology{
			Exchanges: []ExchangeDeclaration{{Name: "ex", Kind: "topic"}},
			Queues:    []QueueDeclaration{{Name: "q"}},
			Bindings:  []BindingDeclaration{{Source: "ex", Queue: "q", Pattern: "a.*"}},
		})
		require.NoError(t, err)
	})

	t.Run("no destination", func(t *testing.T) {
		err := validateTopology(Topology{
			Bindings: []BindingDeclaration{{Source: "ex", Pattern: ""}},
		})
		require.ErrorIs(t, err, ErrInvalidBinding)
	})
}

func TestDeclareTopologyInvalidBinding(t *testing.T) {
	c := testConnection()
	err := c.DeclareTopology(Topology{
		Bindings: []BindingDeclaration{{Source: "ex", Pattern: ""}},
	})
	require.ErrorIs(t, err, ErrInvalidBinding)
}

func TestBindInvalidSource(t *testing.T) {
	c := testConnection()
	q := newQueue(c, "q", nil)
	other := newQueue(c, "other", nil)

	require.ErrorIs(t, q.Bind(other, "a.*", nil), ErrInvalidBindingSource)
	require.ErrorIs(t, q.Unbind(other, "a.*", nil), ErrInvalidBindingSource)
}
