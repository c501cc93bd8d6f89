package amqplib

import amqp "github.com/rabbitmq/amqp091-go"

// Node is a declared broker object owning its own channel: an Exchange
// or a Queue. Bindings route from an Exchange to any Node, and messages
// can be sent to any Node.
type Node interface {
	// Name returns the stable identifier the node was declared under.
	Name() string

	// Ready blocks until the node's current incarnation is asserted
	// against the broker, returning the assertion error if it failed.
	Ready() error

	// Delete removes the node from the broker and the registry.
	Delete() error

	// Close detaches the node from the registry without deleting it
	// broker-side.
	Close() error

	// Bind declares a routing relationship from the source exchange to
	// this node. The source must be an Exchange.
	Bind(source Node, pattern string, args amqp.Table) error

	// Unbind removes a previously declared binding.
	Unbind(source Node, pattern string, args amqp.Table) error

	connection() *Connection
	channelRef() *amqp.Channel
	readyLatch() *Latch
	isQueue() bool
}
