package amqplib

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Binding is a directed routing relationship from a source exchange to
// a destination exchange or queue, parameterized by a pattern and an
// argument table.
type Binding struct {
	conn        *Connection
	source      *Exchange
	destination Node
	pattern     string
	args        amqp.Table

	initialized *Latch
	deleting    *Latch
}

// BindingID derives the registry identity of a binding. Two bindings
// with the same id overwrite each other.
func BindingID(destination, source Node, pattern string) string {
	kind := "Exchange"
	if destination.isQueue() {
		kind = "Queue"
	}
	return "[" + source.Name() + "]to" + kind + "[" + destination.Name() + "]" + pattern
}

// newBinding registers the binding under its derived id and starts
// establishing it. The source has already been checked to be an
// exchange.
func newBinding(destination Node, source *Exchange, pattern string, args amqp.Table) (*Binding, error) {
	if source == nil {
		return nil, ErrInvalidBindingSource
	}
	conn := destination.connection()
	b := &Binding{
		conn:        conn,
		source:      source,
		destination: destination,
		pattern:     pattern,
		args:        args,
		initialized: newLatch(),
	}
	conn.mu.Lock()
	conn.bindings[BindingID(destination, source, pattern)] = b
	conn.mu.Unlock()

	b.initialize()
	return b, nil
}

// Source returns the binding's source exchange.
func (b *Binding) Source() *Exchange { return b.source }

// Destination returns the binding's destination node.
func (b *Binding) Destination() Node { return b.destination }

// Pattern returns the binding's routing pattern.
func (b *Binding) Pattern() string { return b.pattern }

func (b *Binding) readyLatch() *Latch {
	b.conn.mu.Lock()
	defer b.conn.mu.Unlock()
	return b.initialized
}

// Ready blocks until the binding's current incarnation is established.
func (b *Binding) Ready() error {
	l := b.readyLatch()
	if l == nil {
		return ErrNodeClosed
	}
	return l.Await()
}

func (b *Binding) resetLocked() {
	b.initialized = newLatch()
}

// initialize establishes the binding once the destination's current
// incarnation is ready, on the destination's channel.
func (b *Binding) initialize() {
	b.conn.mu.Lock()
	ready := b.initialized
	b.conn.mu.Unlock()
	if ready == nil {
		return
	}
	go b.establish(ready)
}

func (b *Binding) establish(ready *Latch) {
	if err := b.destination.Ready(); err != nil {
		b.failAssertion(ready, err)
		return
	}
	ch := b.destination.channelRef()
	if ch == nil {
		b.failAssertion(ready, ErrNodeClosed)
		return
	}

	var err error
	if b.destination.isQueue() {
		err = ch.QueueBind(b.destination.Name(), b.pattern, b.source.Name(), false, b.args)
	} else {
		err = ch.ExchangeBind(b.destination.Name(), b.pattern, b.source.Name(), false, b.args)
	}
	if err != nil {
		b.failAssertion(ready, err)
		return
	}
	b.conn.logger.Debugf("binding %s--[%s]-->%s established", b.source.Name(), b.pattern, b.destination.Name())
	ready.resolve()
}

// failAssertion drops the binding from the registry and rejects its
// incarnation.
func (b *Binding) failAssertion(ready *Latch, cause error) {
	b.deregister()
	ready.reject(fmt.Errorf("%w: binding %s--[%s]-->%s: %s", ErrAssertionFailed, b.source.Name(), b.pattern, b.destination.Name(), cause))
}

func (b *Binding) deregister() {
	id := BindingID(b.destination, b.source, b.pattern)
	b.conn.mu.Lock()
	if b.conn.bindings[id] == b {
		delete(b.conn.bindings, id)
	}
	b.conn.mu.Unlock()
}

// Delete unbinds broker-side and removes the binding from the
// registry. Idempotent.
func (b *Binding) Delete() error {
	b.conn.mu.Lock()
	if b.deleting != nil {
		latch := b.deleting
		b.conn.mu.Unlock()
		return latch.Await()
	}
	latch := newLatch()
	b.deleting = latch
	b.conn.mu.Unlock()

	go b.remove(latch)
	return latch.Await()
}

func (b *Binding) remove(done *Latch) {
	if err := b.Ready(); err != nil {
		// Assertion never went through; nothing to unbind broker-side.
		b.deregister()
		done.resolve()
		return
	}

	var err error
	ch := b.destination.channelRef()
	if ch != nil {
		if b.destination.isQueue() {
			err = ch.QueueUnbind(b.destination.Name(), b.pattern, b.source.Name(), b.args)
		} else {
			err = ch.ExchangeUnbind(b.destination.Name(), b.pattern, b.source.Name(), false, b.args)
		}
	}
	b.deregister()
	if err != nil {
		done.reject(err)
		return
	}
	done.resolve()
}

// bindNodes constructs or reuses the binding from source into
// destination and blocks until it is established.
func bindNodes(destination, source Node, pattern string, args amqp.Table) error {
	src, ok := source.(*Exchange)
	if !ok || src == nil {
		return ErrInvalidBindingSource
	}
	conn := destination.connection()
	conn.mu.Lock()
	if b, exists := conn.bindings[BindingID(destination, source, pattern)]; exists {
		conn.mu.Unlock()
		return b.Ready()
	}
	conn.mu.Unlock()

	b, err := newBinding(destination, src, pattern, args)
	if err != nil {
		return err
	}
	return b.Ready()
}

// unbindNodes deletes the registered binding from source into
// destination, failing when no such binding exists.
func unbindNodes(destination, source Node, pattern string) error {
	src, ok := source.(*Exchange)
	if !ok || src == nil {
		return ErrInvalidBindingSource
	}
	conn := destination.connection()
	conn.mu.Lock()
	b, exists := conn.bindings[BindingID(destination, source, pattern)]
	conn.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrNoSuchBinding, BindingID(destination, source, pattern))
	}
	return b.Delete()
}

// removeBindingsContaining deletes every registered binding whose
// source or destination is the given node. Exchange and Queue teardown
// rely on it to keep the registry consistent.
func removeBindingsContaining(n Node) error {
	conn := n.connection()
	conn.mu.Lock()
	matches := make([]*Binding, 0)
	for _, b := range conn.bindings {
		if b.destination == n || Node(b.source) == n {
			matches = append(matches, b)
		}
	}
	conn.mu.Unlock()

	var firstErr error
	for _, b := range matches {
		if err := b.Delete(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
