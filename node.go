package amqplib

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// node is the shared skeleton of every declared broker object. It
// carries the identity, the exclusively owned channel of the current
// incarnation, and the lifecycle latches. All mutable fields are
// guarded by the owning connection's mutex.
type node struct {
	name string
	conn *Connection

	channel *amqp.Channel

	initialized *Latch // Replaced on every rebuild; nil after teardown.
	deleting    *Latch // Terminal; never cleared once set.
	closing     *Latch // Terminal; never cleared once set.
}

func (n *node) Name() string {
	return n.name
}

func (n *node) connection() *Connection {
	return n.conn
}

func (n *node) channelRef() *amqp.Channel {
	n.conn.mu.Lock()
	defer n.conn.mu.Unlock()
	return n.channel
}

func (n *node) readyLatch() *Latch {
	n.conn.mu.Lock()
	defer n.conn.mu.Unlock()
	return n.initialized
}

// Ready blocks until the current incarnation is asserted against the
// broker. After Delete or Close it fails immediately.
func (n *node) Ready() error {
	l := n.readyLatch()
	if l == nil {
		return ErrNodeClosed
	}
	return l.Await()
}

// resetLocked starts a fresh incarnation: a new readiness latch and no
// channel. Callers hold the connection mutex.
func (n *node) resetLocked() *Latch {
	n.initialized = newLatch()
	n.channel = nil
	return n.initialized
}

// invalidateLocked clears the readiness latch and the channel
// reference after teardown. Concurrent awaiters see the previous latch
// to completion; new work fails with ErrNodeClosed.
func (n *node) invalidateLocked() {
	n.initialized = nil
	n.channel = nil
}

// terminalLatch returns the existing latch for the requested teardown,
// or installs a fresh one. The bool reports whether the caller owns the
// teardown.
func (n *node) terminalLatch(deleting bool) (*Latch, bool) {
	n.conn.mu.Lock()
	defer n.conn.mu.Unlock()
	if deleting {
		if n.deleting != nil {
			return n.deleting, false
		}
		n.deleting = newLatch()
		return n.deleting, true
	}
	if n.closing != nil {
		return n.closing, false
	}
	n.closing = newLatch()
	return n.closing, true
}
