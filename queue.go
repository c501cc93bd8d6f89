package amqplib

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConsumerFunc handles one delivery. A non-nil error is reported to the
// connection's error handler; the delivery is never nacked on the
// user's behalf. When the delivery carries a replyTo address, the
// returned value is published back as the RPC response: a *Message is
// sent as-is, any other value is wrapped first.
type ConsumerFunc func(msg *Message) (any, error)

// Queue is a declared queue. It owns its channel, its prefetch setting
// and at most one consumer subscription.
type Queue struct {
	node
	options QueueOptions

	consumer            ConsumerFunc
	consumerOptions     ConsumeOptions
	consumerTag         string
	consumerInitialized *Latch
	consumerStopping    bool
}

func newQueue(c *Connection, name string, options *QueueOptions) *Queue {
	q := &Queue{}
	q.node = node{name: name, conn: c, initialized: newLatch()}
	if options != nil {
		q.options = *options
	}
	return q
}

func (q *Queue) isQueue() bool { return true }

// initialize chains a fresh assertion onto the current connection
// readiness.
func (q *Queue) initialize() {
	q.conn.mu.Lock()
	ready := q.initialized
	connReady := q.conn.initialized
	q.conn.mu.Unlock()
	if ready == nil {
		return
	}
	go q.assert(connReady, ready)
}

func (q *Queue) assert(connReady, ready *Latch) {
	if connReady == nil {
		ready.reject(ErrConnectionFailed)
		return
	}
	if err := connReady.Await(); err != nil {
		ready.reject(err)
		return
	}
	ch, err := q.conn.newChannel()
	if err != nil {
		ready.reject(fmt.Errorf("queue %q: %w", q.name, err))
		return
	}

	if q.options.NoCreate {
		_, err = ch.QueueDeclarePassive(q.name, q.options.Durable, q.options.AutoDelete, q.options.Exclusive, false, q.options.declarationArgs())
	} else {
		_, err = ch.QueueDeclare(q.name, q.options.Durable, q.options.AutoDelete, q.options.Exclusive, false, q.options.declarationArgs())
	}
	if err != nil {
		ch.Close()
		q.failAssertion(ready, err)
		return
	}

	if q.options.Prefetch > 0 {
		if err := ch.Qos(q.options.Prefetch, 0, false); err != nil {
			ch.Close()
			q.failAssertion(ready, err)
			return
		}
	}

	q.conn.mu.Lock()
	q.channel = ch
	q.conn.mu.Unlock()
	q.conn.logger.Debugf("queue %s asserted", q.name)
	ready.resolve()
}

func (q *Queue) failAssertion(ready *Latch, cause error) {
	q.conn.mu.Lock()
	if q.conn.queues[q.name] == q {
		delete(q.conn.queues, q.name)
	}
	q.conn.mu.Unlock()
	ready.reject(fmt.Errorf("%w: queue %q: %s", ErrAssertionFailed, q.name, cause))
}

// Prefetch applies a per-consumer prefetch to the queue's channel and
// remembers it so rebuilds reapply it.
func (q *Queue) Prefetch(count int) error {
	if err := q.Ready(); err != nil {
		return err
	}
	ch := q.channelRef()
	if ch == nil {
		return ErrNodeClosed
	}
	if err := ch.Qos(count, 0, false); err != nil {
		return err
	}
	q.conn.mu.Lock()
	q.options.Prefetch = count
	q.conn.mu.Unlock()
	return nil
}

// Recover asks the broker to requeue all unacknowledged deliveries on
// this queue's channel.
func (q *Queue) Recover() error {
	if err := q.Ready(); err != nil {
		return err
	}
	ch := q.channelRef()
	if ch == nil {
		return ErrNodeClosed
	}
	return ch.Recover(true)
}

// Send publishes a message straight to this queue through the default
// exchange.
func (q *Queue) Send(msg *Message) error {
	return msg.SendTo(q, "")
}

// ActivateConsumer subscribes onMessage to this queue. A queue has at
// most one consumer: repeat calls await the existing subscription and
// ignore the new callback and options.
func (q *Queue) ActivateConsumer(onMessage ConsumerFunc, options *ConsumeOptions) error {
	q.conn.mu.Lock()
	if q.consumer != nil {
		ready := q.consumerInitialized
		q.conn.mu.Unlock()
		if ready == nil {
			return nil
		}
		return ready.Await()
	}
	q.consumer = onMessage
	if options != nil {
		q.consumerOptions = *options
	}
	ready := newLatch()
	q.consumerInitialized = ready
	q.conn.mu.Unlock()

	q.initializeConsumer()
	return ready.Await()
}

// initializeConsumer (re)subscribes the stored callback with the stored
// options once the queue's current incarnation is ready. A fresh
// consumer tag is obtained every time.
func (q *Queue) initializeConsumer() {
	q.conn.mu.Lock()
	ready := q.consumerInitialized
	onMessage := q.consumer
	options := q.consumerOptions
	q.conn.mu.Unlock()
	if ready == nil || onMessage == nil {
		return
	}
	go q.subscribe(ready, onMessage, options)
}

func (q *Queue) subscribe(ready *Latch, onMessage ConsumerFunc, options ConsumeOptions) {
	if err := q.Ready(); err != nil {
		ready.reject(err)
		return
	}
	ch := q.channelRef()
	if ch == nil {
		ready.reject(ErrNodeClosed)
		return
	}
	tag := q.conn.consumerTag()
	deliveries, err := ch.Consume(q.name, tag, options.NoAck, options.Exclusive, options.NoLocal, false, options.Args)
	if err != nil {
		ready.reject(fmt.Errorf("%w: consumer on queue %q: %s", ErrAssertionFailed, q.name, err))
		return
	}
	q.conn.mu.Lock()
	q.consumerTag = tag
	q.conn.mu.Unlock()

	go q.consumeLoop(ch, deliveries, onMessage, options)
	q.conn.logger.Infof("consumer %s stabilized for queue %s", tag, q.name)
	ready.resolve()
}

func (q *Queue) consumeLoop(ch *amqp.Channel, deliveries <-chan amqp.Delivery, onMessage ConsumerFunc, options ConsumeOptions) {
	for d := range deliveries {
		q.handleDelivery(ch, d, onMessage, options)
	}
}

func (q *Queue) handleDelivery(ch *amqp.Channel, d amqp.Delivery, onMessage ConsumerFunc, options ConsumeOptions) {
	ackCh := ch
	if options.NoAck {
		ackCh = nil
	}
	msg := newDeliveredMessage(&d, ackCh)

	result, err := onMessage(msg)
	if err != nil {
		// Ack/nack stays the user's responsibility.
		q.conn.config.errorHandler(fmt.Errorf("consumer callback on queue %q failed: %w", q.name, err))
		return
	}
	if d.ReplyTo == "" {
		return
	}

	reply, err := q.conn.newOutgoingMessage(result)
	if err != nil {
		q.conn.config.errorHandler(fmt.Errorf("encoding reply on queue %q failed: %w", q.name, err))
		return
	}
	reply.Properties.CorrelationId = d.CorrelationId
	if err := ch.PublishWithContext(context.Background(), DefaultExchange, d.ReplyTo, false, false, reply.publishing()); err != nil {
		q.conn.config.errorHandler(fmt.Errorf("publishing reply on queue %q failed: %w", q.name, err))
	}
}

// StopConsumer cancels the active subscription and clears all consumer
// state. Without an active consumer it is a no-op.
func (q *Queue) StopConsumer() error {
	q.conn.mu.Lock()
	if q.consumer == nil || q.consumerStopping {
		q.conn.mu.Unlock()
		return nil
	}
	q.consumerStopping = true
	tag := q.consumerTag
	ch := q.channel
	q.conn.mu.Unlock()

	var err error
	if ch != nil && tag != "" {
		err = ch.Cancel(tag, false)
	}

	q.conn.mu.Lock()
	q.consumer = nil
	q.consumerOptions = ConsumeOptions{}
	q.consumerTag = ""
	q.consumerInitialized = nil
	q.consumerStopping = false
	q.conn.mu.Unlock()
	return err
}

// Delete stops the consumer, removes the queue broker-side along with
// every binding touching it, and drops it from the registry.
// Idempotent.
func (q *Queue) Delete() error {
	return q.teardown(true)
}

// Close drops the queue from the registry and releases its channel
// without deleting it broker-side. Idempotent.
func (q *Queue) Close() error {
	return q.teardown(false)
}

func (q *Queue) teardown(remove bool) error {
	latch, owner := q.terminalLatch(remove)
	if !owner {
		return latch.Await()
	}
	go q.shutdown(latch, remove)
	return latch.Await()
}

func (q *Queue) shutdown(done *Latch, remove bool) {
	q.Ready()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(q.StopConsumer())
	keep(removeBindingsContaining(q))

	ch := q.channelRef()
	if ch != nil {
		if remove {
			if _, err := ch.QueueDelete(q.name, false, false, false); err != nil {
				keep(err)
			}
		}
		ch.Close()
	}

	q.conn.mu.Lock()
	if q.conn.queues[q.name] == q {
		delete(q.conn.queues, q.name)
	}
	q.invalidateLocked()
	q.conn.mu.Unlock()

	if firstErr != nil {
		done.reject(firstErr)
		return
	}
	q.conn.logger.Debugf("queue %s removed", q.name)
	done.resolve()
}

// Bind declares a routing relationship from the source exchange into
// this queue.
func (q *Queue) Bind(source Node, pattern string, args amqp.Table) error {
	return bindNodes(q, source, pattern, args)
}

// Unbind removes a previously declared binding from the source exchange
// into this queue.
func (q *Queue) Unbind(source Node, pattern string, args amqp.Table) error {
	return unbindNodes(q, source, pattern)
}
