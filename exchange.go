package amqplib

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange is a declared exchange. It owns its channel, a
// direct-reply-to consumer used for RPC, and the publish and bind entry
// points towards the broker.
type Exchange struct {
	node
	kind    string
	options ExchangeOptions

	repliesMu sync.Mutex
	replies   map[string]chan *Message
}

func newExchange(c *Connection, name, kind string, options *ExchangeOptions) *Exchange {
	if kind == "" {
		kind = "direct"
	}
	ex := &Exchange{
		kind:    kind,
		replies: make(map[string]chan *Message),
	}
	ex.node = node{name: name, conn: c, initialized: newLatch()}
	if options != nil {
		ex.options = *options
	}
	return ex
}

func (e *Exchange) isQueue() bool { return false }

// Kind returns the exchange type it was declared with.
func (e *Exchange) Kind() string { return e.kind }

// initialize chains a fresh assertion onto the current connection
// readiness.
func (e *Exchange) initialize() {
	e.conn.mu.Lock()
	ready := e.initialized
	connReady := e.conn.initialized
	e.conn.mu.Unlock()
	if ready == nil {
		return
	}
	go e.assert(connReady, ready)
}

func (e *Exchange) assert(connReady, ready *Latch) {
	if connReady == nil {
		ready.reject(ErrConnectionFailed)
		return
	}
	if err := connReady.Await(); err != nil {
		ready.reject(err)
		return
	}
	ch, err := e.conn.newChannel()
	if err != nil {
		ready.reject(fmt.Errorf("exchange %q: %w", e.name, err))
		return
	}

	// The reply consumer must be up before any publish carries this
	// channel's replyTo; noAck is mandatory on the pseudo queue.
	deliveries, err := ch.Consume(replyToQueue, e.conn.consumerTag(), true, false, false, false, nil)
	if err != nil {
		ch.Close()
		e.failAssertion(ready, err)
		return
	}
	go e.dispatchReplies(deliveries)

	if e.options.NoCreate {
		err = ch.ExchangeDeclarePassive(e.name, e.kind, e.options.Durable, e.options.AutoDelete, e.options.Internal, false, e.options.declarationArgs())
	} else {
		err = ch.ExchangeDeclare(e.name, e.kind, e.options.Durable, e.options.AutoDelete, e.options.Internal, false, e.options.declarationArgs())
	}
	if err != nil {
		ch.Close()
		e.failAssertion(ready, err)
		return
	}

	e.conn.mu.Lock()
	e.channel = ch
	e.conn.mu.Unlock()
	e.conn.logger.Debugf("exchange %s(%s) asserted", e.name, e.kind)
	ready.resolve()
}

// failAssertion drops the exchange from the registry and rejects the
// incarnation; the connection itself stays up.
func (e *Exchange) failAssertion(ready *Latch, cause error) {
	e.conn.mu.Lock()
	if e.conn.exchanges[e.name] == e {
		delete(e.conn.exchanges, e.name)
	}
	e.conn.mu.Unlock()
	ready.reject(fmt.Errorf("%w: exchange %q: %s", ErrAssertionFailed, e.name, cause))
}

// dispatchReplies routes every arriving direct-reply-to delivery to the
// RPC waiter registered under its correlation id.
func (e *Exchange) dispatchReplies(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		e.repliesMu.Lock()
		waiter, ok := e.replies[d.CorrelationId]
		if ok {
			delete(e.replies, d.CorrelationId)
		}
		e.repliesMu.Unlock()
		if !ok {
			e.conn.logger.Debugf("dropping reply with unknown correlation id %s", d.CorrelationId)
			continue
		}
		d := d
		waiter <- newDeliveredMessage(&d, nil)
	}
}

// Send publishes a message through this exchange.
func (e *Exchange) Send(msg *Message, routingKey string) error {
	return msg.SendTo(e, routingKey)
}

// RPC publishes a request through this exchange and blocks until the
// correlated response arrives on the direct-reply-to consumer, or the
// context ends. Overlapping calls are safe: responses are matched by
// correlation id, not by arrival order.
func (e *Exchange) RPC(ctx context.Context, request any, routingKey string) (*Message, error) {
	msg, err := e.conn.newOutgoingMessage(request)
	if err != nil {
		return nil, err
	}
	correlationID := uuid.NewString()
	msg.Properties.CorrelationId = correlationID
	msg.Properties.ReplyTo = replyToQueue

	waiter := make(chan *Message, 1)
	e.repliesMu.Lock()
	e.replies[correlationID] = waiter
	e.repliesMu.Unlock()
	defer func() {
		e.repliesMu.Lock()
		delete(e.replies, correlationID)
		e.repliesMu.Unlock()
	}()

	if err := msg.SendTo(e, routingKey); err != nil {
		return nil, err
	}
	select {
	case reply := <-waiter:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Delete removes the exchange broker-side along with every binding
// touching it, and drops it from the registry. Idempotent.
func (e *Exchange) Delete() error {
	return e.teardown(true)
}

// Close drops the exchange from the registry and releases its channel
// without deleting it broker-side. Idempotent.
func (e *Exchange) Close() error {
	return e.teardown(false)
}

func (e *Exchange) teardown(remove bool) error {
	latch, owner := e.terminalLatch(remove)
	if !owner {
		return latch.Await()
	}
	go e.shutdown(latch, remove)
	return latch.Await()
}

func (e *Exchange) shutdown(done *Latch, remove bool) {
	e.Ready()

	var firstErr error
	if err := removeBindingsContaining(e); err != nil {
		firstErr = err
	}

	ch := e.channelRef()
	if ch != nil {
		if remove {
			if err := ch.ExchangeDelete(e.name, false, false); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		ch.Close()
	}

	e.conn.mu.Lock()
	if e.conn.exchanges[e.name] == e {
		delete(e.conn.exchanges, e.name)
	}
	e.invalidateLocked()
	e.conn.mu.Unlock()

	if firstErr != nil {
		done.reject(firstErr)
		return
	}
	e.conn.logger.Debugf("exchange %s removed", e.name)
	done.resolve()
}

// Bind declares a routing relationship from the source exchange into
// this exchange.
func (e *Exchange) Bind(source Node, pattern string, args amqp.Table) error {
	return bindNodes(e, source, pattern, args)
}

// Unbind removes a previously declared binding from the source exchange
// into this exchange.
func (e *Exchange) Unbind(source Node, pattern string, args amqp.Table) error {
	return unbindNodes(e, source, pattern)
}
