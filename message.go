package amqplib

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"google.golang.org/protobuf/proto"
)

const (
	contentTypeJSON  = "application/json"
	contentTypeProto = "application/x-protobuf"
)

// Message is the envelope carried through exchanges and queues. For
// outgoing messages Properties (including the payload in Body) can be
// set freely before sending; for delivered messages the envelope also
// bridges ack/nack back to the broker.
type Message struct {
	Properties amqp.Publishing

	channel  *amqp.Channel
	delivery *amqp.Delivery
}

// NewMessage builds an outgoing message. See SetContent for the
// accepted payload shapes.
func NewMessage(content any) (*Message, error) {
	m := &Message{}
	if content == nil {
		return m, nil
	}
	if err := m.SetContent(content); err != nil {
		return nil, err
	}
	return m, nil
}

// newDeliveredMessage wraps a broker delivery. ackCh is nil when the
// delivery cannot be acknowledged (noAck consumers, RPC replies).
func newDeliveredMessage(d *amqp.Delivery, ackCh *amqp.Channel) *Message {
	return &Message{
		Properties: amqp.Publishing{
			Headers:         d.Headers,
			ContentType:     d.ContentType,
			ContentEncoding: d.ContentEncoding,
			DeliveryMode:    d.DeliveryMode,
			Priority:        d.Priority,
			CorrelationId:   d.CorrelationId,
			ReplyTo:         d.ReplyTo,
			Expiration:      d.Expiration,
			MessageId:       d.MessageId,
			Timestamp:       d.Timestamp,
			Type:            d.Type,
			UserId:          d.UserId,
			AppId:           d.AppId,
			Body:            d.Body,
		},
		channel:  ackCh,
		delivery: d,
	}
}

// SetContent stores the payload. Strings are encoded as UTF-8 bytes,
// byte slices are stored as-is, proto messages are marshaled with the
// protobuf wire format, and everything else is JSON-encoded with the
// content type set accordingly.
func (m *Message) SetContent(content any) error {
	switch v := content.(type) {
	case nil:
		m.Properties.Body = nil
	case []byte:
		m.Properties.Body = v
	case string:
		m.Properties.Body = []byte(v)
	case proto.Message:
		bs, err := proto.Marshal(v)
		if err != nil {
			return err
		}
		m.Properties.Body = bs
		m.Properties.ContentType = contentTypeProto
	default:
		bs, err := json.Marshal(v)
		if err != nil {
			return err
		}
		m.Properties.Body = bs
		m.Properties.ContentType = contentTypeJSON
	}
	return nil
}

// GetContent decodes the payload: JSON content types are parsed into
// the generic JSON shapes, everything else comes back as a string.
func (m *Message) GetContent() (any, error) {
	if m.Properties.ContentType == contentTypeJSON {
		var v any
		if err := json.Unmarshal(m.Properties.Body, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return string(m.Properties.Body), nil
}

// GetContentProto unmarshals a protobuf payload into the given message.
func (m *Message) GetContentProto(v proto.Message) error {
	return proto.Unmarshal(m.Properties.Body, v)
}

// Body returns the raw payload bytes.
func (m *Message) Body() []byte {
	return m.Properties.Body
}

// Delivery exposes the raw broker delivery of a received message, nil
// for outgoing ones.
func (m *Message) Delivery() *amqp.Delivery {
	return m.delivery
}

func (m *Message) publishing() amqp.Publishing {
	return m.Properties
}

// SendTo publishes the message to the destination once its current
// incarnation is ready. Queues are addressed through the default
// exchange with the queue name as routing key. A synchronous publish
// failure triggers a full topology rebuild and exactly one
// retransmission against the fresh channel.
func (m *Message) SendTo(destination Node, routingKey string) error {
	retryable, err := m.trySend(destination, routingKey)
	if err == nil {
		return nil
	}
	if !retryable {
		return err
	}

	conn := destination.connection()
	conn.logger.Warnf("publish to %s failed, rebuilding topology: %s", destination.Name(), err)
	if rerr := conn.rebuildAll(fmt.Errorf("%w: %s", ErrPublishFailed, err)); rerr != nil {
		return rerr
	}
	if _, err = m.trySend(destination, routingKey); err != nil {
		return fmt.Errorf("%w: %s", ErrPublishFailed, err)
	}
	return nil
}

// trySend performs one publish attempt. Readiness failures are not
// retryable; channel failures are, through a rebuild.
func (m *Message) trySend(destination Node, routingKey string) (bool, error) {
	if err := destination.Ready(); err != nil {
		return false, err
	}
	ch := destination.channelRef()
	if ch == nil {
		return true, ErrNodeClosed
	}

	exchange := destination.Name()
	key := routingKey
	if destination.isQueue() {
		exchange = DefaultExchange
		key = destination.Name()
	}
	if err := ch.PublishWithContext(context.Background(), exchange, key, false, false, m.publishing()); err != nil {
		return true, err
	}
	return false, nil
}

// Ack acknowledges a received message, optionally everything up to and
// including it. On outgoing or unackable messages it is a no-op.
func (m *Message) Ack(allUpTo bool) error {
	if m.delivery == nil || m.channel == nil {
		return nil
	}
	return m.delivery.Ack(allUpTo)
}

// Nack rejects a received message, optionally everything up to and
// including it, optionally requeueing. On outgoing or unackable
// messages it is a no-op.
func (m *Message) Nack(allUpTo, requeue bool) error {
	if m.delivery == nil || m.channel == nil {
		return nil
	}
	return m.delivery.Nack(allUpTo, requeue)
}
