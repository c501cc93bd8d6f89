package amqplib

import amqp "github.com/rabbitmq/amqp091-go"

// NodeOptions are the declaration options shared by exchanges and queues.
type NodeOptions struct {
	Durable    bool       `json:"durable"`     // Whether the object survives broker restarts.
	AutoDelete bool       `json:"auto_delete"` // Whether the broker drops the object once unused.
	Args       amqp.Table `json:"args"`        // Additional declaration arguments.
	NoCreate   bool       `json:"no_create"`   // Passively check for existence instead of declaring.
}

// ExchangeOptions are the declaration options specific to exchanges.
type ExchangeOptions struct {
	NodeOptions
	Internal          bool   `json:"internal"`           // Whether the exchange accepts publishes only from other exchanges.
	AlternateExchange string `json:"alternate_exchange"` // Exchange receiving unroutable messages.
}

// QueueOptions are the declaration options specific to queues.
type QueueOptions struct {
	NodeOptions
	Exclusive          bool   `json:"exclusive"`            // Whether the queue is restricted to the declaring connection.
	MessageTTL         int    `json:"message_ttl"`          // Per-message expiry in milliseconds. 0 leaves it unset.
	Expires            int    `json:"expires"`              // Queue expiry in milliseconds when unused. 0 leaves it unset.
	DeadLetterExchange string `json:"dead_letter_exchange"` // Exchange receiving dead-lettered messages.
	MaxLength          int    `json:"max_length"`           // Maximum number of ready messages. 0 leaves it unset.
	Prefetch           int    `json:"prefetch"`             // Per-consumer prefetch applied to the queue's channel.
}

// ConsumeOptions control a queue's consumer subscription.
type ConsumeOptions struct {
	NoAck     bool       `json:"no_ack"`    // Whether the broker considers deliveries acked on send.
	Exclusive bool       `json:"exclusive"` // Whether the consumer is the only one allowed on the queue.
	NoLocal   bool       `json:"no_local"`  // Not supported by RabbitMQ, passed through regardless.
	Args      amqp.Table `json:"args"`      // Additional consume arguments.
}

// ExchangeDeclaration names an exchange inside a Topology.
type ExchangeDeclaration struct {
	Name    string           `json:"name"` // Name of the exchange.
	Kind    string           `json:"kind"` // Type of the exchange (direct, topic, headers, fanout).
	Options *ExchangeOptions `json:"options,omitempty"`
}

// QueueDeclaration names a queue inside a Topology.
type QueueDeclaration struct {
	Name    string        `json:"name"` // Name of the queue.
	Options *QueueOptions `json:"options,omitempty"`
}

// BindingDeclaration routes a source exchange to a queue or an exchange
// inside a Topology. At least one of Queue and Exchange must be set;
// when both are, the binding targets Queue and Exchange is ignored.
type BindingDeclaration struct {
	Source   string     `json:"source"`             // Source exchange name.
	Queue    string     `json:"queue,omitempty"`    // Destination queue name.
	Exchange string     `json:"exchange,omitempty"` // Destination exchange name.
	Pattern  string     `json:"pattern"`            // Routing pattern.
	Args     amqp.Table `json:"args,omitempty"`     // Additional binding arguments.
}

// Topology is the declarative form of a full set of exchanges, queues
// and bindings, accepted by Connection.DeclareTopology.
type Topology struct {
	Exchanges []ExchangeDeclaration `json:"exchanges,omitempty"`
	Queues    []QueueDeclaration    `json:"queues,omitempty"`
	Bindings  []BindingDeclaration  `json:"bindings,omitempty"`
}

// declarationArgs folds the recognized exchange options into the
// broker argument table.
func (o *ExchangeOptions) declarationArgs() amqp.Table {
	args := amqp.Table{}
	for k, v := range o.Args {
		args[k] = v
	}
	if o.AlternateExchange != "" {
		args["alternate-exchange"] = o.AlternateExchange
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// declarationArgs folds the recognized queue options into the broker
// argument table.
func (o *QueueOptions) declarationArgs() amqp.Table {
	args := amqp.Table{}
	for k, v := range o.Args {
		args[k] = v
	}
	if o.MessageTTL > 0 {
		args["x-message-ttl"] = int32(o.MessageTTL)
	}
	if o.Expires > 0 {
		args["x-expires"] = int32(o.Expires)
	}
	if o.DeadLetterExchange != "" {
		args["x-dead-letter-exchange"] = o.DeadLetterExchange
	}
	if o.MaxLength > 0 {
		args["x-max-length"] = int32(o.MaxLength)
	}
	if len(args) == 0 {
		return nil
	}
	return args
}
