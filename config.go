package amqplib

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	defaultURL               = "amqp://localhost:5672"
	defaultReconnectInterval = 1500 * time.Millisecond
	clientPrefix             = "amqplib_"

	// replyToQueue is the broker's direct-reply-to pseudo queue. Consuming
	// from it with noAck routes RPC responses back on the issuing channel.
	replyToQueue = "amq.rabbitmq.reply-to"

	// DefaultExchange is the broker's nameless default exchange. Publishing
	// to it with the queue name as routing key delivers straight to the queue.
	DefaultExchange = ""
)

// ReconnectStrategy bounds the connect retry loop.
type ReconnectStrategy struct {
	Retries  int           // Number of retries; 0 retries indefinitely.
	Interval time.Duration // Delay between two attempts.
}

type config struct {
	url               string            // Broker URL.
	name              string            // Client name, used for consumer tags and logging. By default, a random number with "amqplib_" prefix.
	amqpConfig        amqp.Config       // Dial configuration forwarded opaquely to the broker client.
	reconnectStrategy ReconnectStrategy // Connect retry policy.
	topologies        []Topology        // Topologies declared right after the first connect.
	codec             Codec             // Payload codec for RPC requests and consumer replies. Default is json.
	errorHandler      func(error)       // Function called to handle asynchronous errors.
	logger            logrus.FieldLogger
}
