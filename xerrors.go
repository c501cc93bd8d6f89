package amqplib

import "errors"

var (
	ErrConnectionFailed      = errors.New("connection attempt to the AMQP broker failed")
	ErrConnectionExhausted   = errors.New("retry budget for the AMQP connection is exhausted")
	ErrConnectionClosing     = errors.New("connection is closing")
	ErrAssertionFailed       = errors.New("broker rejected the declaration")
	ErrPublishFailed         = errors.New("publish failed")
	ErrInvalidBinding        = errors.New("binding declaration needs either a queue or an exchange destination")
	ErrInvalidBindingSource  = errors.New("binding source must be an exchange")
	ErrNoSuchBinding         = errors.New("no such binding is registered")
	ErrConsumerAlreadyActive = errors.New("queue already has an active consumer")
	ErrNodeClosed            = errors.New("node has been deleted or closed")
)
