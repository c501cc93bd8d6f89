// Package amqplib is a client-side AMQP 0-9-1 topology manager. A
// Connection tracks every exchange, queue and binding declared through
// it, and re-establishes the whole topology whenever the broker
// connection is lost and recovered.
package amqplib

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Connection supervises a single logical connection to the broker. It
// owns the topology registry and drives the connect/reconnect loop.
type Connection struct {
	mu     sync.Mutex
	logger logrus.FieldLogger
	config config

	exchanges map[string]*Exchange
	queues    map[string]*Queue
	bindings  map[string]*Binding

	conn *amqp.Connection

	rebuilding  bool
	isClosing   bool
	initialized *Latch
}

// New builds a Connection and starts connecting asynchronously. Use
// CompleteConfiguration to await readiness, or simply declare entities
// and publish: every operation queues behind the connect loop.
func New(ops ...Option) (*Connection, error) {
	cfg := new(config)
	cfg.setDefaults()
	for _, fn := range ops {
		if err := fn(cfg); err != nil {
			return nil, err
		}
	}

	c := &Connection{
		logger:    cfg.logger,
		config:    *cfg,
		exchanges: make(map[string]*Exchange),
		queues:    make(map[string]*Queue),
		bindings:  make(map[string]*Binding),
	}
	if c.config.errorHandler == nil {
		c.config.errorHandler = func(err error) {
			c.logger.Error(err)
		}
	}

	c.rebuildConnection()
	for _, t := range c.config.topologies {
		if _, err := c.registerTopology(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (cfg *config) setDefaults() {
	cfg.url = defaultURL
	cfg.name = clientPrefix + strconv.Itoa(rand.Intn(math.MaxInt))
	cfg.reconnectStrategy = ReconnectStrategy{Retries: 0, Interval: defaultReconnectInterval}
	cfg.amqpConfig = amqp.Config{Heartbeat: 10 * time.Second, Locale: "en_US"}
	{
		// using logrus as default logger
		defaultLogger := logrus.StandardLogger()
		defaultLogger.SetLevel(logrus.DebugLevel)
		cfg.logger = defaultLogger
	}
}

// Initialized returns the latch of the current connection incarnation.
func (c *Connection) Initialized() *Latch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// newChannel hands out a fresh channel on the current underlying
// connection.
func (c *Connection) newChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrConnectionFailed
	}
	return conn.Channel()
}

// consumerTag derives a unique consumer tag from the client name.
func (c *Connection) consumerTag() string {
	return c.config.name + "." + uuid.NewString()
}

// rebuildConnection starts the connect loop unless one is already in
// flight, and returns the latch tracking the attempt. Re-entrant calls
// observe the in-flight latch instead of racing a second loop.
func (c *Connection) rebuildConnection() *Latch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuildConnectionLocked()
}

func (c *Connection) rebuildConnectionLocked() *Latch {
	if c.rebuilding {
		return c.initialized
	}
	c.rebuilding = true
	latch := newLatch()
	c.initialized = latch
	go c.tryToConnect(latch, 0)
	return latch
}

// tryToConnect performs one dial attempt. A success resolves the
// attempt's latch; further retries are no-ops against the same latch.
func (c *Connection) tryToConnect(latch *Latch, retry int) {
	conn, err := amqp.DialConfig(c.config.url, c.config.amqpConfig)
	if err != nil {
		c.logger.Warnf("amqp connection attempt %d failed: %s", retry+1, err)
		c.retryConnection(latch, retry+1, err)
		return
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.rebuilding = false
	c.mu.Unlock()
	if old != nil {
		// a rebuild can be triggered while the previous connection is
		// still alive (synchronous publish failure); release it.
		_ = old.Close()
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	blocked := conn.NotifyBlocked(make(chan amqp.Blocking, 1))
	go c.watchConnection(conn, closed, blocked)

	c.logger.Debugf("%s connected to %s", c.config.name, c.config.url)
	latch.resolve()
}

// retryConnection sleeps the configured interval and dials again, until
// the retry budget runs out. Retries 0 keeps going indefinitely.
func (c *Connection) retryConnection(latch *Latch, retry int, cause error) {
	strategy := c.config.reconnectStrategy
	if strategy.Retries != 0 && retry > strategy.Retries {
		c.mu.Lock()
		c.rebuilding = false
		c.mu.Unlock()
		latch.reject(fmt.Errorf("%w after %d attempts: %s", ErrConnectionExhausted, retry, cause))
		return
	}
	time.Sleep(strategy.Interval)
	c.tryToConnect(latch, retry)
}

// watchConnection reacts to broker flow control and connection loss on
// one underlying connection. An unsolicited close is absorbed into the
// rebuild loop, never surfaced to the user.
func (c *Connection) watchConnection(conn *amqp.Connection, closed <-chan *amqp.Error, blocked <-chan amqp.Blocking) {
	for {
		select {
		case b := <-blocked:
			if b.Active {
				c.logger.Warnf("broker blocked the connection: %s", b.Reason)
			} else {
				c.logger.Info("broker unblocked the connection")
			}
		case err, ok := <-closed:
			c.mu.Lock()
			stale := c.isClosing || c.conn != conn
			c.mu.Unlock()
			if stale {
				return
			}
			var cause error
			if !ok || err == nil {
				cause = errors.New("connection closed by remote host")
			} else {
				cause = err
			}
			if rerr := c.rebuildAll(cause); rerr != nil {
				c.config.errorHandler(rerr)
			}
			return
		}
	}
}

// rebuildAll reconnects and re-asserts every registered entity and
// consumer against fresh channels. Exchanges are restarted first, then
// queues and their consumers, then bindings; the call returns once the
// whole topology has settled.
func (c *Connection) rebuildAll(cause error) error {
	c.logger.Warnf("rebuilding topology: %s", cause)

	c.mu.Lock()
	if c.isClosing {
		c.mu.Unlock()
		return ErrConnectionClosing
	}
	if c.rebuilding {
		latch := c.initialized
		c.mu.Unlock()
		latch.Await()
		return c.CompleteConfiguration()
	}
	c.rebuildConnectionLocked()

	exchanges := make([]*Exchange, 0, len(c.exchanges))
	for _, ex := range c.exchanges {
		ex.resetLocked()
		exchanges = append(exchanges, ex)
	}
	queues := make([]*Queue, 0, len(c.queues))
	consumers := make([]bool, 0, len(c.queues))
	for _, q := range c.queues {
		q.resetLocked()
		hasConsumer := q.consumer != nil
		if hasConsumer {
			q.consumerInitialized = newLatch()
			q.consumerTag = ""
		}
		queues = append(queues, q)
		consumers = append(consumers, hasConsumer)
	}
	bindings := make([]*Binding, 0, len(c.bindings))
	for _, b := range c.bindings {
		b.resetLocked()
		bindings = append(bindings, b)
	}
	c.mu.Unlock()

	for _, ex := range exchanges {
		ex.initialize()
	}
	for i, q := range queues {
		q.initialize()
		if consumers[i] {
			q.initializeConsumer()
		}
	}
	for _, b := range bindings {
		b.initialize()
	}
	return c.CompleteConfiguration()
}

// DeclareExchange registers an exchange and starts asserting it against
// the broker. If an exchange with this name is already registered it is
// returned unchanged: the first declaration wins.
func (c *Connection) DeclareExchange(name, kind string, options *ExchangeOptions) *Exchange {
	c.mu.Lock()
	if ex, ok := c.exchanges[name]; ok {
		c.mu.Unlock()
		return ex
	}
	ex := newExchange(c, name, kind, options)
	c.exchanges[name] = ex
	c.mu.Unlock()

	ex.initialize()
	return ex
}

// DeclareQueue registers a queue and starts asserting it against the
// broker, with the same first-declaration-wins semantics as
// DeclareExchange.
func (c *Connection) DeclareQueue(name string, options *QueueOptions) *Queue {
	c.mu.Lock()
	if q, ok := c.queues[name]; ok {
		c.mu.Unlock()
		return q
	}
	q := newQueue(c, name, options)
	c.queues[name] = q
	c.mu.Unlock()

	q.initialize()
	return q
}

// DeclareTopology declares all listed exchanges and queues, then binds
// each binding's source exchange to its queue or exchange destination.
// It blocks until every declared entity has asserted.
func (c *Connection) DeclareTopology(t Topology) error {
	if err := validateTopology(t); err != nil {
		return err
	}
	latches, err := c.registerTopology(t)
	if err != nil {
		return err
	}
	var firstErr error
	for _, l := range latches {
		if err := l.Await(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func validateTopology(t Topology) error {
	for _, b := range t.Bindings {
		if b.Queue == "" && b.Exchange == "" {
			return fmt.Errorf("%w: binding from %q with pattern %q", ErrInvalidBinding, b.Source, b.Pattern)
		}
	}
	return nil
}

// registerTopology registers every entity of a declared topology
// without waiting, and returns the produced readiness latches.
func (c *Connection) registerTopology(t Topology) ([]*Latch, error) {
	latches := make([]*Latch, 0, len(t.Exchanges)+len(t.Queues)+len(t.Bindings))
	for _, e := range t.Exchanges {
		ex := c.DeclareExchange(e.Name, e.Kind, e.Options)
		latches = append(latches, ex.readyLatch())
	}
	for _, q := range t.Queues {
		qu := c.DeclareQueue(q.Name, q.Options)
		latches = append(latches, qu.readyLatch())
	}
	for _, b := range t.Bindings {
		source := c.DeclareExchange(b.Source, "", nil)
		var destination Node
		if b.Queue != "" {
			destination = c.DeclareQueue(b.Queue, nil)
		} else {
			destination = c.DeclareExchange(b.Exchange, "", nil)
		}
		binding, err := newBinding(destination, source, b.Pattern, b.Args)
		if err != nil {
			return nil, err
		}
		latches = append(latches, binding.readyLatch())
	}
	return latches, nil
}

// CompleteConfiguration blocks until every registered entity and every
// active consumer has asserted against the broker. The first rejection
// is returned.
func (c *Connection) CompleteConfiguration() error {
	c.mu.Lock()
	latches := make([]*Latch, 0, 1+len(c.exchanges)+2*len(c.queues)+len(c.bindings))
	if c.initialized != nil {
		latches = append(latches, c.initialized)
	}
	for _, ex := range c.exchanges {
		if ex.initialized != nil {
			latches = append(latches, ex.initialized)
		}
	}
	for _, q := range c.queues {
		if q.initialized != nil {
			latches = append(latches, q.initialized)
		}
		if q.consumerInitialized != nil {
			latches = append(latches, q.consumerInitialized)
		}
	}
	for _, b := range c.bindings {
		if b.initialized != nil {
			latches = append(latches, b.initialized)
		}
	}
	c.mu.Unlock()

	var firstErr error
	for _, l := range latches {
		if err := l.Await(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeleteConfiguration tears the declared topology down broker-side:
// bindings first, then consumers and queues, then exchanges, respecting
// the broker's referential constraints.
func (c *Connection) DeleteConfiguration() error {
	c.mu.Lock()
	bindings := make([]*Binding, 0, len(c.bindings))
	for _, b := range c.bindings {
		bindings = append(bindings, b)
	}
	queues := make([]*Queue, 0, len(c.queues))
	for _, q := range c.queues {
		queues = append(queues, q)
	}
	exchanges := make([]*Exchange, 0, len(c.exchanges))
	for _, ex := range c.exchanges {
		exchanges = append(exchanges, ex)
	}
	c.mu.Unlock()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, b := range bindings {
		keep(b.Delete())
	}
	for _, q := range queues {
		keep(q.StopConsumer())
		keep(q.Delete())
	}
	for _, ex := range exchanges {
		keep(ex.Delete())
	}
	return firstErr
}

// Close shuts the connection down for good. The close handler will not
// reinterpret the resulting close event as a failure.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.isClosing {
		c.mu.Unlock()
		return ErrConnectionClosing
	}
	c.isClosing = true
	latch := c.initialized
	c.mu.Unlock()

	if latch != nil {
		latch.Await()
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.logger.Debugf("%s closing connection to %s", c.config.name, c.config.url)
	return conn.Close()
}

// newOutgoingMessage turns an arbitrary payload into a Message. A
// *Message passes through untouched; other values go through the
// configured codec when one is set, and through Message.SetContent
// otherwise.
func (c *Connection) newOutgoingMessage(payload any) (*Message, error) {
	if m, ok := payload.(*Message); ok && m != nil {
		return m, nil
	}
	if c.config.codec != nil && payload != nil {
		bs, err := c.config.codec.Encode(payload)
		if err != nil {
			return nil, err
		}
		m := &Message{}
		m.Properties.Body = bs
		m.Properties.ContentType = c.config.codec.ContentType()
		return m, nil
	}
	return NewMessage(payload)
}
