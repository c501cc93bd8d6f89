package amqplib

import "sync"

// Latch is a one-shot readiness signal. It flips from pending to
// resolved or rejected exactly once; later resolve/reject calls are
// ignored. Nodes replace their latch on every rebuild, so callers must
// always go through the owner to obtain the current incarnation.
type Latch struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newLatch() *Latch {
	return &Latch{done: make(chan struct{})}
}

func (l *Latch) resolve() {
	l.once.Do(func() { close(l.done) })
}

func (l *Latch) reject(err error) {
	l.once.Do(func() {
		l.err = err
		close(l.done)
	})
}

// Await blocks until the latch settles and returns the rejection
// error, if any.
func (l *Latch) Await() error {
	<-l.done
	return l.err
}

// Done exposes the settle signal for select loops.
func (l *Latch) Done() <-chan struct{} {
	return l.done
}

// Settled reports whether the latch has resolved or rejected.
func (l *Latch) Settled() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Err returns the rejection error once settled, nil otherwise.
func (l *Latch) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}
