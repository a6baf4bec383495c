package testutil

import (
	"context"
	"sync"

	"github.com/nicebartender/edi/errs"
	"github.com/nicebartender/edi/event"
)

type step struct {
	ev  *event.Envelope
	err error
}

// Conn is a scripted upstream connection. Events and errors pushed before
// or during a run are delivered in order by Next.
type Conn struct {
	*Outbox
	Bot event.User

	steps     chan step
	closed    chan struct{}
	closeOnce sync.Once
}

func NewConn(bot event.User) *Conn {
	return &Conn{
		Outbox: NewOutbox(),
		Bot:    bot,
		steps:  make(chan step, 64),
		closed: make(chan struct{}),
	}
}

// Push queues events.
func (c *Conn) Push(evs ...*event.Envelope) *Conn {
	for _, ev := range evs {
		c.steps <- step{ev: ev}
	}
	return c
}

// Fail queues a stream error.
func (c *Conn) Fail(err error) *Conn {
	c.steps <- step{err: err}
	return c
}

// Hello queues a handshake event.
func (c *Conn) Hello() *Conn {
	return c.Push(event.New(event.KindHello, nil))
}

func (c *Conn) Next(ctx context.Context) (*event.Envelope, error) {
	select {
	case s := <-c.steps:
		return s.ev, s.err
	case <-c.closed:
		return nil, errs.ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Self() event.User { return c.Bot }

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
