// Package console is a local stand-in for the chat service: lines typed at
// the terminal arrive as messages and the bot's replies are printed.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/nicebartender/edi/errs"
	"github.com/nicebartender/edi/event"
)

var (
	Bot     = event.User{ID: "U0EDI", Name: "edi"}
	You     = event.User{ID: "U0YOU", Name: "you"}
	Channel = event.Channel{ID: "C0CONSOLE", Name: "console"}
)

// LineReader is the part of a readline instance the console uses.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

type Option func(*Conn)

// WithIO replaces the terminal, mostly for tests.
func WithIO(r LineReader, w io.Writer) Option {
	return func(c *Conn) {
		c.lines = r
		c.out = w
	}
}

// WithBot changes the name the bot answers to.
func WithBot(name string) Option {
	return func(c *Conn) { c.self.Name = name }
}

// Conn is a console session. It satisfies the same contract as an RTM
// connection.
type Conn struct {
	lines LineReader
	out   io.Writer
	self  event.User

	frames  chan *event.Envelope
	done    chan struct{}
	closing chan struct{}
	err     error

	outMu     sync.Mutex
	closeOnce sync.Once
}

// Dial opens the terminal. The first event is always a hello.
func Dial(_ context.Context, opts ...Option) (*Conn, error) {
	c := &Conn{
		self:    Bot,
		frames:  make(chan *event.Envelope),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.lines == nil {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "you> ",
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			return nil, fmt.Errorf("open terminal: %w", err)
		}
		c.lines = rl
		c.out = rl.Stdout()
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.done)

	if !c.deliver(event.New(event.KindHello, nil)) {
		return
	}
	for {
		line, err := c.lines.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				c.err = errs.Transient(errs.ErrConnectionClosed, "console", "read")
			} else {
				c.err = errs.Transient(fmt.Errorf("read: %w", err), "console", "read")
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ev := event.New(event.KindMessage, map[string]any{
			"channel": Channel.ID,
			"user":    You.ID,
			"text":    line,
		})
		if !c.deliver(ev) {
			return
		}
	}
}

func (c *Conn) deliver(ev *event.Envelope) bool {
	select {
	case c.frames <- ev:
		return true
	case <-c.closing:
		c.err = errs.Transient(errs.ErrConnectionClosed, "console", "read")
		return false
	}
}

func (c *Conn) Next(ctx context.Context) (*event.Envelope, error) {
	select {
	case <-c.closing:
		return nil, errs.Transient(errs.ErrConnectionClosed, "console", "read")
	default:
	}
	select {
	case ev := <-c.frames:
		return ev, nil
	case <-c.done:
		return nil, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Self() event.User { return c.self }

func (c *Conn) Channel(id string) (event.Channel, bool) {
	if id == Channel.ID {
		return Channel, true
	}
	return event.Channel{}, false
}

func (c *Conn) ChannelByName(name string) (event.Channel, bool) {
	if strings.EqualFold(strings.TrimPrefix(name, "#"), Channel.Name) {
		return Channel, true
	}
	return event.Channel{}, false
}

func (c *Conn) User(id string) (event.User, bool) {
	switch id {
	case You.ID:
		return You, true
	case c.self.ID:
		return c.self, true
	}
	return event.User{}, false
}

// PostMessage prints a reply, one prefixed line per line of text.
func (c *Conn) PostMessage(_ context.Context, channelID, text string) error {
	if _, ok := c.Channel(channelID); !ok {
		return fmt.Errorf("post to %s: no such channel", channelID)
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	for _, line := range strings.Split(text, "\n") {
		if _, err := fmt.Fprintf(c.out, "%s> %s\n", c.self.Name, line); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.lines.Close()
	})
	return err
}
