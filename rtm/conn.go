package rtm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/slack-go/slack"

	"github.com/nicebartender/edi/errs"
	"github.com/nicebartender/edi/event"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	maxMsgSize  = 1 << 20 // 1MB
	sendTimeout = 30 * time.Second
)

// Conn is one open RTM stream. Frames are handed to Next one at a time;
// the reader waits until the previous one was taken.
type Conn struct {
	ws     *websocket.Conn
	api    *slack.Client
	dir    *Directory
	self   event.User
	logger *slog.Logger

	pingPeriod  time.Duration
	sendTimeout time.Duration

	frames  chan *event.Envelope
	done    chan struct{} // closed when the reader exits
	closing chan struct{} // closed by Close
	err     error         // why the reader exited, set before done is closed

	writeMu   sync.Mutex
	nextID    atomic.Int64
	goodbye   atomic.Bool
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, c *Client, self event.User, dir *Directory) *Conn {
	conn := &Conn{
		ws:          ws,
		api:         c.api,
		dir:         dir,
		self:        self,
		logger:      c.logger,
		pingPeriod:  c.pingPeriod,
		sendTimeout: c.sendTimeout,
		frames:      make(chan *event.Envelope),
		done:        make(chan struct{}),
		closing:     make(chan struct{}),
	}
	go conn.readLoop()
	go conn.keepalive()
	return conn
}

func (c *Conn) Self() event.User { return c.self }

func (c *Conn) Directory() *Directory { return c.dir }

func (c *Conn) Channel(id string) (event.Channel, bool) { return c.dir.Channel(id) }

func (c *Conn) ChannelByName(name string) (event.Channel, bool) { return c.dir.ChannelByName(name) }

func (c *Conn) User(id string) (event.User, bool) { return c.dir.User(id) }

// Next returns the next event. When the stream is over it returns
// errs.ErrConnectionClosed for a clean close and a transient error
// otherwise.
func (c *Conn) Next(ctx context.Context) (*event.Envelope, error) {
	select {
	case <-c.closing:
		return nil, errs.Transient(errs.ErrConnectionClosed, "rtm", "read")
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

// PostMessage sends text to a channel through the Web API, as the bot.
func (c *Conn) PostMessage(ctx context.Context, channelID, text string) error {
	ctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	_, _, err := c.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionAsUser(true),
	)
	if err != nil {
		return fmt.Errorf("post to %s: %w", channelID, err)
	}
	return nil
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.done)

	c.ws.SetReadLimit(maxMsgSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.err = c.readError(err)
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		ev := c.handle(raw)
		if ev == nil {
			continue
		}
		select {
		case c.frames <- ev:
		case <-c.closing:
			c.err = errs.Transient(errs.ErrConnectionClosed, "rtm", "read")
			return
		}
	}
}

func (c *Conn) readError(err error) error {
	select {
	case <-c.closing:
		return errs.Transient(errs.ErrConnectionClosed, "rtm", "read")
	default:
	}
	if c.goodbye.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Info("rtm stream closed", "err", err)
		return errs.Transient(errs.ErrConnectionClosed, "rtm", "read")
	}
	c.logger.Warn("rtm read failed", "err", err)
	return errs.Transient(fmt.Errorf("read: %w", err), "rtm", "read")
}

// handle consumes protocol bookkeeping frames and returns the rest as
// events.
func (c *Conn) handle(raw []byte) *event.Envelope {
	f, err := peek(raw)
	if err != nil {
		c.logger.Warn("undecodable frame", "err", err)
		return nil
	}

	switch {
	case f.ReplyTo != nil:
		if f.OK != nil && !*f.OK && f.Error != nil {
			c.logger.Warn("rtm request rejected", "reply_to", *f.ReplyTo, "code", f.Error.Code, "msg", f.Error.Msg)
		}
		return nil
	case f.Type == "pong", f.Type == "reconnect_url":
		return nil
	case f.Type == "":
		c.logger.Debug("frame without type", "frame", string(raw))
		return nil
	}

	c.track(f.Type, raw)

	ev, err := event.Parse(raw)
	if err != nil {
		c.logger.Warn("undecodable event", "type", f.Type, "err", err)
		return nil
	}
	return ev
}

// track keeps the directory current.
func (c *Conn) track(kind string, raw []byte) {
	switch kind {
	case event.KindChannelCreated, event.KindChannelRename:
		var ch channelChange
		if err := json.Unmarshal(raw, &ch); err == nil {
			c.dir.PutChannel(event.Channel{ID: ch.Channel.ID, Name: ch.Channel.Name})
		}
	case event.KindUserChange, event.KindTeamJoin:
		var u userChange
		if err := json.Unmarshal(raw, &u); err == nil {
			c.dir.PutUser(event.User{ID: u.User.ID, Name: u.User.Name})
		}
	case event.KindGoodbye:
		c.goodbye.Store(true)
	}
}

func (c *Conn) keepalive() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ping(); err != nil {
				c.logger.Debug("keepalive failed", "err", err)
				return
			}
		case <-c.closing:
			return
		case <-c.done:
			return
		}
	}
}

func (c *Conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
		return err
	}
	return c.ws.WriteJSON(outgoing{ID: c.nextID.Add(1), Type: "ping"})
}

