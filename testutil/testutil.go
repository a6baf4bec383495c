// Package testutil holds fakes shared by the package tests: an in-memory
// chat connection, a recording outbox and a scriptable unit.
package testutil

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/nicebartender/edi/event"
	"github.com/nicebartender/edi/mention"
	"github.com/nicebartender/edi/plugin"
)

// Post is one message sent by the bot.
type Post struct {
	Channel string
	Text    string
}

// Outbox is an in-memory directory plus a record of every post.
type Outbox struct {
	mu       sync.Mutex
	posts    []Post
	channels map[string]event.Channel
	users    map[string]event.User

	// PostErr, when set, fails every post.
	PostErr error
}

func NewOutbox() *Outbox {
	return &Outbox{
		channels: make(map[string]event.Channel),
		users:    make(map[string]event.User),
	}
}

func (o *Outbox) AddChannel(id, name string) *Outbox {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.channels[id] = event.Channel{ID: id, Name: name}
	return o
}

func (o *Outbox) AddUser(id, name string) *Outbox {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.users[id] = event.User{ID: id, Name: name}
	return o
}

func (o *Outbox) PostMessage(_ context.Context, channelID, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.PostErr != nil {
		return o.PostErr
	}
	o.posts = append(o.posts, Post{Channel: channelID, Text: text})
	return nil
}

func (o *Outbox) Channel(id string) (event.Channel, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.channels[id]
	return c, ok
}

func (o *Outbox) ChannelByName(name string) (event.Channel, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	name = strings.TrimPrefix(name, "#")
	for _, c := range o.channels {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return event.Channel{}, false
}

func (o *Outbox) User(id string) (event.User, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	u, ok := o.users[id]
	return u, ok
}

// Posts returns a copy of everything posted so far.
func (o *Outbox) Posts() []Post {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Post(nil), o.posts...)
}

// Texts returns the text of every post, in order.
func (o *Outbox) Texts() []string {
	var out []string
	for _, p := range o.Posts() {
		out = append(out, p.Text)
	}
	return out
}

// Target is a routing target: an Outbox with a bot identity and units.
type Target struct {
	*Outbox
	Bot     event.User
	Plugins []plugin.Plugin
}

func NewTarget(bot event.User, units ...plugin.Plugin) *Target {
	return &Target{Outbox: NewOutbox(), Bot: bot, Plugins: units}
}

func (t *Target) Self() event.User { return t.Bot }

func (t *Target) Pattern() *regexp.Regexp { return mention.Pattern(t.Bot.Name, t.Bot.ID) }

func (t *Target) Units() []plugin.Plugin { return t.Plugins }

// Message builds a message event.
func Message(channel, user, text string) *event.Envelope {
	return event.New(event.KindMessage, map[string]any{
		"channel": channel,
		"user":    user,
		"text":    text,
	})
}
