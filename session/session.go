// Package session owns the connect, ready, stream and stop lifecycle of the
// bot and the live state of one run.
package session

import (
	"context"
	"regexp"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/nicebartender/edi/errs"
	"github.com/nicebartender/edi/event"
	"github.com/nicebartender/edi/mention"
	"github.com/nicebartender/edi/plugin"
)

// Connection is one upstream stream. Next blocks until an event arrives,
// the stream ends or ctx is done. A clean close is reported as
// errs.ErrConnectionClosed.
type Connection interface {
	Next(ctx context.Context) (*event.Envelope, error)
	Self() event.User
	Channel(id string) (event.Channel, bool)
	ChannelByName(name string) (event.Channel, bool)
	User(id string) (event.User, bool)
	PostMessage(ctx context.Context, channelID, text string) error
	Close() error
}

// DialFunc opens a new connection. It is called once per attempt.
type DialFunc func(ctx context.Context) (Connection, error)

// Session is the live state of one supervisor run. The connection is
// swapped on reconnect; the units live for the whole run.
type Session struct {
	id string

	mu      sync.RWMutex
	conn    Connection
	self    event.User
	pattern *regexp.Regexp
	units   map[string]plugin.Plugin
	order   []plugin.Plugin
}

func newSession() *Session {
	return &Session{id: uuid.NewString(), units: make(map[string]plugin.Plugin)}
}

// ID is the correlation id of this run.
func (s *Session) ID() string { return s.id }

func (s *Session) attach(conn Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

// detach drops the connection and closes it.
func (s *Session) detach() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *Session) connection() Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// identify rebuilds the mention pattern from the connection's identity.
func (s *Session) identify(self event.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = self
	s.pattern = mention.Pattern(self.Name, self.ID)
}

func (s *Session) setUnits(units map[string]plugin.Plugin) {
	order := make([]plugin.Plugin, 0, len(units))
	for _, p := range units {
		order = append(order, p)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Name() < order[j].Name() })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.units = units
	s.order = order
}

func (s *Session) started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.order != nil
}

func (s *Session) Self() event.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

func (s *Session) Pattern() *regexp.Regexp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pattern
}

// Units returns the live units ordered by name.
func (s *Session) Units() []plugin.Plugin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]plugin.Plugin(nil), s.order...)
}

// Unit finds a live unit by name.
func (s *Session) Unit(name string) (plugin.Plugin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.units[name]
	return p, ok
}

// PostMessage sends through the current connection. Between connections it
// fails with errs.ErrNotConnected.
func (s *Session) PostMessage(ctx context.Context, channelID, text string) error {
	conn := s.connection()
	if conn == nil {
		return errs.Transient(errs.ErrNotConnected, "session", "post")
	}
	return conn.PostMessage(ctx, channelID, text)
}

func (s *Session) Channel(id string) (event.Channel, bool) {
	if conn := s.connection(); conn != nil {
		return conn.Channel(id)
	}
	return event.Channel{}, false
}

func (s *Session) ChannelByName(name string) (event.Channel, bool) {
	if conn := s.connection(); conn != nil {
		return conn.ChannelByName(name)
	}
	return event.Channel{}, false
}

func (s *Session) User(id string) (event.User, bool) {
	if conn := s.connection(); conn != nil {
		return conn.User(id)
	}
	return event.User{}, false
}
