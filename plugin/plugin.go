// Package plugin defines units: self-contained behaviours that receive
// events and may own commands.
package plugin

import (
	"context"
	"log/slog"

	"github.com/nicebartender/edi/command"
	"github.com/nicebartender/edi/event"
)

// Plugin is a unit instance for one supervisor run.
type Plugin interface {
	command.Provider

	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Dispatch(ctx context.Context, ev *event.Envelope) error
}

// Outbound is the part of the session a unit may talk back through.
type Outbound interface {
	PostMessage(ctx context.Context, channelID, text string) error
	Channel(id string) (event.Channel, bool)
	ChannelByName(name string) (event.Channel, bool)
	User(id string) (event.User, bool)
}

// Section is a unit's configuration sub-table.
type Section interface {
	Decode(out any) error
}

// Deps are handed to a unit's constructor.
type Deps struct {
	Out    Outbound
	Logger *slog.Logger
	Config Section

	// Peer returns another live unit by name, for units that cooperate.
	Peer func(name string) (Plugin, bool)
}

// EventHandler handles one event kind.
type EventHandler func(ctx context.Context, ev *event.Envelope) error

// Base implements the plumbing of Plugin. Units embed it and fill its
// tables in their constructor.
type Base struct {
	name     string
	handlers map[string]EventHandler
	fallback EventHandler
	commands map[string]command.HandlerFunc
}

func NewBase(name string) Base {
	return Base{
		name:     name,
		handlers: make(map[string]EventHandler),
		commands: make(map[string]command.HandlerFunc),
	}
}

func (b *Base) Name() string { return b.name }

// On routes events of kind to h.
func (b *Base) On(kind string, h EventHandler) { b.handlers[kind] = h }

// Default handles every kind without an explicit entry.
func (b *Base) Default(h EventHandler) { b.fallback = h }

// Handle binds a command method to h.
func (b *Base) Handle(method string, h command.HandlerFunc) { b.commands[method] = h }

func (b *Base) Start(context.Context) error { return nil }

func (b *Base) Stop(context.Context) error { return nil }

// Dispatch runs the handler registered for the event's kind, falling back to
// the default entry. Events nobody asked for are ignored.
func (b *Base) Dispatch(ctx context.Context, ev *event.Envelope) error {
	if h, ok := b.handlers[ev.Kind()]; ok {
		return h(ctx, ev)
	}
	if b.fallback != nil {
		return b.fallback(ctx, ev)
	}
	return nil
}

func (b *Base) CommandHandlers() map[string]command.HandlerFunc {
	out := make(map[string]command.HandlerFunc, len(b.commands))
	for k, v := range b.commands {
		out[k] = v
	}
	return out
}
