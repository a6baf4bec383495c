package testutil

import (
	"context"
	"sync"

	"github.com/nicebartender/edi/command"
	"github.com/nicebartender/edi/event"
	"github.com/nicebartender/edi/plugin"
)

// Unit is a scriptable plugin that records every call.
type Unit struct {
	name string

	mu       sync.Mutex
	starts   int
	stops    int
	events   []*event.Envelope
	commands map[string]command.HandlerFunc

	StartErr    error
	StopErr     error
	DispatchErr error
	Panic       bool
	// Block, when set, is waited on inside Dispatch.
	Block chan struct{}
}

func NewUnit(name string) *Unit {
	return &Unit{name: name, commands: make(map[string]command.HandlerFunc)}
}

// WithCommand adds a command handler under method.
func (u *Unit) WithCommand(method string, h command.HandlerFunc) *Unit {
	u.commands[method] = h
	return u
}

func (u *Unit) Name() string { return u.name }

func (u *Unit) Start(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.starts++
	return u.StartErr
}

func (u *Unit) Stop(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stops++
	return u.StopErr
}

func (u *Unit) Dispatch(_ context.Context, ev *event.Envelope) error {
	if u.Block != nil {
		<-u.Block
	}
	u.mu.Lock()
	u.events = append(u.events, ev)
	u.mu.Unlock()
	if u.Panic {
		panic(u.name + " exploded")
	}
	return u.DispatchErr
}

func (u *Unit) CommandHandlers() map[string]command.HandlerFunc {
	return u.commands
}

func (u *Unit) Starts() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.starts
}

func (u *Unit) Stops() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stops
}

// Events returns every event seen through Dispatch.
func (u *Unit) Events() []*event.Envelope {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*event.Envelope(nil), u.events...)
}

// Factory wraps the unit so the registry hands out this very instance.
func (u *Unit) Factory(cmds ...command.Spec) plugin.Factory {
	return plugin.Factory{
		Name:     u.name,
		Enabled:  true,
		New:      func(plugin.Deps) (plugin.Plugin, error) { return u, nil },
		Commands: cmds,
	}
}
