// Package dispatch routes one event either to a single command handler or
// to every live unit.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nicebartender/edi/command"
	"github.com/nicebartender/edi/event"
	"github.com/nicebartender/edi/mention"
	"github.com/nicebartender/edi/metrics"
	"github.com/nicebartender/edi/plugin"
	"github.com/nicebartender/edi/tracing"
)

// Target is the session an event is routed within.
type Target interface {
	plugin.Outbound

	// Self is the bot's own identity, known after the handshake.
	Self() event.User
	// Pattern matches messages addressed to the bot; nil before the handshake.
	Pattern() *regexp.Regexp
	// Units are the live units in a stable order.
	Units() []plugin.Plugin
}

// Command outcomes, as counted in metrics.
const (
	statusOK       = "ok"
	statusError    = "error"
	statusInvalid  = "invalid"
	statusDisabled = "disabled"
)

type Dispatcher struct {
	commands *command.Registry
	ignore   map[string]bool
	disabled map[string]bool
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithIgnoreChannels drops every event from the named channels. A leading
// '#' is ignored and names compare case-insensitively.
func WithIgnoreChannels(names ...string) Option {
	return func(d *Dispatcher) {
		for _, n := range names {
			if n = channelKey(n); n != "" {
				d.ignore[n] = true
			}
		}
	}
}

// WithDisabledCommands answers the named commands with a notice instead of
// running them.
func WithDisabledCommands(names ...string) Option {
	return func(d *Dispatcher) {
		for _, n := range names {
			if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
				d.disabled[n] = true
			}
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

func New(commands *command.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		commands: commands,
		ignore:   make(map[string]bool),
		disabled: make(map[string]bool),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatch")
	if d.tracer == nil {
		d.tracer = tracing.Tracer("dispatch")
	}
	return d
}

func channelKey(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
}

// Route handles one event. It never fails: every error is logged, and
// command errors are also reported to the channel.
func (d *Dispatcher) Route(ctx context.Context, ev *event.Envelope, target Target) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "dispatch.route", trace.WithAttributes(
		attribute.String(tracing.AttrEventID, ev.ID()),
		attribute.String(tracing.AttrEventKind, ev.Kind()),
	))
	defer func() {
		span.End()
		d.metrics.ObserveRoute(time.Since(start))
	}()
	d.metrics.Event(ev.Kind())

	channel := event.Channel{ID: ev.ChannelID()}
	if channel.ID != "" {
		if c, ok := target.Channel(channel.ID); ok {
			channel = c
		}
		span.SetAttributes(attribute.String(tracing.AttrChannel, channel.Name))
		if d.ignore[channelKey(channel.Name)] {
			d.logger.Debug("event from ignored channel", ev.LogAttrs()...)
			return
		}
	}

	if name, args, ok := d.extract(ev, target); ok {
		if d.command(ctx, ev, target, channel, name, args) {
			return
		}
	}

	d.fanOut(ctx, ev, target)
}

// extract finds a command in a message addressed to the bot. Only plain
// messages from people qualify.
func (d *Dispatcher) extract(ev *event.Envelope, target Target) (name, args string, ok bool) {
	if ev.Kind() != event.KindMessage || ev.Has("subtype") || ev.IsBot() {
		return "", "", false
	}
	if self := target.Self(); self.ID != "" && ev.UserID() == self.ID {
		return "", "", false
	}
	return mention.Match(target.Pattern(), ev.Text())
}

// command runs a command. It reports false when the name is unknown so
// the event falls through to the units.
func (d *Dispatcher) command(ctx context.Context, ev *event.Envelope, target Target, channel event.Channel, name, args string) bool {
	bound, ok := d.commands.Lookup(name)
	if !ok {
		d.logger.Debug("unknown command", append(ev.LogAttrs(), "command", name)...)
		return false
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.command", trace.WithAttributes(
		attribute.String(tracing.AttrCommand, bound.Name),
		attribute.String(tracing.AttrUnit, bound.Owner),
	))
	defer span.End()

	if d.disabled[bound.Name] {
		d.logger.Info("disabled command invoked", append(ev.LogAttrs(), "command", bound.Name)...)
		d.metrics.Command(bound.Name, statusDisabled)
		d.reply(ctx, ev, target, fmt.Sprintf("`%s` is disabled", bound.Name))
		return true
	}

	named, positional, ok := bound.Match(args)
	if !ok {
		d.logger.Debug("invalid command arguments", append(ev.LogAttrs(), "command", bound.Name, "args", args)...)
		d.metrics.Command(bound.Name, statusInvalid)
		d.reply(ctx, ev, target, fmt.Sprintf("invalid arguments for `%s`: usage `%s %s`", bound.Name, bound.Name, bound.Short()))
		return true
	}

	user := event.User{ID: ev.UserID()}
	if u, ok := target.User(user.ID); ok {
		user = u
	}
	inv := command.Invocation{
		Command:    bound.Name,
		Channel:    channel,
		User:       user,
		Event:      ev,
		Named:      named,
		Positional: positional,
	}

	out, err := invoke(ctx, bound.Handler, inv)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.metrics.Command(bound.Name, statusError)
		d.logger.Error("command failed", append(ev.LogAttrs(),
			"command", bound.Name,
			"unit", bound.Owner,
			"channel_name", channel.Name,
			"user_name", user.Name,
			"err", err,
		)...)
		d.reply(ctx, ev, target, fmt.Sprintf("sorry, `%s` failed", bound.Name))
		return true
	}

	d.metrics.Command(bound.Name, statusOK)
	if out != "" {
		d.reply(ctx, ev, target, out)
	}
	return true
}

func invoke(ctx context.Context, h command.HandlerFunc, inv command.Invocation) (out string, err error) {
	err = protect(func() error {
		var herr error
		out, herr = h(ctx, inv)
		return herr
	})
	return out, err
}

// reply posts to the event's channel. A failed post is only logged.
func (d *Dispatcher) reply(ctx context.Context, ev *event.Envelope, target Target, text string) {
	if err := target.PostMessage(ctx, ev.ChannelID(), text); err != nil {
		d.logger.Error("reply failed", append(ev.LogAttrs(), "err", err)...)
	}
}

func (d *Dispatcher) fanOut(ctx context.Context, ev *event.Envelope, target Target) {
	failed := Batch(target.Units(), func(p plugin.Plugin) error {
		uctx, span := d.tracer.Start(ctx, "dispatch.unit", trace.WithAttributes(
			attribute.String(tracing.AttrUnit, p.Name()),
		))
		defer span.End()
		err := p.Dispatch(uctx, ev)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	})

	for name, err := range failed {
		d.metrics.UnitError(name, "dispatch")
		attrs := append(ev.LogAttrs(), "unit", name, "err", err)
		if pe, ok := err.(*PanicError); ok {
			attrs = append(attrs, "stack", string(pe.Stack))
		}
		d.logger.Error("unit dispatch failed", attrs...)
	}
}
