// Package command holds the process-wide table of text commands: their
// argument grammar, help text, and the binding to a live unit for the
// current session.
package command

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nicebartender/edi/errs"
	"github.com/nicebartender/edi/event"
)

// Invocation is everything a command handler receives.
type Invocation struct {
	Command string
	Channel event.Channel
	User    event.User
	Event   *event.Envelope

	// Named holds the named capture groups when the argument pattern has
	// any; Positional holds the unnamed captures otherwise.
	Named      map[string]string
	Positional []string
}

// Arg returns a named capture, "" when it did not participate.
func (inv Invocation) Arg(name string) string {
	return inv.Named[name]
}

// At returns the i-th positional capture, "" when out of range.
func (inv Invocation) At(i int) string {
	if i < 0 || i >= len(inv.Positional) {
		return ""
	}
	return inv.Positional[i]
}

// HandlerFunc runs a command. A non-empty result is posted back to the
// invoking channel.
type HandlerFunc func(ctx context.Context, inv Invocation) (string, error)

// Provider is implemented by anything that owns command handlers, keyed by
// method name.
type Provider interface {
	CommandHandlers() map[string]HandlerFunc
}

// Spec is a command declaration as written by a unit.
type Spec struct {
	Name        string
	Args        string // argument regexp, matched against the whole argument string
	Description string
	Method      string // key into the owner's CommandHandlers; defaults to Name
}

// Descriptor is a registered command.
type Descriptor struct {
	Name        string
	Pattern     *regexp.Regexp
	Description string
	Owner       string
	Method      string

	source string
}

func newDescriptor(owner string, spec Spec) (Descriptor, error) {
	name := strings.ToLower(strings.TrimSpace(spec.Name))
	if name == "" || strings.ContainsAny(name, " \t\n") {
		return Descriptor{}, errs.Invalid(fmt.Errorf("%w: bad command name %q", errs.ErrInvalidConfig, spec.Name), "command", "register")
	}

	source := spec.Args
	if source == "" {
		source = "(.*)"
	}
	pattern, err := regexp.Compile(`(?s)^(?:` + source + `)$`)
	if err != nil {
		return Descriptor{}, errs.Invalid(fmt.Errorf("%w: command %s: %v", errs.ErrInvalidConfig, name, err), "command", "register")
	}

	method := spec.Method
	if method == "" {
		method = name
	}

	return Descriptor{
		Name:        name,
		Pattern:     pattern,
		Description: spec.Description,
		Owner:       owner,
		Method:      method,
		source:      source,
	}, nil
}

// Source is the argument pattern as declared.
func (d Descriptor) Source() string { return d.source }

// Short is the first non-blank line of the description.
func (d Descriptor) Short() string {
	lines := d.lines()
	if len(lines) == 0 {
		return ""
	}
	return lines[0]
}

// Detail is every line of the description, trimmed, blank lines at either
// end removed.
func (d Descriptor) Detail() []string {
	return d.lines()
}

func (d Descriptor) lines() []string {
	raw := strings.Split(strings.ReplaceAll(d.Description, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, strings.TrimSpace(l))
	}
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Match applies the argument pattern. ok is false when args do not satisfy
// it. When the pattern defines named groups only named is set; otherwise
// only positional.
func (d Descriptor) Match(args string) (named map[string]string, positional []string, ok bool) {
	m := d.Pattern.FindStringSubmatch(args)
	if m == nil {
		return nil, nil, false
	}

	names := d.Pattern.SubexpNames()
	for i := 1; i < len(names); i++ {
		if names[i] == "" {
			continue
		}
		if named == nil {
			named = make(map[string]string)
		}
		named[names[i]] = m[i]
	}
	if named != nil {
		return named, nil, true
	}

	positional = make([]string, 0, len(m)-1)
	positional = append(positional, m[1:]...)
	return nil, positional, true
}
