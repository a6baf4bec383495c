package command

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/nicebartender/edi/errs"
)

// Bound is a descriptor materialized against a live unit.
type Bound struct {
	Descriptor
	Handler HandlerFunc
}

// Registry maps command names to descriptors. Registration happens once at
// load time; Materialize and Unbind swap the live table at session start
// and stop.
type Registry struct {
	logger *slog.Logger

	static map[string]Descriptor
	live   map[string]Bound
	mu     sync.RWMutex
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger.With("component", "commands"),
		static: make(map[string]Descriptor),
		live:   make(map[string]Bound),
	}
}

// Register adds a command owned by the named unit. A name already present
// (case-insensitive) fails with errs.ErrDuplicateCommand and leaves the
// existing entry in place.
func (r *Registry) Register(owner string, spec Spec) error {
	d, err := newDescriptor(owner, spec)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.static[d.Name]; exists {
		return errs.Invalid(
			fmt.Errorf("%w: %s (owned by %s, redeclared by %s)", errs.ErrDuplicateCommand, d.Name, existing.Owner, owner),
			"command", "register")
	}
	r.static[d.Name] = d

	r.logger.Debug("command registered",
		"command", d.Name,
		"owner", d.Owner,
		"method", d.Method,
		"args", d.Source(),
	)
	return nil
}

// Materialize rebuilds the live table from the started units. Commands
// whose owner is absent, or whose owner has no handler for the method, are
// left out. It returns the number of bound commands.
func (r *Registry) Materialize(active map[string]Provider) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := make(map[string]Bound, len(r.static))
	handlers := make(map[string]map[string]HandlerFunc, len(active))

	for name, d := range r.static {
		p, ok := active[d.Owner]
		if !ok || p == nil {
			r.logger.Debug("command pruned, unit not active", "command", name, "owner", d.Owner)
			continue
		}
		table, ok := handlers[d.Owner]
		if !ok {
			table = p.CommandHandlers()
			handlers[d.Owner] = table
		}
		h, ok := table[d.Method]
		if !ok || h == nil {
			r.logger.Warn("command pruned, unit has no handler", "command", name, "owner", d.Owner, "method", d.Method)
			continue
		}
		live[name] = Bound{Descriptor: d, Handler: h}
	}

	r.live = live
	r.logger.Info("commands materialized", "live", len(live), "registered", len(r.static))
	return len(live)
}

// Unbind drops every live binding.
func (r *Registry) Unbind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = make(map[string]Bound)
}

// Lookup finds a live command.
func (r *Registry) Lookup(name string) (Bound, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.live[strings.ToLower(strings.TrimSpace(name))]
	return b, ok
}

// Describe finds a registered command whether or not it is live.
func (r *Registry) Describe(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.static[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// All lists every registered command ordered by name.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.static))
	for _, d := range r.static {
		out = append(out, d)
	}
	sortByName(out)
	return out
}

// Live lists the materialized commands ordered by name.
func (r *Registry) Live() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.live))
	for _, b := range r.live {
		out = append(out, b.Descriptor)
	}
	sortByName(out)
	return out
}

func sortByName(ds []Descriptor) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Name < ds[j].Name })
}
