package plugin

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nicebartender/edi/command"
	"github.com/nicebartender/edi/errs"
)

// Factory describes a unit known to the build.
type Factory struct {
	Name     string
	Enabled  bool
	New      func(deps Deps) (Plugin, error)
	Commands []command.Spec
}

// Registry is the explicit list of units compiled into the binary.
type Registry struct {
	factories []Factory
	logger    *slog.Logger
}

// NewRegistry checks the factory list for duplicate names.
func NewRegistry(logger *slog.Logger, factories ...Factory) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	seen := make(map[string]bool, len(factories))
	for _, f := range factories {
		key := strings.ToLower(f.Name)
		if key == "" {
			return nil, errs.Invalid(fmt.Errorf("%w: unit without a name", errs.ErrInvalidConfig), "plugin", "registry")
		}
		if seen[key] {
			return nil, errs.Invalid(fmt.Errorf("%w: %s", errs.ErrDuplicateUnit, f.Name), "plugin", "registry")
		}
		seen[key] = true
	}

	sorted := append([]Factory(nil), factories...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &Registry{factories: sorted, logger: logger.With("component", "units")}, nil
}

// Factories returns every known unit, ordered by name.
func (r *Registry) Factories() []Factory {
	return append([]Factory(nil), r.factories...)
}

// Discover returns the enabled units that are not in disabled, ordered by
// name. Names compare case-insensitively.
func (r *Registry) Discover(disabled []string) []Factory {
	off := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		off[strings.ToLower(strings.TrimSpace(name))] = true
	}

	var out []Factory
	for _, f := range r.factories {
		switch {
		case !f.Enabled:
			r.logger.Debug("unit not enabled", "unit", f.Name)
		case off[strings.ToLower(f.Name)]:
			r.logger.Info("unit disabled by configuration", "unit", f.Name)
		default:
			out = append(out, f)
		}
	}
	return out
}

// Instantiate builds one instance per factory. A unit whose constructor
// fails is logged and left out.
func (r *Registry) Instantiate(factories []Factory, deps func(name string) Deps) map[string]Plugin {
	out := make(map[string]Plugin, len(factories))
	for _, f := range factories {
		if f.New == nil {
			r.logger.Error("unit has no constructor", "unit", f.Name)
			continue
		}
		p, err := f.New(deps(f.Name))
		if err != nil {
			r.logger.Error("unit failed to construct", "unit", f.Name, "err", err)
			continue
		}
		out[f.Name] = p
	}
	return out
}

// RegisterCommands declares every unit's commands, enabled or not. Commands
// of units that never start are pruned when the table is materialized.
func (r *Registry) RegisterCommands(reg *command.Registry) error {
	for _, f := range r.factories {
		for _, spec := range f.Commands {
			if err := reg.Register(f.Name, spec); err != nil {
				return err
			}
		}
	}
	return nil
}
