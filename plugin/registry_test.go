package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicebartender/edi/command"
	"github.com/nicebartender/edi/errs"
)

type stub struct{ Base }

func factory(name string, enabled bool, cmds ...string) Factory {
	f := Factory{
		Name:    name,
		Enabled: enabled,
		New: func(Deps) (Plugin, error) {
			return &stub{Base: NewBase(name)}, nil
		},
	}
	for _, c := range cmds {
		f.Commands = append(f.Commands, command.Spec{Name: c})
	}
	return f
}

func names(fs []Factory) []string {
	var out []string
	for _, f := range fs {
		out = append(out, f.Name)
	}
	return out
}

func TestNewRegistry_DuplicateUnit(t *testing.T) {
	_, err := NewRegistry(nil, factory("help", true), factory("Help", true))
	require.ErrorIs(t, err, errs.ErrDuplicateUnit)
	assert.True(t, errs.IsInvalid(err))

	_, err = NewRegistry(nil, Factory{})
	require.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestDiscover(t *testing.T) {
	r, err := NewRegistry(nil,
		factory("timeline", true),
		factory("chatlog", true),
		factory("quotes", true),
		factory("experimental", false),
		factory("help", true),
	)
	require.NoError(t, err)

	tests := []struct {
		name     string
		disabled []string
		want     []string
	}{
		{"all enabled", nil, []string{"chatlog", "help", "quotes", "timeline"}},
		{"disable list", []string{"Quotes", " timeline "}, []string{"chatlog", "help"}},
		{"unknown names ignored", []string{"nope"}, []string{"chatlog", "help", "quotes", "timeline"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(r.Discover(tt.disabled)))
		})
	}
}

func TestInstantiate_SkipsFailingConstructor(t *testing.T) {
	broken := Factory{Name: "broken", Enabled: true, New: func(Deps) (Plugin, error) {
		return nil, errors.New("no database")
	}}
	r, err := NewRegistry(nil, factory("help", true), broken, Factory{Name: "hollow", Enabled: true})
	require.NoError(t, err)

	var asked []string
	live := r.Instantiate(r.Discover(nil), func(name string) Deps {
		asked = append(asked, name)
		return Deps{}
	})

	require.Len(t, live, 1)
	assert.Equal(t, "help", live["help"].Name())
	assert.Equal(t, []string{"broken", "help"}, asked)
}

func TestRegisterCommands_IncludesDisabledUnits(t *testing.T) {
	r, err := NewRegistry(nil, factory("quotes", true, "grab", "quote"), factory("timeline", false, "post"))
	require.NoError(t, err)

	reg := command.NewRegistry(nil)
	require.NoError(t, r.RegisterCommands(reg))
	assert.Len(t, reg.All(), 3)

	live := r.Instantiate(r.Discover(nil), func(string) Deps { return Deps{} })
	providers := make(map[string]command.Provider, len(live))
	for name, p := range live {
		providers[name] = p
	}
	// stubs own no handlers, so nothing binds
	assert.Equal(t, 0, reg.Materialize(providers))

	_, ok := reg.Describe("post")
	assert.True(t, ok)
}

func TestRegisterCommands_Duplicate(t *testing.T) {
	r, err := NewRegistry(nil, factory("a", true, "same"), factory("b", true, "same"))
	require.NoError(t, err)
	err = r.RegisterCommands(command.NewRegistry(nil))
	require.ErrorIs(t, err, errs.ErrDuplicateCommand)
}
