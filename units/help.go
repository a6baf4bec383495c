package units

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/nicebartender/edi/command"
	"github.com/nicebartender/edi/plugin"
)

type HelpConfig struct {
	MaxLength int `mapstructure:"max_length" yaml:"max_length"`
}

func defaultHelpConfig() HelpConfig {
	return HelpConfig{MaxLength: 1000}
}

// Help answers with the command table.
type Help struct {
	plugin.Base
	commands Lister
	cfg      HelpConfig
}

func HelpFactory(commands Lister) plugin.Factory {
	return plugin.Factory{
		Name:    "help",
		Enabled: true,
		New: func(deps plugin.Deps) (plugin.Plugin, error) {
			cfg := defaultHelpConfig()
			if err := decode(deps.Config, &cfg); err != nil {
				return nil, err
			}
			return NewHelp(commands, cfg), nil
		},
		Commands: []command.Spec{
			{Name: "help", Args: "(.*)", Description: "[command]: show command details"},
		},
	}
}

func NewHelp(commands Lister, cfg HelpConfig) *Help {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = defaultHelpConfig().MaxLength
	}
	h := &Help{Base: plugin.NewBase("help"), commands: commands, cfg: cfg}
	h.Handle("help", h.help)
	return h
}

func (h *Help) help(_ context.Context, inv command.Invocation) (string, error) {
	phrase := strings.ToLower(strings.TrimSpace(inv.At(0)))
	live := h.commands.Live()

	if phrase == "" {
		return h.fit(shortLines(live)), nil
	}

	names := strings.Fields(phrase)
	var picked []command.Descriptor
	for _, d := range live {
		if slices.Contains(names, d.Name) {
			picked = append(picked, d)
		}
	}
	if len(picked) == 0 {
		return "No matching commands", nil
	}

	var lines []string
	for _, d := range picked {
		lines = append(lines, d.Name+":")
		for _, l := range d.Detail() {
			lines = append(lines, strings.TrimRight("    "+l, " "))
		}
		lines = append(lines, "    argument regex: "+d.Source())
	}
	if text := fence(lines); len(text) <= h.cfg.MaxLength {
		return text, nil
	}
	return h.fit(shortLines(picked)), nil
}

// fit drops trailing lines until the fenced text fits, noting how many
// were left out.
func (h *Help) fit(lines []string) string {
	text := fence(lines)
	if len(text) <= h.cfg.MaxLength {
		return text
	}
	for n := len(lines) - 1; n >= 0; n-- {
		kept := append(append([]string(nil), lines[:n]...),
			fmt.Sprintf("... %d more, try help <command>", len(lines)-n))
		if text = fence(kept); len(text) <= h.cfg.MaxLength {
			return text
		}
	}
	return text
}

func shortLines(ds []command.Descriptor) []string {
	lines := make([]string, 0, len(ds))
	for _, d := range ds {
		lines = append(lines, strings.TrimSpace(d.Name+" "+d.Short()))
	}
	return lines
}

func fence(lines []string) string {
	return "```\n" + strings.Join(lines, "\n") + "\n```"
}
