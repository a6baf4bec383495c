// Package units holds the behaviours bundled with the bot.
package units

import (
	"github.com/nicebartender/edi/command"
	"github.com/nicebartender/edi/plugin"
)

// Lister exposes the commands bound to the current session.
type Lister interface {
	Live() []command.Descriptor
}

// Factories lists every unit compiled into the binary. help reads the live
// command table from commands.
func Factories(commands Lister) []plugin.Factory {
	return []plugin.Factory{
		ChatLogFactory(),
		HelpFactory(commands),
		QuotesFactory(),
		TimelineFactory(),
	}
}

// Defaults returns each unit's default settings keyed by its table name.
func Defaults() map[string]any {
	return map[string]any{
		"chatlog":  defaultChatLogConfig(),
		"help":     defaultHelpConfig(),
		"quotes":   defaultQuotesConfig(),
		"timeline": defaultTimelineConfig(),
	}
}

func decode(section plugin.Section, out any) error {
	if section == nil {
		return nil
	}
	return section.Decode(out)
}
