package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nicebartender/edi/command"
)

func newCommandsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "commands [name...]",
		Short: "List the commands the bundled units declare",
		Long: `List every command with its one-line summary. Given names, print the
full description and argument pattern of each.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			commands, _, _, err := build(cfg, logger, nil)
			if err != nil {
				return err
			}
			return printCommands(cmd.OutOrStdout(), commands.All(), args)
		},
	}
}

func printCommands(w io.Writer, all []command.Descriptor, names []string) error {
	if len(names) == 0 {
		for _, d := range all {
			if _, err := fmt.Fprintln(w, strings.TrimSpace(d.Name+" "+d.Short())); err != nil {
				return err
			}
		}
		return nil
	}

	for i := range names {
		names[i] = strings.ToLower(names[i])
	}
	found := 0
	for _, d := range all {
		if !slices.Contains(names, d.Name) {
			continue
		}
		found++
		fmt.Fprintf(w, "%s:\n", d.Name)
		for _, line := range d.Detail() {
			fmt.Fprintln(w, strings.TrimRight("    "+line, " "))
		}
		fmt.Fprintf(w, "    argument regex: %s\n", d.Source())
	}
	if found == 0 {
		return fmt.Errorf("no matching commands: %s", strings.Join(names, ", "))
	}
	return nil
}
