package cmd

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nicebartender/edi/console"
	"github.com/nicebartender/edi/session"
)

func newConsoleCmd(opts *options) *cobra.Command {
	var botName string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Talk to the units from the terminal instead of Slack",
		Long: `Run every unit against a local console. Each line you type arrives as a
message in #console; address the bot as "@edi command args". Ctrl-D quits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}

			var copts []console.Option
			if botName != "" {
				copts = append(copts, console.WithBot(botName))
			}
			if in := cmd.InOrStdin(); in != os.Stdin {
				copts = append(copts, console.WithIO(&scanReader{s: bufio.NewScanner(in)}, cmd.OutOrStdout()))
			}

			return runWithSignals(cmd.Context(), cfg, cmd.ErrOrStderr(), func(*slog.Logger) session.DialFunc {
				return func(ctx context.Context) (session.Connection, error) {
					conn, err := console.Dial(ctx, copts...)
					if err != nil {
						return nil, err
					}
					return conn, nil
				}
			}, false)
		},
	}
	cmd.Flags().StringVar(&botName, "name", "", "name the bot answers to (default edi)")
	return cmd
}

// scanReader feeds the console from a plain reader such as a script.
type scanReader struct {
	s *bufio.Scanner
}

func (r *scanReader) Readline() (string, error) {
	if r.s.Scan() {
		return r.s.Text(), nil
	}
	if err := r.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (r *scanReader) Close() error { return nil }
