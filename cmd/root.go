// Package cmd wires the configuration, the units and a connection into a
// running bot.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nicebartender/edi/command"
	"github.com/nicebartender/edi/config"
	"github.com/nicebartender/edi/dispatch"
	"github.com/nicebartender/edi/metrics"
	"github.com/nicebartender/edi/plugin"
	"github.com/nicebartender/edi/rtm"
	"github.com/nicebartender/edi/session"
	"github.com/nicebartender/edi/tracing"
	"github.com/nicebartender/edi/units"
)

var version = "dev"

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) { version = v }

// options are the persistent flags shared by every subcommand.
type options struct {
	configFile string
	debug      bool
	logFile    string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "edi",
		Short: "A Slack bot built from small units",
		Long: `edi connects to Slack over the RTM API, routes "@edi command args"
messages to unit commands, and hands every event to every live unit.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireToken(); err != nil {
				return err
			}
			return runWithSignals(cmd.Context(), cfg, cmd.OutOrStdout(), func(logger *slog.Logger) session.DialFunc {
				return slackDial(rtm.NewClient(cfg.Token, rtm.WithLogger(logger)))
			}, true)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", config.DefaultPath, "config file")
	root.PersistentFlags().BoolVarP(&opts.debug, "debug", "D", false, "debug logging")
	root.PersistentFlags().StringVar(&opts.logFile, "log", "", "also append logs to this file")
	root.Flags().BoolP("version", "V", false, "print the version and exit")

	root.AddCommand(
		newConsoleCmd(opts),
		newCommandsCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// load reads the configuration file and environment, then applies flags
// the user actually set.
func (o *options) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = o.debug
	}
	if cmd.Flags().Changed("log") {
		cfg.Log = o.logFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the root logger writing to w, plus the log file when
// configured.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, func() error, error) {
	closeFn := func() error { return nil }
	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(w, f)
		closeFn = f.Close
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level, AddSource: cfg.Debug})
	return slog.New(handler), closeFn, nil
}

func runWithSignals(parent context.Context, cfg *config.Config, w io.Writer, dial func(*slog.Logger) session.DialFunc, reconnect bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, closeLog, err := newLogger(cfg, w)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	err = run(ctx, cfg, logger, dial(logger), reconnect)
	if err != nil {
		logger.Error("edi stopped", "err", err)
	}
	return err
}

// build assembles the command table, the unit registry and the dispatcher.
func build(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*command.Registry, *plugin.Registry, *dispatch.Dispatcher, error) {
	commands := command.NewRegistry(logger)
	registry, err := plugin.NewRegistry(logger, units.Factories(commands)...)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := registry.RegisterCommands(commands); err != nil {
		return nil, nil, nil, err
	}

	dispatcher := dispatch.New(commands,
		dispatch.WithLogger(logger),
		dispatch.WithIgnoreChannels(cfg.IgnoreChannels...),
		dispatch.WithDisabledCommands(cfg.DisabledCommands...),
		dispatch.WithMetrics(m),
		dispatch.WithTracer(tracing.Tracer("dispatch")),
	)
	return commands, registry, dispatcher, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, dial session.DialFunc, reconnect bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	provider, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("tracing shutdown", "err", err)
		}
	}()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	commands, registry, dispatcher, err := build(cfg, logger, m)
	if err != nil {
		return err
	}

	sup := session.New(dial, registry, commands, dispatcher,
		session.WithLogger(logger),
		session.WithMetrics(m),
		session.WithDisabledUnits(cfg.DisabledUnits...),
		session.WithSections(cfg.Sections()),
		session.WithBackoff(cfg.Reconnect.Initial, cfg.Reconnect.Max, cfg.Reconnect.Multiplier),
		session.WithStopTimeout(cfg.StopTimeout),
		session.WithReconnect(reconnect),
	)

	logger.Info("edi starting", "version", version, "units", len(registry.Factories()), "commands", len(commands.All()))
	return sup.Run(ctx)
}

func slackDial(client *rtm.Client) session.DialFunc {
	return func(ctx context.Context) (session.Connection, error) {
		conn, err := client.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
