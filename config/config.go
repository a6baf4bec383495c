// Package config loads the bot configuration: built-in defaults, then the
// YAML file, then EDI_* environment variables. Command-line flags are applied
// by the caller on top of the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nicebartender/edi/errs"
	"github.com/nicebartender/edi/plugin"
	"github.com/nicebartender/edi/tracing"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "config.yaml"

// Reconnect holds the redial backoff policy.
type Reconnect struct {
	Initial    time.Duration `mapstructure:"initial" yaml:"initial"`
	Max        time.Duration `mapstructure:"max" yaml:"max"`
	Multiplier float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// Config is the merged configuration for one run.
type Config struct {
	Token            string         `mapstructure:"token" yaml:"token" env:"EDI_TOKEN"`
	Debug            bool           `mapstructure:"debug" yaml:"debug" env:"EDI_DEBUG"`
	Log              string         `mapstructure:"log" yaml:"log" env:"EDI_LOG"`
	DisabledUnits    []string       `mapstructure:"disabled_units" yaml:"disabled_units"`
	DisabledCommands []string       `mapstructure:"disabled_commands" yaml:"disabled_commands"`
	IgnoreChannels   []string       `mapstructure:"ignore_channels" yaml:"ignore_channels"`
	Reconnect        Reconnect      `mapstructure:"reconnect" yaml:"reconnect"`
	StopTimeout      time.Duration  `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	MetricsAddr      string         `mapstructure:"metrics_addr" yaml:"metrics_addr" env:"EDI_METRICS_ADDR"`
	Tracing          tracing.Config `mapstructure:"tracing" yaml:"tracing"`

	v *viper.Viper
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DisabledUnits:    []string{},
		DisabledCommands: []string{},
		IgnoreChannels:   []string{},
		Reconnect: Reconnect{
			Initial:    time.Second,
			Max:        2 * time.Minute,
			Multiplier: 2,
		},
		StopTimeout: 10 * time.Second,
		Tracing:     tracing.DefaultConfig(),
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("token", d.Token)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("log", d.Log)
	v.SetDefault("disabled_units", d.DisabledUnits)
	v.SetDefault("disabled_commands", d.DisabledCommands)
	v.SetDefault("ignore_channels", d.IgnoreChannels)
	v.SetDefault("reconnect.initial", d.Reconnect.Initial)
	v.SetDefault("reconnect.max", d.Reconnect.Max)
	v.SetDefault("reconnect.multiplier", d.Reconnect.Multiplier)
	v.SetDefault("stop_timeout", d.StopTimeout)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error; the defaults and environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, errs.Invalid(fmt.Errorf("%w: read %s: %w", errs.ErrInvalidConfig, path, err), "config", "load")
			}
		}
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errs.Invalid(fmt.Errorf("%w: decode %s: %w", errs.ErrInvalidConfig, path, err), "config", "load")
	}
	if err := env.Parse(cfg); err != nil {
		return nil, errs.Invalid(fmt.Errorf("%w: environment: %w", errs.ErrInvalidConfig, err), "config", "load")
	}
	return cfg, nil
}

// Validate checks the values every connection needs.
func (c *Config) Validate() error {
	var problems []string
	if c.Reconnect.Initial <= 0 {
		problems = append(problems, "reconnect.initial must be positive")
	}
	if c.Reconnect.Max < c.Reconnect.Initial {
		problems = append(problems, "reconnect.max must not be below reconnect.initial")
	}
	if c.Reconnect.Multiplier < 1 {
		problems = append(problems, "reconnect.multiplier must be at least 1")
	}
	if c.StopTimeout <= 0 {
		problems = append(problems, "stop_timeout must be positive")
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		problems = append(problems, fmt.Sprintf("tracing.exporter %q is not one of none, stdout, otlp", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		problems = append(problems, "tracing.sample_rate must be between 0 and 1")
	}
	if len(problems) > 0 {
		return errs.Invalid(fmt.Errorf("%w: %s", errs.ErrInvalidConfig, strings.Join(problems, "; ")), "config", "validate")
	}
	return nil
}

// RequireToken reports a missing Slack token.
func (c *Config) RequireToken() error {
	if strings.TrimSpace(c.Token) == "" {
		return errs.Invalid(fmt.Errorf("%w: token (set it in the config file or EDI_TOKEN)", errs.ErrMissingConfig), "config", "validate")
	}
	return nil
}

// Section returns the named unit table. An absent table decodes to nothing,
// leaving the unit's own defaults in place.
func (c *Config) Section(name string) plugin.Section {
	var sub *viper.Viper
	if c.v != nil {
		sub = c.v.Sub(strings.ToLower(name))
	}
	return Section{name: name, v: sub}
}

// Sections adapts Section for session.WithSections.
func (c *Config) Sections() func(unit string) plugin.Section {
	return c.Section
}

// Section wraps one unit's sub-tree.
type Section struct {
	name string
	v    *viper.Viper
}

// Decode fills out from the table. Keys missing from the file keep the
// values already in out.
func (s Section) Decode(out any) error {
	if s.v == nil {
		return nil
	}
	if err := s.v.Unmarshal(out); err != nil {
		return errs.Invalid(fmt.Errorf("%w: %s: %w", errs.ErrInvalidConfig, s.name, err), "config", "section")
	}
	return nil
}

var comments = map[string]string{
	"token":             "Slack bot token (xoxb-...). EDI_TOKEN overrides it.",
	"debug":             "Debug logging with source locations.",
	"log":               "Also append log output to this file.",
	"disabled_units":    "Units that are never started.",
	"disabled_commands": "Commands that answer with a disabled notice.",
	"ignore_channels":   "Channels whose events are dropped.",
	"reconnect":         "Redial backoff after a dropped connection.",
	"stop_timeout":      "How long units get to stop on shutdown.",
	"metrics_addr":      "Serve /metrics and /health here, e.g. :9090. Empty disables.",
	"tracing":           "OpenTelemetry export: none, stdout or otlp.",
}

// WriteDefault writes a commented configuration file holding the defaults
// and one table per unit. sections maps unit names to their default values.
func WriteDefault(path string, sections map[string]any) error {
	doc, err := defaultDocument(sections)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func defaultDocument(sections map[string]any) (*yaml.Node, error) {
	root := &yaml.Node{}
	if err := root.Encode(Default()); err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	root.HeadComment = "edi configuration"
	for i := 0; i+1 < len(root.Content); i += 2 {
		if c, ok := comments[root.Content[i].Value]; ok {
			root.Content[i].HeadComment = c
		}
	}

	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}
		if i == 0 {
			key.HeadComment = "Unit settings"
		}
		value := &yaml.Node{}
		if err := value.Encode(sections[name]); err != nil {
			return nil, fmt.Errorf("render %s: %w", name, err)
		}
		root.Content = append(root.Content, key, value)
	}
	return root, nil
}
