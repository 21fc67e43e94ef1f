// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads devhost settings from flag defaults, an optional YAML
// file and explicitly set flags, in that order of precedence.
package config

import (
	"os"
	"time"

	"github.com/gobwas/glob"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/devhost/internal/hosted"
	"github.com/holomush/devhost/internal/xdg"
)

// Config keys, shared by flags and the YAML file.
const (
	KeyHostname         = "hostname"
	KeyPort             = "port"
	KeyStartupTimeout   = "startup-timeout"
	KeyProbeAttempts    = "probe-attempts"
	KeyProbeInterval    = "probe-interval"
	KeyPortRecheckDelay = "port-recheck-delay"
	KeyStripEnv         = "strip-env"
	KeyCommand          = "command"
	KeyLogFormat        = "log-format"
	KeyLogLevel         = "log-level"
	KeyMetricsAddr      = "metrics-addr"
)

// Default values for settings without a hosted package default.
const (
	DefaultLogFormat = "text"
	DefaultLogLevel  = "info"
)

// Config holds the supervisor settings.
type Config struct {
	Hostname         string        `koanf:"hostname" yaml:"hostname"`
	Port             int           `koanf:"port" yaml:"port"`
	StartupTimeout   time.Duration `koanf:"startup-timeout" yaml:"startup-timeout"`
	ProbeAttempts    uint64        `koanf:"probe-attempts" yaml:"probe-attempts"`
	ProbeInterval    time.Duration `koanf:"probe-interval" yaml:"probe-interval"`
	PortRecheckDelay time.Duration `koanf:"port-recheck-delay" yaml:"port-recheck-delay"`
	StripEnv         []string      `koanf:"strip-env" yaml:"strip-env"`
	// Command overrides the hosted instance argv prefix. Empty means "this executable, serve".
	Command     []string `koanf:"command" yaml:"command,omitempty"`
	LogFormat   string   `koanf:"log-format" yaml:"log-format"`
	LogLevel    string   `koanf:"log-level" yaml:"log-level"`
	MetricsAddr string   `koanf:"metrics-addr" yaml:"metrics-addr,omitempty"`
}

// RegisterFlags defines every config key as a flag on fs, with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(KeyHostname, "", "hostname the hosted instance binds (empty = HOSTED_PLUGIN_HOSTNAME or localhost)")
	fs.Int(KeyPort, 0, "port the hosted instance binds (0 = HOSTED_PLUGIN_PORT or 3030)")
	fs.Duration(KeyStartupTimeout, hosted.DefaultStartupTimeout, "how long to wait for the readiness line")
	fs.Uint64(KeyProbeAttempts, hosted.DefaultProbeAttempts, "HTTP readiness probe attempts")
	fs.Duration(KeyProbeInterval, hosted.DefaultProbeInterval, "pause between readiness probe attempts")
	fs.Duration(KeyPortRecheckDelay, hosted.DefaultPortRecheckDelay, "pause before re-checking a busy port")
	fs.StringSlice(KeyStripEnv, hosted.DefaultStripPatterns, "glob patterns of inherited variables to remove")
	fs.StringSlice(KeyCommand, nil, "hosted instance command prefix (default: this executable with serve)")
	fs.String(KeyLogFormat, DefaultLogFormat, "log format (json or text)")
	fs.String(KeyLogLevel, DefaultLogLevel, "log level (debug, info, warn or error)")
	fs.String(KeyMetricsAddr, "", "metrics/health HTTP address (empty = disabled)")
}

// Load merges flag defaults, the config file and changed flags from fs.
// An empty path means the XDG default file, which may be absent.
func Load(flags *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	if path = resolvePath(path); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("INVALID_CONFIG").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return nil, oops.Code("INVALID_CONFIG").Wrapf(err, "failed to read flags")
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("INVALID_CONFIG").Wrapf(err, "failed to decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolvePath returns path, or the XDG default file if it exists, or "".
func resolvePath(path string) string {
	if path != "" {
		return path
	}
	def, err := xdg.ConfigFile()
	if err != nil {
		return ""
	}
	if _, err := os.Stat(def); err != nil {
		return ""
	}
	return def
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(key string, value any, format string, args ...any) error {
		return oops.Code("INVALID_CONFIG").With("key", key).With("value", value).Errorf(format, args...)
	}

	if c.Port < 0 || c.Port > 65535 {
		return oops.Code(hosted.CodeInvalidPort).
			With("key", KeyPort).
			With("value", c.Port).
			Wrapf(hosted.ErrInvalidPort, "port %d out of range (0 leaves the choice to the instance)", c.Port)
	}
	if c.StartupTimeout <= 0 {
		return invalid(KeyStartupTimeout, c.StartupTimeout, "startup-timeout must be positive")
	}
	if c.ProbeAttempts == 0 {
		return invalid(KeyProbeAttempts, c.ProbeAttempts, "probe-attempts must be at least 1")
	}
	if c.ProbeInterval < 0 {
		return invalid(KeyProbeInterval, c.ProbeInterval, "probe-interval cannot be negative")
	}
	if c.PortRecheckDelay < 0 {
		return invalid(KeyPortRecheckDelay, c.PortRecheckDelay, "port-recheck-delay cannot be negative")
	}
	for _, p := range c.StripEnv {
		if _, err := glob.Compile(p); err != nil {
			return invalid(KeyStripEnv, p, "invalid pattern %q: %v", p, err)
		}
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return invalid(KeyLogFormat, c.LogFormat, "log-format must be 'json' or 'text', got %q", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid(KeyLogLevel, c.LogLevel, "log-level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// SupervisorOptions translates the configuration into supervisor options.
func (c *Config) SupervisorOptions() []hosted.Option {
	return []hosted.Option{
		hosted.WithStartupTimeout(c.StartupTimeout),
		hosted.WithProbe(c.ProbeAttempts, c.ProbeInterval),
		hosted.WithPortRecheckDelay(c.PortRecheckDelay),
		hosted.WithStripEnv(c.StripEnv),
	}
}
