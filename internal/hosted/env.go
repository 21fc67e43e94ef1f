// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hosted

import (
	"slices"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Environment variables understood by a hosted instance.
const (
	// EnvHostedPlugin carries the local path of the plugin under development.
	EnvHostedPlugin = "HOSTED_PLUGIN"
	// EnvPluginDefaults controls which bundled plugins the instance loads.
	EnvPluginDefaults = "HOSTED_PLUGIN_DEFAULTS"
	// PluginDefaultsNone disables every plugin except the hosted one.
	PluginDefaultsNone = "none"
)

// DefaultStripPatterns removes the marker that makes a child boot inside the
// parent's embedded runtime instead of as a standalone process.
var DefaultStripPatterns = []string{"ELECTRON_RUN_AS_NODE"}

// Environment is the immutable environment of a single launch.
type Environment struct {
	entries []string
}

// Entries returns a copy of the KEY=VALUE entries.
func (e Environment) Entries() []string {
	return slices.Clone(e.entries)
}

// Lookup returns the value of key.
func (e Environment) Lookup(key string) (string, bool) {
	for _, kv := range e.entries {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

// EnvironmentBuilder derives launch environments from a base environment.
type EnvironmentBuilder struct {
	strip []glob.Glob
}

// NewEnvironmentBuilder compiles the glob patterns of variables to strip.
func NewEnvironmentBuilder(stripPatterns []string) (*EnvironmentBuilder, error) {
	b := &EnvironmentBuilder{}
	for _, p := range stripPatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, oops.Code("INVALID_CONFIG").With("pattern", p).Wrapf(err, "compile strip-env pattern")
		}
		b.strip = append(b.strip, g)
	}
	return b, nil
}

// Build returns a new Environment for pluginPath. base is read, never modified.
func (b *EnvironmentBuilder) Build(base []string, pluginPath string) Environment {
	entries := make([]string, 0, len(base)+2)
	for _, kv := range base {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		if key == EnvHostedPlugin || key == EnvPluginDefaults || b.stripped(key) {
			continue
		}
		entries = append(entries, kv)
	}
	entries = append(entries,
		EnvHostedPlugin+"="+pluginPath,
		EnvPluginDefaults+"="+PluginDefaultsNone,
	)
	return Environment{entries: entries}
}

func (b *EnvironmentBuilder) stripped(key string) bool {
	for _, g := range b.strip {
		if g.Match(key) {
			return true
		}
	}
	return false
}
