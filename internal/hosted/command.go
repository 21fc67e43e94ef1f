// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hosted

import (
	"os"
	"slices"
	"strconv"

	"github.com/samber/oops"
)

// Configuration variables read by EnvCommandBuilder.
const (
	EnvHostname = "HOSTED_PLUGIN_HOSTNAME"
	EnvPort     = "HOSTED_PLUGIN_PORT"
)

// Defaults used when neither the caller nor the environment supplies a value.
const (
	DefaultHostname = "localhost"
	DefaultPort     = 3030
)

// CommandBuilder decides the port and argument vector of a hosted instance.
type CommandBuilder interface {
	// ResolvePort returns the port to launch on. requested is zero when the
	// caller did not ask for one. A zero result launches without a port.
	ResolvePort(requested int) (int, error)
	// BuildCommand returns the argument vector for port.
	BuildCommand(port int) ([]string, error)
}

// EnvCommandBuilder sources hostname and default port from environment-style
// configuration and falls back to DefaultHostname and DefaultPort.
type EnvCommandBuilder struct {
	// Argv is the command prefix, e.g. the devhost executable and "serve".
	Argv []string
	// Lookup reads configuration values. Defaults to os.LookupEnv.
	Lookup func(key string) (string, bool)
	// Hostname overrides HOSTED_PLUGIN_HOSTNAME when set.
	Hostname string
	// Port overrides HOSTED_PLUGIN_PORT when set.
	Port int
}

func (b *EnvCommandBuilder) lookup(key string) (string, bool) {
	if b.Lookup != nil {
		return b.Lookup(key)
	}
	return os.LookupEnv(key)
}

// ResolvePort implements CommandBuilder.
func (b *EnvCommandBuilder) ResolvePort(requested int) (int, error) {
	if requested != 0 {
		return requested, nil
	}
	if b.Port != 0 {
		return b.Port, nil
	}
	if v, ok := b.lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, oops.Code(CodeInvalidPort).
				With("variable", EnvPort).
				With("value", v).
				Wrap(ErrInvalidPort)
		}
		return port, nil
	}
	return DefaultPort, nil
}

// hostname returns the hostname the instance is told to bind.
func (b *EnvCommandBuilder) hostname() string {
	if b.Hostname != "" {
		return b.Hostname
	}
	if v, ok := b.lookup(EnvHostname); ok && v != "" {
		return v
	}
	return DefaultHostname
}

// BuildCommand implements CommandBuilder.
func (b *EnvCommandBuilder) BuildCommand(port int) ([]string, error) {
	if len(b.Argv) == 0 {
		return nil, oops.Code(CodeSpawnFailed).Wrapf(ErrSpawnFailed, "empty command")
	}
	argv := append(slices.Clone(b.Argv), "--hostname="+b.hostname())
	if port != 0 {
		argv = append(argv, "--port="+strconv.Itoa(port))
	}
	return argv, nil
}

// ExplicitPortCommandBuilder requires the caller to supply the port.
type ExplicitPortCommandBuilder struct {
	Argv []string
}

// ResolvePort implements CommandBuilder.
func (b *ExplicitPortCommandBuilder) ResolvePort(requested int) (int, error) {
	if requested == 0 {
		return 0, oops.Code(CodeInvalidPort).Wrapf(ErrInvalidPort, "a port must be supplied")
	}
	return requested, nil
}

// BuildCommand implements CommandBuilder.
func (b *ExplicitPortCommandBuilder) BuildCommand(port int) ([]string, error) {
	if len(b.Argv) == 0 {
		return nil, oops.Code(CodeSpawnFailed).Wrapf(ErrSpawnFailed, "empty command")
	}
	return append(slices.Clone(b.Argv), "--port="+strconv.Itoa(port)), nil
}
