// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/devhost/internal/config"
	"github.com/holomush/devhost/internal/hosted"
	"github.com/holomush/devhost/internal/logging"
	"github.com/holomush/devhost/internal/observability"
	"github.com/holomush/devhost/pkg/errutil"
)

// shutdownTimeout bounds terminate and server shutdown on exit.
const shutdownTimeout = 5 * time.Second

// Launcher is the part of hosted.Supervisor the run command drives.
type Launcher interface {
	IsPluginValid(location string) bool
	IsRunning() bool
	Run(ctx context.Context, req hosted.LaunchRequest) (*url.URL, error)
	Wait(ctx context.Context) error
	Terminate(ctx context.Context) error
}

// RunDeps contains injectable dependencies for the run command.
// All fields with nil values will use their default implementations.
type RunDeps struct {
	// LauncherFactory creates the supervisor.
	// Default: hosted.NewSupervisor
	LauncherFactory func(builder hosted.CommandBuilder, opts ...hosted.Option) (Launcher, error)

	// Executable returns the path of the running binary.
	// Default: os.Executable
	Executable func() (string, error)

	// ObservabilityServerFactory creates the metrics/health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker) *observability.Server
}

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <plugin-dir>",
		Short: "Launch a hosted instance with the plugin loaded",
		Long: `Launch a hosted instance for the plugin at <plugin-dir> (a path or file:// URL),
wait until it answers HTTP, print its endpoint, and terminate the whole
process tree on SIGINT or SIGTERM.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithDeps(cmd.Context(), cmd, args[0], nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runWithDeps runs the supervisor with injectable dependencies.
// If deps is nil, default implementations are used.
func runWithDeps(ctx context.Context, cmd *cobra.Command, location string, deps *RunDeps) error {
	if deps == nil {
		deps = &RunDeps{}
	}
	if deps.LauncherFactory == nil {
		deps.LauncherFactory = func(builder hosted.CommandBuilder, opts ...hosted.Option) (Launcher, error) {
			return hosted.NewSupervisor(builder, opts...)
		}
	}
	if deps.Executable == nil {
		deps.Executable = os.Executable
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) *observability.Server {
			return observability.NewServer(addr, ready)
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(cmd.Flags(), configFile)
	if err != nil {
		return oops.Wrapf(err, "invalid configuration")
	}

	logger, err := logging.New(logging.Options{
		Component: "supervisor",
		Version:   version,
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Writer:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	argv := cfg.Command
	if len(argv) == 0 {
		exe, err := deps.Executable()
		if err != nil {
			return oops.Wrapf(err, "failed to locate devhost executable")
		}
		argv = []string{exe, "serve"}
	}
	builder := &hosted.EnvCommandBuilder{Argv: argv, Hostname: cfg.Hostname}

	opts := append(cfg.SupervisorOptions(),
		hosted.WithLogger(logger),
		hosted.WithPostProcessors(hosted.RewriteUnspecifiedHost(hosted.DefaultHostname)),
	)

	var launcher Launcher
	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, func() bool {
			return launcher != nil && launcher.IsRunning()
		})
		opts = append(opts, hosted.WithMetrics(hosted.NewMetrics(obsServer.Registry())))
	}

	launcher, err = deps.LauncherFactory(builder, opts...)
	if err != nil {
		return oops.Wrapf(err, "failed to create supervisor")
	}

	if !launcher.IsPluginValid(location) {
		return oops.Code("INVALID_PLUGIN").
			With("location", location).
			Errorf("%s is not a plugin: package.json must declare a theiaPlugin frontend or backend", location)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Wrapf(err, "failed to start observability server")
		}
		defer stopServer(obsServer, logger)
		go func() {
			if err, ok := <-obsErrCh; ok && err != nil {
				logger.Error("observability server failed", "error", err)
			}
		}()
	}

	endpoint, err := launcher.Run(ctx, hosted.LaunchRequest{Location: location, Port: cfg.Port})
	if err != nil {
		errutil.LogError(logger, "hosted instance failed to start", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Hosted instance running at %s\n", endpoint)

	waitErr := launcher.Wait(ctx)
	if ctx.Err() == nil {
		// The instance went away on its own.
		errutil.LogError(logger, "hosted instance exited", waitErr)
		if errors.Is(waitErr, hosted.ErrNotRunning) {
			return nil
		}
		return waitErr
	}

	logger.Info("received shutdown signal, terminating hosted instance")
	termCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := launcher.Terminate(termCtx); err != nil && !errors.Is(err, hosted.ErrNotRunning) {
		errutil.LogError(logger, "failed to terminate hosted instance", err)
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Hosted instance terminated")
	return nil
}

func stopServer(s *observability.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}
