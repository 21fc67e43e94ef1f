// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/devhost/internal/hosted"
	"github.com/holomush/devhost/internal/logging"
	"github.com/holomush/devhost/internal/observability"
	"github.com/holomush/devhost/internal/plugin"
)

// serveConfig holds configuration for the serve command.
type serveConfig struct {
	hostname  string
	port      int
	logFormat string
	logLevel  string
}

// Validate checks that the configuration is valid.
func (cfg *serveConfig) Validate() error {
	if cfg.hostname == "" {
		return oops.Code("INVALID_CONFIG").Errorf("hostname is required")
	}
	if cfg.port < 0 || cfg.port > 65535 {
		return oops.Code(hosted.CodeInvalidPort).
			With("port", cfg.port).
			Wrapf(hosted.ErrInvalidPort, "port %d out of range (0 = any free port)", cfg.port)
	}
	return nil
}

// NewServeCmd creates the serve subcommand, the hosted instance entry point.
func NewServeCmd() *cobra.Command {
	cfg := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the plugin named by HOSTED_PLUGIN (hosted instance entry point)",
		Long: `Serve the plugin found at $HOSTED_PLUGIN over HTTP: the manifest at /,
health probes and metrics. Prints the readiness line once the listener
is bound. Normally started by "devhost run", not by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.hostname, "hostname", hosted.DefaultHostname, "hostname to bind")
	cmd.Flags().IntVar(&cfg.port, "port", hosted.DefaultPort, "port to bind (0 = any free port)")
	cmd.Flags().StringVar(&cfg.logFormat, "log-format", "json", "log format (json or text)")
	cmd.Flags().StringVar(&cfg.logLevel, "log-level", "info", "log level (debug, info, warn or error)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg *serveConfig) error {
	if err := cfg.Validate(); err != nil {
		return oops.Wrapf(err, "invalid configuration")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := logging.New(logging.Options{
		Component: "instance",
		Version:   version,
		Format:    cfg.logFormat,
		Level:     cfg.logLevel,
		Writer:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	location := os.Getenv(hosted.EnvHostedPlugin)
	if location == "" {
		return oops.Code("NO_PLUGIN").Errorf("%s is not set", hosted.EnvHostedPlugin)
	}
	manifest, err := plugin.Read(location)
	if err != nil {
		return oops.Wrapf(err, "failed to load plugin")
	}
	name := pluginName(location, manifest)
	logger = logger.With("plugin", name)
	if err := checkManifest(location, manifest); err != nil {
		logger.Warn("plugin manifest is incomplete", "error", err)
	}
	logger.Info("plugin loaded",
		"location", location,
		"version", manifest.Version,
		"defaults", os.Getenv(hosted.EnvPluginDefaults))

	server := observability.NewServer(
		net.JoinHostPort(cfg.hostname, strconv.Itoa(cfg.port)),
		func() bool { return true },
		observability.WithLogger(logger),
		observability.WithHandler("GET /{$}", manifestHandler(manifest)),
	)
	errCh, err := server.Start()
	if err != nil {
		return oops.Wrapf(err, "failed to bind hosted instance")
	}
	defer stopServer(server, logger)

	fmt.Fprintf(cmd.OutOrStdout(), "devhost listening on http://%s. [] plugin=%s\n", server.Addr(), name)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		return nil
	case err, ok := <-errCh:
		if ok && err != nil {
			return oops.Wrapf(err, "hosted instance server failed")
		}
		return nil
	}
}

// pluginName is the manifest name, or the plugin directory name when the manifest has none.
func pluginName(location string, m *plugin.Manifest) string {
	if m.Name != "" {
		return m.Name
	}
	if dir, ok := plugin.LocalPath(location); ok {
		return filepath.Base(dir)
	}
	return location
}

// checkManifest applies the rules of validate --strict.
func checkManifest(location string, m *plugin.Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	dir, _ := plugin.LocalPath(location)
	return m.CheckEntries(dir)
}

func manifestHandler(m *plugin.Manifest) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck // client may disconnect
		json.NewEncoder(w).Encode(m)
	})
}
