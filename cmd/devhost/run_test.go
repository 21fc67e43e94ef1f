// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/devhost/internal/hosted"
	"github.com/holomush/devhost/internal/observability"
	"github.com/holomush/devhost/pkg/errutil"
)

type fakeLauncher struct {
	valid      bool
	endpoint   string
	runErr     error
	waitFn     func(ctx context.Context) error
	terminated bool
	ran        bool
	request    hosted.LaunchRequest
}

func (f *fakeLauncher) IsPluginValid(string) bool { return f.valid }

func (f *fakeLauncher) IsRunning() bool { return f.ran && !f.terminated }

func (f *fakeLauncher) Run(_ context.Context, req hosted.LaunchRequest) (*url.URL, error) {
	f.ran = true
	f.request = req
	if f.runErr != nil {
		return nil, f.runErr
	}
	return url.Parse(f.endpoint)
}

func (f *fakeLauncher) Wait(ctx context.Context) error {
	if f.waitFn != nil {
		return f.waitFn(ctx)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeLauncher) Terminate(context.Context) error {
	f.terminated = true
	return nil
}

type runFixture struct {
	launcher *fakeLauncher
	builder  hosted.CommandBuilder
	deps     *RunDeps
	out      *bytes.Buffer
	cmd      *cobra.Command
}

func newRunFixture(t *testing.T, args ...string) *runFixture {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(hosted.EnvHostname, "")
	configFile = ""

	f := &runFixture{
		launcher: &fakeLauncher{valid: true, endpoint: "http://localhost:3030"},
		out:      new(bytes.Buffer),
		cmd:      NewRunCmd(),
	}
	f.deps = &RunDeps{
		LauncherFactory: func(builder hosted.CommandBuilder, _ ...hosted.Option) (Launcher, error) {
			f.builder = builder
			return f.launcher, nil
		},
		Executable: func() (string, error) { return "/opt/devhost/bin/devhost", nil },
	}
	f.cmd.SetOut(f.out)
	f.cmd.SetErr(io.Discard)
	require.NoError(t, f.cmd.ParseFlags(args))
	return f
}

func (f *runFixture) run(ctx context.Context) error {
	return runWithDeps(ctx, f.cmd, "/work/hello-plugin", f.deps)
}

func TestRun_TerminatesOnShutdown(t *testing.T) {
	f := newRunFixture(t, "--port=4040")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.launcher.waitFn = func(waitCtx context.Context) error {
		cancel()
		<-waitCtx.Done()
		return waitCtx.Err()
	}

	require.NoError(t, f.run(ctx))

	assert.True(t, f.launcher.terminated)
	assert.Equal(t, hosted.LaunchRequest{Location: "/work/hello-plugin", Port: 4040}, f.launcher.request)
	assert.Contains(t, f.out.String(), "Hosted instance running at http://localhost:3030")
	assert.Contains(t, f.out.String(), "Hosted instance terminated")
}

func TestRun_DefaultCommandIsServe(t *testing.T) {
	f := newRunFixture(t, "--hostname=127.0.0.1")
	f.launcher.waitFn = func(context.Context) error {
		return oops.Code(hosted.CodeNotRunning).Wrap(hosted.ErrNotRunning)
	}

	require.NoError(t, f.run(context.Background()))

	argv, err := f.builder.BuildCommand(3030)
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/devhost/bin/devhost", "serve", "--hostname=127.0.0.1", "--port=3030"}, argv)
}

func TestRun_CommandOverride(t *testing.T) {
	f := newRunFixture(t, "--command=node,lib/backend/main.js")
	f.launcher.waitFn = func(context.Context) error {
		return oops.Code(hosted.CodeNotRunning).Wrap(hosted.ErrNotRunning)
	}

	require.NoError(t, f.run(context.Background()))

	argv, err := f.builder.BuildCommand(5000)
	require.NoError(t, err)
	assert.Equal(t, []string{"node", "lib/backend/main.js", "--hostname=localhost", "--port=5000"}, argv)
}

func TestRun_InstanceExitsOnItsOwn(t *testing.T) {
	f := newRunFixture(t)
	exitErr := oops.Code(hosted.CodeChildExited).Wrap(&hosted.ExitError{Code: 1})
	f.launcher.waitFn = func(context.Context) error { return exitErr }

	err := f.run(context.Background())

	errutil.AssertCodedSentinel(t, err, hosted.ErrChildExited, hosted.CodeChildExited)
	assert.False(t, f.launcher.terminated)
}

func TestRun_InvalidPlugin(t *testing.T) {
	f := newRunFixture(t)
	f.launcher.valid = false

	err := f.run(context.Background())

	errutil.AssertErrorCode(t, err, "INVALID_PLUGIN")
	assert.False(t, f.launcher.ran)
}

func TestRun_LaunchFailure(t *testing.T) {
	f := newRunFixture(t)
	f.launcher.runErr = oops.Code(hosted.CodePortInUse).Wrap(hosted.ErrPortInUse)

	err := f.run(context.Background())

	assert.ErrorIs(t, err, hosted.ErrPortInUse)
	assert.NotContains(t, f.out.String(), "Hosted instance running")
}

func TestRun_InvalidConfiguration(t *testing.T) {
	f := newRunFixture(t, "--log-format=xml")

	err := f.run(context.Background())

	errutil.AssertErrorCode(t, err, "INVALID_CONFIG")
	assert.False(t, f.launcher.ran)
}

func TestRun_ConfigFile(t *testing.T) {
	f := newRunFixture(t)
	path := filepath.Join(t.TempDir(), "devhost.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 6060\n"), 0o600))
	configFile = path
	t.Cleanup(func() { configFile = "" })
	f.launcher.waitFn = func(context.Context) error { return errors.New("gone") }

	_ = f.run(context.Background())

	assert.Equal(t, 6060, f.launcher.request.Port)
}

func TestRun_MetricsServer(t *testing.T) {
	f := newRunFixture(t, "--metrics-addr=127.0.0.1:0")
	var server *observability.Server
	f.deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) *observability.Server {
		server = observability.NewServer(addr, ready)
		return server
	}

	var metricsBody, readiness string
	f.launcher.waitFn = func(context.Context) error {
		resp, err := http.Get("http://" + server.Addr() + "/metrics") //nolint:noctx // test
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		metricsBody = string(body)

		resp, err = http.Get("http://" + server.Addr() + "/healthz/readiness") //nolint:noctx // test
		require.NoError(t, err)
		body, _ = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		readiness = string(body)
		return errors.New("gone")
	}

	_ = f.run(context.Background())

	require.NotNil(t, server)
	assert.Contains(t, metricsBody, "devhost_supervisor_state")
	assert.Equal(t, "ok\n", readiness)
}
