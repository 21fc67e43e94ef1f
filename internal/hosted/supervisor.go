// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package hosted launches and supervises a hosted instance: a separate child
// process running a second copy of the platform with one plugin under
// development loaded, reachable over HTTP on the loopback network.
package hosted

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/devhost/internal/plugin"
)

// DefaultStartupTimeout bounds the wait for the readiness line.
const DefaultStartupTimeout = 30 * time.Second

// LaunchRequest describes one hosted instance launch.
type LaunchRequest struct {
	// Location is a local path or file:// URL of the plugin.
	Location string
	// Port is the requested port; zero lets the CommandBuilder decide.
	Port int
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithPostProcessors appends endpoint post-processors, applied in the order given.
func WithPostProcessors(processors ...EndpointPostProcessor) Option {
	return func(s *Supervisor) {
		s.postProcessors = append(s.postProcessors, processors...)
	}
}

// WithStartupTimeout sets how long to wait for the readiness line.
func WithStartupTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.startupTimeout = d
	}
}

// WithProbe sets the readiness probe attempt budget and the pause between attempts.
func WithProbe(attempts uint64, interval time.Duration) Option {
	return func(s *Supervisor) {
		s.probeAttempts = attempts
		s.probeInterval = interval
	}
}

// WithHTTPClient sets the client used by the readiness probe.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Supervisor) {
		s.httpClient = c
	}
}

// WithPortRecheckDelay sets the pause before re-probing a busy port.
func WithPortRecheckDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		s.recheckDelay = d
	}
}

// WithStripEnv sets the glob patterns of inherited variables removed from the child environment.
func WithStripEnv(patterns []string) Option {
	return func(s *Supervisor) {
		s.stripPatterns = patterns
	}
}

// WithBaseEnv sets the source of the environment the child inherits.
func WithBaseEnv(fn func() []string) Option {
	return func(s *Supervisor) {
		s.baseEnv = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// WithMetrics enables prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// WithChildLister replaces the process tree source.
func WithChildLister(l ChildLister) Option {
	return func(s *Supervisor) {
		s.lister = l
	}
}

// WithSignaller replaces the signal delivery mechanism.
func WithSignaller(sig Signaller) Option {
	return func(s *Supervisor) {
		s.signaller = sig
	}
}

// Supervisor owns at most one hosted instance at a time.
type Supervisor struct {
	builder        CommandBuilder
	postProcessors []EndpointPostProcessor
	startupTimeout time.Duration
	probeAttempts  uint64
	probeInterval  time.Duration
	recheckDelay   time.Duration
	stripPatterns  []string
	httpClient     *http.Client
	baseEnv        func() []string
	lister         ChildLister
	signaller      Signaller
	logger         *slog.Logger
	metrics        *Metrics
	tracer         trace.Tracer

	env    *EnvironmentBuilder
	ports  *PortChecker
	prober *Prober
	tree   *ProcessTree

	mu      sync.Mutex
	state   State
	current *instance
}

// instance is the process handle of one launch.
type instance struct {
	id   ulid.ULID
	path string

	// pid and endpoint are guarded by Supervisor.mu.
	pid      int32
	endpoint *url.URL

	// exit is written before exited is closed.
	exit   *ExitError
	exited chan struct{}

	// abort is closed by Terminate.
	abort chan struct{}
}

func (i *instance) wasAborted() bool {
	select {
	case <-i.abort:
		return true
	default:
		return false
	}
}

func (i *instance) hasExited() bool {
	select {
	case <-i.exited:
		return true
	default:
		return false
	}
}

// NewSupervisor creates a supervisor that launches instances with builder.
// Panics if builder is nil.
func NewSupervisor(builder CommandBuilder, opts ...Option) (*Supervisor, error) {
	if builder == nil {
		panic("hosted: command builder cannot be nil")
	}

	s := &Supervisor{
		builder:        builder,
		startupTimeout: DefaultStartupTimeout,
		probeAttempts:  DefaultProbeAttempts,
		probeInterval:  DefaultProbeInterval,
		recheckDelay:   DefaultPortRecheckDelay,
		stripPatterns:  DefaultStripPatterns,
		baseEnv:        os.Environ,
		lister:         SystemProcesses{},
		signaller:      SystemProcesses{},
		logger:         slog.Default(),
		tracer:         otel.Tracer("github.com/holomush/devhost/internal/hosted"),
	}
	for _, opt := range opts {
		opt(s)
	}

	env, err := NewEnvironmentBuilder(s.stripPatterns)
	if err != nil {
		return nil, err
	}
	s.env = env
	s.ports = NewPortChecker(s.recheckDelay)
	s.prober = NewProber(s.probeAttempts, s.probeInterval)
	if s.httpClient != nil {
		s.prober.Client = s.httpClient
	}
	s.tree = NewProcessTree(s.lister)
	s.metrics.setState(StateIdle)

	return s, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether an instance is starting, running or terminating.
func (s *Supervisor) IsRunning() bool {
	return s.State().Active()
}

// IsPluginValid reports whether location holds a plugin a hosted instance can load.
func (s *Supervisor) IsPluginValid(location string) bool {
	return plugin.IsValid(location)
}

// InstanceURI returns the endpoint of the running instance.
func (s *Supervisor) InstanceURI() (*url.URL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.endpoint == nil {
		return nil, oops.Code(CodeNotRunning).With("state", s.state.String()).Wrap(ErrNotRunning)
	}
	return cloneURL(s.current.endpoint), nil
}

// Run launches a hosted instance for the plugin at req.Location and returns
// its endpoint once the instance answers HTTP.
func (s *Supervisor) Run(ctx context.Context, req LaunchRequest) (*url.URL, error) {
	ctx, span := s.tracer.Start(ctx, "hosted.Run", trace.WithAttributes(
		attribute.String("plugin.location", req.Location),
		attribute.Int("port", req.Port),
	))
	defer span.End()

	started := time.Now()
	endpoint, err := s.run(ctx, req)
	s.metrics.observeLaunch(err, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return endpoint, nil
}

func (s *Supervisor) run(ctx context.Context, req LaunchRequest) (*url.URL, error) {
	inst, err := s.begin(req.Location)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("instance", inst.id.String(), "plugin", inst.path)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-inst.abort:
			cancel()
		case <-runCtx.Done():
		}
	}()

	endpoint, err := s.launch(runCtx, inst, req.Port, logger)
	if err != nil {
		if inst.wasAborted() && !errors.Is(err, ErrTerminated) {
			err = oops.Code(CodeTerminated).With("cause", err.Error()).Wrap(ErrTerminated)
		}
		s.release(inst)
		logger.Warn("hosted instance launch failed", "error", err)
		return nil, err
	}

	logger.Info("hosted instance ready", "endpoint", endpoint.String())
	return cloneURL(endpoint), nil
}

// begin moves Idle -> Starting and installs a fresh instance.
func (s *Supervisor) begin(location string) (*instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Active() {
		return nil, oops.Code(CodeAlreadyRunning).With("state", s.state.String()).Wrap(ErrAlreadyRunning)
	}

	path, ok := plugin.LocalPath(location)
	if !ok {
		return nil, oops.Code(CodeUnsupportedLocation).With("location", location).Wrap(ErrUnsupportedLocation)
	}

	inst := &instance{
		id:     ulid.Make(),
		path:   path,
		exited: make(chan struct{}),
		abort:  make(chan struct{}),
	}
	s.current = inst
	s.setState(StateStarting)
	return inst, nil
}

func (s *Supervisor) launch(ctx context.Context, inst *instance, requestedPort int, logger *slog.Logger) (*url.URL, error) {
	port, err := s.builder.ResolvePort(requestedPort)
	if err != nil {
		return nil, err
	}
	if port != 0 {
		if err := s.ports.Validate(ctx, port); err != nil {
			return nil, err
		}
	}

	argv, err := s.builder.BuildCommand(port)
	if err != nil {
		return nil, err
	}
	env := s.env.Build(s.baseEnv(), inst.path)

	ready, err := s.spawn(inst, argv, env, logger)
	if err != nil {
		return nil, err
	}

	addr, err := s.awaitReady(ctx, inst, ready, logger)
	if err != nil {
		return nil, err
	}

	return s.confirm(ctx, inst, addr, logger)
}

func (s *Supervisor) spawn(inst *instance, argv []string, env Environment, logger *slog.Logger) (<-chan string, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, oops.Code(CodeSpawnFailed).With("argv", argv).Wrap(errors.Join(ErrSpawnFailed, err))
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, oops.Code(CodeSpawnFailed).With("argv", argv).Wrap(errors.Join(ErrSpawnFailed, err))
	}

	cmd := exec.Command(argv[0], argv[1:]...) // #nosec G204 -- argv comes from the configured command builder
	cmd.Env = env.Entries()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startErr := cmd.Start()
	// The child holds its own copies of the write ends.
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if startErr != nil {
		_ = stdoutR.Close()
		_ = stderrR.Close()
		return nil, oops.Code(CodeSpawnFailed).With("argv", argv).Wrap(errors.Join(ErrSpawnFailed, startErr))
	}

	ready := make(chan string, 1)
	go pumpLines(stdoutR, logger, "stdout", ready)
	go pumpLines(stderrR, logger, "stderr", nil)
	go s.wait(inst, cmd, logger)

	pid := int32(cmd.Process.Pid) //nolint:gosec // pids fit in int32 on every supported platform
	if !s.attach(inst, pid) {
		s.kill(inst, logger)
		return nil, oops.Code(CodeTerminated).With("pid", pid).Wrap(ErrTerminated)
	}

	logger.Info("hosted instance spawned", "pid", pid, "argv", argv)
	return ready, nil
}

// attach records the pid unless Terminate already aborted the launch.
func (s *Supervisor) attach(inst *instance, pid int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst.pid = pid
	return !inst.wasAborted()
}

func (s *Supervisor) wait(inst *instance, cmd *exec.Cmd, logger *slog.Logger) {
	waitErr := cmd.Wait()
	inst.exit = newExitError(cmd.ProcessState)
	close(inst.exited)

	logger.Info("hosted instance exited",
		"exit_code", inst.exit.Code,
		"signal", inst.exit.Signal,
		"error", waitErr)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == inst && s.state == StateRunning {
		s.current = nil
		s.setState(StateIdle)
	}
}

func (s *Supervisor) awaitReady(ctx context.Context, inst *instance, ready <-chan string, logger *slog.Logger) (string, error) {
	timer := time.NewTimer(s.startupTimeout)
	defer timer.Stop()

	select {
	case addr := <-ready:
		s.mu.Lock()
		if s.current == inst && s.state == StateStarting {
			s.setState(StateRunning)
		}
		s.mu.Unlock()
		return addr, nil
	case <-inst.exited:
		return "", exitedError(inst)
	case <-timer.C:
		s.kill(inst, logger)
		return "", oops.Code(CodeStartupTimeout).
			With("timeout", s.startupTimeout.String()).
			Wrap(ErrStartupTimeout)
	case <-ctx.Done():
		if !inst.wasAborted() {
			s.kill(inst, logger)
		}
		return "", oops.Wrap(ctx.Err())
	}
}

// confirm post-processes the reported address and waits for it to answer.
func (s *Supervisor) confirm(ctx context.Context, inst *instance, addr string, logger *slog.Logger) (*url.URL, error) {
	endpoint, err := url.Parse(addr)
	if err != nil || endpoint.Host == "" {
		s.kill(inst, logger)
		return nil, oops.Code(CodeUnreachableEndpoint).
			With("address", addr).
			Wrapf(ErrUnreachableEndpoint, "reported address is not a URL")
	}

	endpoint, err = applyPostProcessors(ctx, endpoint, s.postProcessors)
	if err != nil {
		s.kill(inst, logger)
		return nil, err
	}

	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-inst.exited:
			cancel()
		case <-probeCtx.Done():
		}
	}()

	if err := s.prober.Probe(probeCtx, endpoint); err != nil {
		if inst.hasExited() {
			return nil, exitedError(inst)
		}
		if !inst.wasAborted() {
			s.kill(inst, logger)
		}
		return nil, err
	}

	if !s.publish(inst, endpoint) {
		if inst.hasExited() {
			return nil, exitedError(inst)
		}
		return nil, oops.Code(CodeTerminated).Wrap(ErrTerminated)
	}
	return endpoint, nil
}

// publish caches the endpoint if inst is still the live instance.
func (s *Supervisor) publish(inst *instance, endpoint *url.URL) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != inst || s.state != StateRunning || inst.hasExited() {
		return false
	}
	inst.endpoint = endpoint
	return true
}

// release returns to Idle if inst is still the live instance.
func (s *Supervisor) release(inst *instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == inst {
		s.current = nil
		s.setState(StateIdle)
	}
}

// Wait blocks until the current instance process exits or ctx is done.
// It returns the exit as a CHILD_EXITED error wrapping *ExitError.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	inst := s.current
	s.mu.Unlock()
	if inst == nil {
		return oops.Code(CodeNotRunning).Wrap(ErrNotRunning)
	}

	select {
	case <-inst.exited:
		return exitedError(inst)
	case <-ctx.Done():
		return oops.Wrap(ctx.Err())
	}
}

// Terminate signals the hosted instance and every process it spawned, then
// returns to Idle. It does not wait for the processes to exit.
func (s *Supervisor) Terminate(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "hosted.Terminate")
	defer span.End()

	err := s.terminate(ctx)
	s.metrics.observeTerminate(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Supervisor) terminate(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return oops.Code(CodeNotRunning).Wrap(ErrNotRunning)
	case StateTerminating:
		s.mu.Unlock()
		return oops.Code(CodeTerminating).Wrap(ErrTerminating)
	}
	inst := s.current
	s.setState(StateTerminating)
	close(inst.abort)
	pid := inst.pid
	s.mu.Unlock()

	logger := s.logger.With("instance", inst.id.String(), "plugin", inst.path)

	var err error
	if pid != 0 {
		err = s.signalTree(ctx, pid, syscall.SIGTERM)
	}

	s.release(inst)

	if err != nil {
		return oops.Code(CodeSignalFailed).With("pid", pid).Wrap(err)
	}
	logger.Info("hosted instance terminated", "pid", pid)
	return nil
}

// kill force-stops the process tree of inst after a failed launch.
func (s *Supervisor) kill(inst *instance, logger *slog.Logger) {
	s.mu.Lock()
	pid := inst.pid
	s.mu.Unlock()
	if pid == 0 || inst.hasExited() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.signalTree(ctx, pid, syscall.SIGKILL); err != nil {
		logger.Warn("failed to kill hosted instance", "pid", pid, "error", err)
	}
}

// signalTree sends sig to every descendant of root and to root, in one batch.
func (s *Supervisor) signalTree(ctx context.Context, root int32, sig syscall.Signal) error {
	descendants, err := s.tree.Descendants(ctx, root)
	if err != nil {
		s.logger.Debug("process tree incomplete", "pid", root, "error", err)
	}
	pids := append(descendants, root)
	return s.signaller.Signal(ctx, pids, sig)
}

// setState must be called with s.mu held.
func (s *Supervisor) setState(next State) {
	if s.state != next {
		s.logger.Debug("supervisor state change", "from", s.state.String(), "to", next.String())
	}
	s.state = next
	s.metrics.setState(next)
}

func exitedError(inst *instance) error {
	return oops.Code(CodeChildExited).
		With("exit_code", inst.exit.Code).
		With("signal", inst.exit.Signal).
		Wrap(inst.exit)
}
