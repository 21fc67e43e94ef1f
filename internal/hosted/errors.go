// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hosted

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Error codes attached to every error the supervisor returns.
const (
	CodeAlreadyRunning      = "ALREADY_RUNNING"
	CodeUnsupportedLocation = "UNSUPPORTED_LOCATION"
	CodeInvalidPort         = "INVALID_PORT"
	CodePortInUse           = "PORT_IN_USE"
	CodeStartupTimeout      = "STARTUP_TIMEOUT"
	CodeUnreachableEndpoint = "UNREACHABLE_ENDPOINT"
	CodeNotRunning          = "NOT_RUNNING"
	CodeChildExited         = "CHILD_EXITED"
	CodeTerminated          = "TERMINATED"
	CodeTerminating         = "TERMINATING"
	CodeSpawnFailed         = "SPAWN_FAILED"
	CodeSignalFailed        = "SIGNAL_FAILED"
)

// Sentinel errors for programmatic error checking.
var (
	ErrAlreadyRunning      = errors.New("hosted instance is already running")
	ErrUnsupportedLocation = errors.New("only local plugin locations are supported")
	ErrInvalidPort         = errors.New("port must be between 1 and 65535")
	ErrPortInUse           = errors.New("port is already in use")
	ErrStartupTimeout      = errors.New("hosted instance did not report readiness in time")
	ErrUnreachableEndpoint = errors.New("hosted instance endpoint is unreachable")
	ErrNotRunning          = errors.New("hosted instance is not running")
	ErrChildExited         = errors.New("hosted instance exited before it was ready")
	ErrTerminated          = errors.New("hosted instance was terminated during startup")
	ErrTerminating         = errors.New("hosted instance is already terminating")
	ErrSpawnFailed         = errors.New("failed to start hosted instance")
)

// ExitError describes how a hosted instance process ended.
// It unwraps to ErrChildExited.
type ExitError struct {
	Code   int
	Signal string
}

func (e *ExitError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("%v: killed by signal %s", ErrChildExited, e.Signal)
	}
	return fmt.Sprintf("%v: exit code %d", ErrChildExited, e.Code)
}

func (e *ExitError) Unwrap() error {
	return ErrChildExited
}

// newExitError builds an ExitError from a finished process state.
func newExitError(state *os.ProcessState) *ExitError {
	if state == nil {
		return &ExitError{Code: -1}
	}
	exit := &ExitError{Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		exit.Signal = ws.Signal().String()
	}
	return exit
}
