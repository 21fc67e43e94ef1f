// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hosted

import "fmt"

// State is the lifecycle state of a Supervisor.
type State int

// Supervisor states.
const (
	// StateIdle means no hosted instance exists.
	StateIdle State = iota
	// StateStarting means the process was spawned and the readiness line has not been seen.
	StateStarting
	// StateRunning means the readiness line was seen.
	StateRunning
	// StateTerminating means the process tree is being signalled.
	StateTerminating
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Active reports whether a hosted instance occupies the supervisor.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning || s == StateTerminating
}
