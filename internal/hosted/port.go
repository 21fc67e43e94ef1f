// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hosted

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/samber/oops"
)

// DefaultPortRecheckDelay is the pause before the single availability re-probe.
const DefaultPortRecheckDelay = time.Second

// PortChecker validates a requested port before the instance is spawned.
//
// The check binds and releases a listener, so another process can still take
// the port before the hosted instance binds it.
type PortChecker struct {
	RecheckDelay time.Duration
	probe        func(port int) error
}

// NewPortChecker creates a checker that re-probes once after recheckDelay.
func NewPortChecker(recheckDelay time.Duration) *PortChecker {
	return &PortChecker{RecheckDelay: recheckDelay, probe: probePort}
}

// ValidatePortRange rejects ports outside [1, 65535].
func ValidatePortRange(port int) error {
	if port < 1 || port > 65535 {
		return oops.Code(CodeInvalidPort).With("port", port).Wrap(ErrInvalidPort)
	}
	return nil
}

// Validate checks the port range, then probes availability, retrying exactly once.
func (c *PortChecker) Validate(ctx context.Context, port int) error {
	if err := ValidatePortRange(port); err != nil {
		return err
	}

	if c.probe(port) == nil {
		return nil
	}

	timer := time.NewTimer(c.RecheckDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return oops.With("port", port).Wrap(ctx.Err())
	}

	if err := c.probe(port); err != nil {
		return oops.Code(CodePortInUse).
			With("port", port).
			Wrap(fmt.Errorf("%w: %w", ErrPortInUse, err))
	}
	return nil
}

// probePort binds a throwaway listener on all interfaces.
func probePort(port int) error {
	l, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	return l.Close()
}
