// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hosted

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/shirou/gopsutil/v4/process"
)

// ChildLister lists the direct children of a process.
type ChildLister interface {
	Children(ctx context.Context, pid int32) ([]int32, error)
}

// Signaller delivers a signal to a batch of processes.
type Signaller interface {
	Signal(ctx context.Context, pids []int32, sig syscall.Signal) error
}

// SystemProcesses lists and signals real OS processes through gopsutil.
type SystemProcesses struct{}

var (
	_ ChildLister = SystemProcesses{}
	_ Signaller   = SystemProcesses{}
)

// Children implements ChildLister.
func (SystemProcesses) Children(ctx context.Context, pid int32) ([]int32, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, err
	}
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		if errors.Is(err, process.ErrorNoChildren) {
			return nil, nil
		}
		return nil, err
	}
	pids := make([]int32, 0, len(children))
	for _, c := range children {
		pids = append(pids, c.Pid)
	}
	return pids, nil
}

// Signal implements Signaller. Processes that are already gone are skipped.
func (SystemProcesses) Signal(ctx context.Context, pids []int32, sig syscall.Signal) error {
	var errs []error
	for _, pid := range pids {
		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			if errors.Is(err, process.ErrorProcessNotRunning) {
				continue
			}
			errs = append(errs, fmt.Errorf("pid %d: %w", pid, err))
			continue
		}
		if err := p.SendSignalWithContext(ctx, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
			errs = append(errs, fmt.Errorf("pid %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// ProcessTree walks a process and everything it spawned, transitively.
type ProcessTree struct {
	lister ChildLister
}

// NewProcessTree creates a tree walker backed by lister.
func NewProcessTree(lister ChildLister) *ProcessTree {
	return &ProcessTree{lister: lister}
}

// Descendants returns every process below root, breadth first, excluding root.
// Subtrees that cannot be listed are skipped and reported in the returned error.
func (t *ProcessTree) Descendants(ctx context.Context, root int32) ([]int32, error) {
	var (
		result []int32
		errs   []error
	)
	seen := map[int32]bool{root: true}
	queue := []int32{root}

	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]

		children, err := t.lister.Children(ctx, pid)
		if err != nil {
			errs = append(errs, fmt.Errorf("list children of %d: %w", pid, err))
			continue
		}
		for _, child := range children {
			if seen[child] {
				continue
			}
			seen[child] = true
			result = append(result, child)
			queue = append(queue, child)
		}
	}
	return result, errors.Join(errs...)
}
