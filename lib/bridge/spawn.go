// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// process is a running agent, abstracted so tests can run the agent
// in-process instead of forking a binary.
type process interface {
	// Done resolves once when the process exits; a non-nil value
	// carries the exit failure.
	Done() <-chan error

	// Kill forcibly terminates the process. Safe after exit.
	Kill() error
}

// spawnFunc starts the agent. The default forks the agent binary;
// tests substitute an in-process implementation.
type spawnFunc func(ctx context.Context, binary, socketPath, driver, exitReportPath string) (process, error)

// execProcess wraps a forked agent binary.
type execProcess struct {
	cmd  *exec.Cmd
	done chan error
}

func (p *execProcess) Done() <-chan error { return p.done }

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}

// spawnExec forks the agent binary. The agent's stderr is inherited
// so its structured log lands next to the host's.
func spawnExec(ctx context.Context, binary, socketPath, driver, exitReportPath string) (process, error) {
	args := []string{"--socket", socketPath}
	if driver != "" {
		args = append(args, "--driver", driver)
	}
	if exitReportPath != "" {
		args = append(args, "--exit-report", exitReportPath)
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting agent %s: %w", binary, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	return &execProcess{cmd: cmd, done: done}, nil
}
