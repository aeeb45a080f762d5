//go:build !linux

package taskmanager

import (
	"errors"
	"os"
	"os/exec"

	"github.com/nixpig/jobsearch/internal/taskmanager/cgroups"
)

// configureProcess is a no-op: process groups and cgroups are Linux only.
func configureProcess(*exec.Cmd, *cgroups.Cgroup) {}

// killProcessGroup can only kill the worker itself on this platform.
func killProcessGroup(cmd *exec.Cmd) error {
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}

	return nil
}
