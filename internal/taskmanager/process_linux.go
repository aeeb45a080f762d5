//go:build linux

package taskmanager

import (
	"errors"
	"os/exec"
	"syscall"

	"github.com/nixpig/jobsearch/internal/taskmanager/cgroups"
)

// configureProcess starts the worker as the leader of a new process group
// and, when cg is on the real hierarchy, directly inside cg.
func configureProcess(cmd *exec.Cmd, cg *cgroups.Cgroup) {
	attr := &syscall.SysProcAttr{Setpgid: true}

	if cg != nil && cg.FD() != nil {
		attr.UseCgroupFD = true
		attr.CgroupFD = int(cg.FD().Fd())
	}

	cmd.SysProcAttr = attr
}

// killProcessGroup sends SIGKILL to the worker and everything it spawned
// that is still in its process group.
func killProcessGroup(cmd *exec.Cmd) error {
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil &&
		!errors.Is(err, syscall.ESRCH) {
		return err
	}

	return nil
}
