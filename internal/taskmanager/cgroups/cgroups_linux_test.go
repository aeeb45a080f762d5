//go:build linux

package cgroups_test

import (
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/nixpig/jobsearch/internal/taskmanager/cgroups"
)

func TestRealCgroup(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("requires root")
	}

	if err := cgroups.ValidateCgroupRoot(cgroups.DefaultRoot); err != nil {
		t.Skipf("cgroup v2 not available: %v", err)
	}

	cg, err := cgroups.CreateCgroup(
		cgroups.DefaultRoot,
		"lifecycle-test",
		&cgroups.ResourceLimits{MemoryMaxBytes: 64 * 1024 * 1024},
	)
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if cg.FD() == nil {
		t.Fatalf("expected cgroup fd on the real hierarchy")
	}

	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		UseCgroupFD: true,
		CgroupFD:    int(cg.FD().Fd()),
	}

	if err := cmd.Start(); err != nil {
		cg.Destroy()
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	startTime := time.Now()

	if err := cg.Kill(); err != nil {
		t.Errorf("expected not to receive error: got '%v'", err)
	}

	cmd.Wait()

	if time.Since(startTime) >= 30*time.Second {
		t.Errorf("expected kill not to wait for process: took '%v'", time.Since(startTime))
	}

	// The cgroup may take a moment to report empty after its last process exits.
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := cg.Destroy()
		if err == nil {
			break
		}

		if time.Now().After(deadline) {
			t.Fatalf("expected destroy not to return error: got '%v'", err)
		}

		time.Sleep(100 * time.Millisecond)
	}

	if _, err := os.Stat(cg.Path()); !os.IsNotExist(err) {
		t.Errorf("expected cgroup path to be removed: got '%v'", err)
	}
}
