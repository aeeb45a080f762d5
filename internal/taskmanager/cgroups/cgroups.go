// Package cgroups places worker processes in a cgroup v2 with CPU, memory and
// IO limits.
package cgroups

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// DefaultRoot is where the unified cgroup hierarchy is mounted.
	DefaultRoot = "/sys/fs/cgroup"

	cpuPeriodMicros = 100000
	procMountinfo   = "/proc/self/mountinfo"
	namePrefix      = "jobsearch-"
)

// ResourceLimits are applied to a Cgroup on creation. Zero values mean no
// limit.
type ResourceLimits struct {
	CPUMaxPercent  int64
	MemoryMaxBytes int64
	IOMaxBPS       int64
}

// IsZero reports whether no limit is set.
func (l *ResourceLimits) IsZero() bool {
	return l == nil ||
		(l.CPUMaxPercent <= 0 && l.MemoryMaxBytes <= 0 && l.IOMaxBPS <= 0)
}

type Cgroup struct {
	name string
	path string
	fd   *os.File
}

// CreateCgroup creates a child cgroup of root for the task name and applies
// limits. When root is the real hierarchy, the cgroup directory is held open
// so that a process can be started directly inside it (see FD).
func CreateCgroup(root, name string, limits *ResourceLimits) (*Cgroup, error) {
	cg := &Cgroup{
		name: name,
		path: filepath.Join(root, namePrefix+name),
	}

	if err := os.MkdirAll(cg.path, 0755); err != nil {
		return nil, fmt.Errorf("make cgroup dir: %w", err)
	}

	if !limits.IsZero() {
		if err := cg.applyLimits(limits); err != nil {
			os.RemoveAll(cg.path)
			return nil, fmt.Errorf("apply cgroup limits: %w", err)
		}
	}

	if isRealCgroupRoot(root) {
		fd, err := os.Open(cg.path)
		if err != nil {
			os.RemoveAll(cg.path)
			return nil, fmt.Errorf("open cgroup dir: %w", err)
		}

		cg.fd = fd
	}

	return cg, nil
}

func (c *Cgroup) applyLimits(limits *ResourceLimits) error {
	if limits.CPUMaxPercent > 0 {
		if err := c.setCPULimit(limits.CPUMaxPercent); err != nil {
			return fmt.Errorf("set CPU max limit: %w", err)
		}
	}

	if limits.MemoryMaxBytes > 0 {
		if err := c.setMemoryLimit(limits.MemoryMaxBytes); err != nil {
			return fmt.Errorf("set memory max limit: %w", err)
		}
	}

	if limits.IOMaxBPS > 0 {
		if err := c.setIOLimit(limits.IOMaxBPS); err != nil {
			return fmt.Errorf("set I/O max limit: %w", err)
		}
	}

	return nil
}

func (c *Cgroup) setCPULimit(percent int64) error {
	quota := (percent * cpuPeriodMicros) / 100
	value := fmt.Sprintf("%d %d", quota, cpuPeriodMicros)

	return c.write("cpu.max", value)
}

func (c *Cgroup) setMemoryLimit(bytes int64) error {
	return c.write("memory.max", strconv.FormatInt(bytes, 10))
}

func (c *Cgroup) setIOLimit(bps int64) error {
	deviceID, err := detectRootDevice()
	if err != nil {
		return fmt.Errorf("detect root device: %w", err)
	}

	return c.write("io.max", fmt.Sprintf("%s rbps=%d wbps=%d", deviceID, bps, bps))
}

// Join moves the process pid into the cgroup. It's the fallback when the
// process could not be started inside the cgroup.
func (c *Cgroup) Join(pid int) error {
	if err := c.write("cgroup.procs", strconv.Itoa(pid)); err != nil {
		return fmt.Errorf("add process to cgroup: %w", err)
	}

	return nil
}

// Kill sends SIGKILL to every process in the cgroup, including any the worker
// spawned itself.
func (c *Cgroup) Kill() error {
	if err := c.write("cgroup.kill", "1"); err != nil {
		return fmt.Errorf("kill cgroup: %w", err)
	}

	return nil
}

// Destroy releases the cgroup directory handle and removes the cgroup.
func (c *Cgroup) Destroy() error {
	closeErr := c.close()

	// The kernel refuses to remove a populated cgroup, so this fails until
	// every process in it has exited.
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		// Fake hierarchies (tests) leave the interface files behind.
		if rmErr := os.RemoveAll(c.path); rmErr != nil {
			return errors.Join(closeErr, fmt.Errorf("remove cgroup: %w", err))
		}
	}

	return closeErr
}

func (c *Cgroup) close() error {
	if c.fd != nil {
		err := c.fd.Close()

		c.fd = nil

		if err != nil {
			return fmt.Errorf("close cgroup fd: %w", err)
		}
	}

	return nil
}

func (c *Cgroup) write(file, value string) error {
	path := filepath.Join(c.path, file)

	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}

	return nil
}

// FD returns the open cgroup directory, or nil when the cgroup is not on the
// real hierarchy.
func (c *Cgroup) FD() *os.File {
	return c.fd
}

func (c *Cgroup) Name() string {
	return c.name
}

func (c *Cgroup) Path() string {
	return c.path
}

func detectRootDevice() (string, error) {
	mountinfo, err := os.ReadFile(procMountinfo)
	if err != nil {
		return "", fmt.Errorf("read mountinfo: %w", err)
	}

	for line := range strings.SplitSeq(string(mountinfo), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}

		if fields[4] == "/" {
			return fields[2], nil
		}
	}

	return "", fmt.Errorf("detect root device in %s", procMountinfo)
}

func isRealCgroupRoot(root string) bool {
	return filepath.Clean(root) == DefaultRoot
}

// ValidateCgroupRoot checks that root looks like a cgroup v2 hierarchy.
func ValidateCgroupRoot(root string) error {
	controllersPath := filepath.Join(root, "cgroup.controllers")
	if _, err := os.Stat(controllersPath); err != nil {
		return fmt.Errorf("cgroup root not valid at %s: %w", root, err)
	}

	return nil
}
