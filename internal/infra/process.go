// Package infra implements infrastructure concerns (storage, processes, probes, transport).
package infra

import (
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindByName returns PIDs whose process name or command line contains
// pattern, ignoring case. Daemons are started under a --name flag, so the
// command line is searched as well.
func (pm *ProcessManagerImpl) FindByName(pattern string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(pattern)
	var found []int
	for _, p := range procs {
		if name, err := p.Name(); err == nil && strings.Contains(strings.ToLower(name), needle) {
			found = append(found, int(p.Pid))
			continue
		}
		if cmdline, err := p.Cmdline(); err == nil && strings.Contains(strings.ToLower(cmdline), needle) {
			found = append(found, int(p.Pid))
		}
	}
	return found, nil
}

// IsRunning checks if a PID exists.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
