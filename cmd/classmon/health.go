package main

import (
	"context"
	"fmt"
	"time"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

// daemonCmdPattern matches the command line bootstrap uses to spawn daemons.
const daemonCmdPattern = "daemon --role"

const backendCheckTimeout = 5 * time.Second

type daemonReport struct {
	SupervisorAlive bool
	GuardianAlive   bool
	// Unregistered holds daemon PIDs found in the process table that the
	// registry does not know about.
	Unregistered []int
}

func (r daemonReport) status() string {
	switch {
	case r.SupervisorAlive && r.GuardianAlive:
		return "RUNNING"
	case r.SupervisorAlive || r.GuardianAlive:
		return "DEGRADED"
	case len(r.Unregistered) > 0:
		return "RUNNING (unregistered)"
	default:
		return "NOT RUNNING"
	}
}

// inspectDaemons checks registered PIDs and, when the registry is missing or
// stale, searches the process table for daemons it lost track of.
func inspectDaemons(pm domain.ProcessManager, entry *domain.RegistryEntry) daemonReport {
	var r daemonReport
	if entry != nil {
		r.SupervisorAlive = pm.IsRunning(entry.SupervisorPID)
		r.GuardianAlive = pm.IsRunning(entry.GuardianPID)
	}
	if r.SupervisorAlive && r.GuardianAlive {
		return r
	}

	pids, err := pm.FindByName(daemonCmdPattern)
	if err != nil {
		return r
	}
	self := pm.GetCurrentPID()
	for _, pid := range pids {
		if pid == self {
			continue
		}
		if entry != nil && (pid == entry.SupervisorPID || pid == entry.GuardianPID) {
			continue
		}
		r.Unregistered = append(r.Unregistered, pid)
	}
	return r
}

// backendStatus reports whether the sync backend answers its health check.
func backendStatus(ctx context.Context, client domain.SyncClient) string {
	ctx, cancel := context.WithTimeout(ctx, backendCheckTimeout)
	defer cancel()
	if err := client.Health(ctx); err != nil {
		return fmt.Sprintf("unreachable (%v)", err)
	}
	return "reachable"
}
