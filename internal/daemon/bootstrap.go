package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
	"github.com/eliteGoblin/focusd/class_mon/internal/infra"
)

// StartDaemon spawns a detached daemon from the running executable.
func StartDaemon(role domain.DaemonRole) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	return StartDaemonWithPath(executable, role)
}

// StartDaemonWithPath spawns a detached daemon for role from binaryPath
// under a generated service-like name.
func StartDaemonWithPath(binaryPath string, role domain.DaemonRole) error {
	cmd := daemonCommand(binaryPath, role, infra.NewDaemonNamer().GenerateName(role))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", role, err)
	}
	// Reap in the background; the child outlives us in its own session.
	go func() { _ = cmd.Wait() }()
	return nil
}

// daemonCommand builds the hidden self-exec:
// classmon daemon --role supervisor --name powerd.worker.a1b2c3
func daemonCommand(binaryPath string, role domain.DaemonRole, name string) *exec.Cmd {
	cmd := exec.Command(binaryPath, "daemon",
		"--role", string(role),
		"--name", name)

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // new session, no controlling terminal
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd
}

// StartBothDaemons starts the supervisor, then the guardian.
func StartBothDaemons() error {
	if err := StartDaemon(domain.RoleSupervisor); err != nil {
		return err
	}
	return StartDaemon(domain.RoleGuardian)
}

// SetProcessName overwrites argv[0]. Most platforms keep showing the
// executable name in ps, so this only changes what the process reports
// about itself.
func SetProcessName(name string) {
	if len(os.Args) > 0 {
		os.Args[0] = name
	}
}
