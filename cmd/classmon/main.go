// Package main is the CLI entry point for classmon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/class_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
	"github.com/eliteGoblin/focusd/class_mon/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "classmon",
	Short: "Class-hours supervision agent",
	Long: `classmon keeps a student device on task during class hours.
It blocks apps that are not allow-listed while a class schedule is active,
locks the device down when its permissions are revoked or its protections
are tampered with, and reports to the school backend.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start supervision (launches supervisor and guardian daemons)",
	Long: `Starts both the supervisor and guardian daemons.
The supervisor classifies foreground apps, polls permissions and syncs
with the backend. The guardian restarts the supervisor if it is killed,
and the supervisor does the same for the guardian.`,
	RunE: runStart,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, schedule and lockdown status",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

// Hidden daemon command - used for self-exec when spawning daemons
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	RunE:   runDaemon,
}

var (
	daemonRole  string
	daemonName  string
	jsonOutput  bool
	dataDirFlag string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Override the data directory")
	daemonCmd.Flags().StringVar(&daemonRole, "role", "", "Daemon role (supervisor/guardian)")
	daemonCmd.Flags().StringVar(&daemonName, "name", "", "Process name")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Execution mode: %s\n", a.mode.Mode)

	entry, _ := a.store.GetAll()
	if entry != nil && a.pm.IsRunning(entry.SupervisorPID) && a.pm.IsRunning(entry.GuardianPID) {
		fmt.Println("classmon is already running")
		return nil
	}

	if err := daemon.StartBothDaemons(); err != nil {
		return fmt.Errorf("failed to start daemons: %w", err)
	}

	autostart := infra.NewSystemdAutostart(a.mode)
	if execPath, err := os.Executable(); err == nil && !autostart.IsInstalled() {
		if err := autostart.Install(execPath); err != nil {
			fmt.Printf("Warning: autostart not enabled: %v\n", err)
		}
	}

	// Wait a moment for daemons to register
	time.Sleep(500 * time.Millisecond)

	fmt.Println("\n=== classmon Started ===")
	fmt.Printf("Data dir: %s\n", a.cfg.DataDir)
	fmt.Printf("Log: %s\n", a.cfg.LogPath)
	if a.cfg.EventSource != "" {
		fmt.Printf("Events: %s\n", a.cfg.EventSource)
	} else {
		fmt.Printf("Events: none configured (set event_source, e.g. %s)\n", a.mode.EventsPath)
	}
	if !a.prefs.ServiceEnabled() {
		fmt.Println("\nClass-time blocking is disabled. Run 'classmon service enable'.")
	}
	if _, ok, err := a.prefs.Baseline(); err == nil && !ok {
		fmt.Println("No permission baseline yet. Run 'classmon baseline' once all permissions are granted.")
	}
	fmt.Println("========================")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	now := a.clock.Now()

	fmt.Println("\n=== classmon Status ===")

	entry, err := a.store.GetAll()
	if err != nil {
		entry = nil
	}
	report := inspectDaemons(a.pm, entry)
	fmt.Printf("Daemons: %s\n", report.status())
	if report.SupervisorAlive != report.GuardianAlive {
		if !report.SupervisorAlive {
			fmt.Println("         Supervisor is down (will be restarted by guardian)")
		}
		if !report.GuardianAlive {
			fmt.Println("         Guardian is down (will be restarted by supervisor)")
		}
	}
	if len(report.Unregistered) > 0 {
		fmt.Printf("         Unregistered daemon PIDs: %v\n", report.Unregistered)
	}
	if entry != nil && entry.LastHeartbeat > 0 {
		fmt.Printf("Last heartbeat: %s ago\n", now.Sub(time.Unix(entry.LastHeartbeat, 0)).Round(time.Second))
	}

	fmt.Printf("\nService enabled: %t\n", a.prefs.ServiceEnabled())
	fmt.Printf("Web sync: %t\n", a.prefs.WebSyncEnabled())
	if a.prefs.WebSyncEnabled() {
		fmt.Printf("Backend: %s\n", backendStatus(context.Background(), infra.NewHTTPSyncClient(a.serverURL())))
	}

	tc := classifyNow(a, now)
	fmt.Printf("Schedule: %s", tc.Status)
	switch {
	case tc.InClassTime && tc.InRecess:
		fmt.Print(" (recess)")
	case tc.InClassTime:
		fmt.Print(" (class time)")
	}
	fmt.Println()
	if label := tc.NextUnblockLabel(); label != "" {
		fmt.Printf("Next unblock: %s\n", label)
	}

	state := a.machine.State()
	fmt.Printf("\nLockdown: %s\n", state.Mode)
	if state.Active() {
		fmt.Printf("  Reason: %s\n", state.Reason)
		fmt.Printf("  Origin: %s\n", state.Origin)
		if state.Mode == domain.LockdownTemporary {
			fmt.Printf("  Remaining: %ds (%d min)\n", state.RemainingSeconds(now), state.RemainingMinutes(now))
		}
	}
	fmt.Printf("Penalty count: %d\n", state.PenaltyCount)

	if baseline, ok, err := a.prefs.Baseline(); err != nil {
		fmt.Printf("\nPermission baseline: unreadable (%v)\n", err)
	} else if ok {
		fmt.Println("\nPermission baseline:")
		for _, c := range domain.AllCapabilities {
			fmt.Printf("  %-24s %t\n", c.Label(), baseline.Get(c))
		}
	} else {
		fmt.Println("\nPermission baseline: not recorded")
	}

	if s := a.prefs.Student(); s.LoggedIn() {
		fmt.Printf("\nStudent: %s (%s)\n", s.Name, s.RUT)
	} else {
		fmt.Println("\nStudent: not logged in")
	}
	fmt.Println("=======================")
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if daemonRole == "" || daemonName == "" {
		return fmt.Errorf("--role and --name are required")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	daemon.SetProcessName(daemonName)

	role := domain.DaemonRole(daemonRole)
	d := domain.Daemon{
		PID:        a.pm.GetCurrentPID(),
		Role:       role,
		Name:       daemonName,
		StartedAt:  time.Now(),
		AppVersion: Version,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	switch role {
	case domain.RoleSupervisor:
		var source daemon.EventSource
		if a.cfg.EventSource != "" {
			source = infra.NewPathEventSource(a.cfg.EventSource, a.clock.Now, logger)
		} else {
			logger.Warn("no event source configured, foreground classification is idle")
		}
		supervisor := daemon.NewSupervisor(
			daemon.SupervisorConfig{
				PermissionPollInterval: a.cfg.PermissionPoll,
				HeartbeatInterval:      a.cfg.RegistryHeartbeat,
				PartnerCheckInterval:   a.cfg.GuardianCheck,
				EventBuffer:            daemon.DefaultSupervisorConfig().EventBuffer,
			},
			source,
			a.enforcer,
			a.syncer,
			a.store,
			a.clock,
			daemon.StartDaemon,
			d,
			logger,
		)
		return supervisor.Run(ctx)

	case domain.RoleGuardian:
		guardian := daemon.NewGuardian(
			daemon.GuardianConfig{
				SupervisorCheckInterval: a.cfg.GuardianCheck,
				HeartbeatInterval:       a.cfg.RegistryHeartbeat,
				AutostartCheckInterval:  a.cfg.AutostartCheck,
			},
			a.store,
			a.clock,
			daemon.StartDaemon,
			d,
			logger,
		)
		if execPath, err := os.Executable(); err == nil {
			guardian.WithAutostart(infra.NewSystemdAutostart(a.mode), execPath)
		} else {
			logger.Warn("autostart protection disabled", zap.Error(err))
		}
		return guardian.Run(ctx)

	default:
		return fmt.Errorf("unknown role: %s", role)
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("classmon %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
