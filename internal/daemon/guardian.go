package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

// GuardianConfig holds guardian daemon configuration.
type GuardianConfig struct {
	SupervisorCheckInterval time.Duration // How often to check the supervisor
	HeartbeatInterval       time.Duration // How often to update heartbeat
	AutostartCheckInterval  time.Duration // How often to check the boot unit
}

// Autostart manages the unit that starts the agent at boot or login.
type Autostart interface {
	Install(execPath string) error
	Update(execPath string) error
	IsInstalled() bool
	NeedsUpdate(execPath string) bool
}

// DefaultGuardianConfig returns default guardian configuration.
func DefaultGuardianConfig() GuardianConfig {
	return GuardianConfig{
		SupervisorCheckInterval: 30 * time.Second,
		HeartbeatInterval:       30 * time.Second,
		AutostartCheckInterval:  60 * time.Second,
	}
}

// Guardian keeps the supervisor alive. It does no enforcement itself.
type Guardian struct {
	config   GuardianConfig
	registry domain.DaemonRegistry
	clock    domain.Clock
	start    StartFunc
	logger   *zap.Logger
	daemon   domain.Daemon

	autostart Autostart
	execPath  string
}

// NewGuardian creates a new guardian daemon.
func NewGuardian(
	config GuardianConfig,
	registry domain.DaemonRegistry,
	clock domain.Clock,
	start StartFunc,
	daemon domain.Daemon,
	logger *zap.Logger,
) *Guardian {
	return &Guardian{
		config:   config,
		registry: registry,
		clock:    clock,
		start:    start,
		daemon:   daemon,
		logger:   logger,
	}
}

// WithAutostart makes the guardian restore the boot unit pointing at
// execPath whenever it goes missing or drifts.
func (g *Guardian) WithAutostart(a Autostart, execPath string) *Guardian {
	g.autostart = a
	g.execPath = execPath
	return g
}

// Run starts the guardian daemon loop.
// This blocks until context is canceled.
func (g *Guardian) Run(ctx context.Context) error {
	if err := g.registry.Register(g.daemon); err != nil {
		g.logger.Error("failed to register guardian", zap.Error(err))
		return err
	}

	g.logger.Info("guardian daemon started",
		zap.Int("pid", g.daemon.PID),
		zap.String("name", g.daemon.Name))

	g.ensureAutostart()

	autostartInterval := g.config.AutostartCheckInterval
	if autostartInterval <= 0 {
		autostartInterval = DefaultGuardianConfig().AutostartCheckInterval
	}
	checkTicker := g.clock.NewTicker(g.config.SupervisorCheckInterval)
	heartbeatTicker := g.clock.NewTicker(g.config.HeartbeatInterval)
	autostartTicker := g.clock.NewTicker(autostartInterval)
	defer func() {
		checkTicker.Stop()
		heartbeatTicker.Stop()
		autostartTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("guardian daemon stopping")
			return ctx.Err()

		case <-checkTicker.C():
			restartPartner(g.registry, domain.RoleGuardian, g.start, g.logger)

		case <-heartbeatTicker.C():
			if err := g.registry.UpdateHeartbeat(domain.RoleGuardian); err != nil {
				g.logger.Warn("failed to update heartbeat", zap.Error(err))
			}

		case <-autostartTicker.C():
			g.ensureAutostart()
		}
	}
}

// ensureAutostart reinstalls the boot unit if it was removed and rewrites
// it if its content no longer matches.
func (g *Guardian) ensureAutostart() {
	if g.autostart == nil {
		return
	}

	if !g.autostart.IsInstalled() {
		g.logger.Info("autostart unit missing, restoring...")
		if err := g.autostart.Install(g.execPath); err != nil {
			g.logger.Error("failed to restore autostart unit", zap.Error(err))
		} else {
			g.logger.Info("autostart unit restored")
		}
	} else if g.autostart.NeedsUpdate(g.execPath) {
		g.logger.Info("autostart unit outdated, updating...")
		if err := g.autostart.Update(g.execPath); err != nil {
			g.logger.Error("failed to update autostart unit", zap.Error(err))
		} else {
			g.logger.Info("autostart unit updated")
		}
	}
}
