// Package daemon implements the supervisor and guardian daemons.
package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
	"github.com/eliteGoblin/focusd/class_mon/internal/usecase"
)

// EventSource delivers window-change events in arrival order.
type EventSource interface {
	Run(ctx context.Context, out chan<- domain.WindowEvent) error
}

// EventEnforcer is the enforcement side the supervisor drives.
type EventEnforcer interface {
	Attach()
	HandleEvent(ev domain.WindowEvent) usecase.EnforcementResult
	CheckPermissions(ctx context.Context) (usecase.EnforcementResult, error)
	Alerts() <-chan usecase.AlertRequest
}

// Synchronizer is the backend side the supervisor drives.
type Synchronizer interface {
	Enabled() bool
	Interval() time.Duration
	Heartbeat(ctx context.Context) ([]domain.Command, error)
	SendAlert(ctx context.Context, eventType domain.AlertType, details string) error
	PullConfig(ctx context.Context) ([]domain.Command, error)
}

// StartFunc launches a detached daemon for role.
type StartFunc func(role domain.DaemonRole) error

// SupervisorConfig holds supervisor daemon configuration.
type SupervisorConfig struct {
	PermissionPollInterval time.Duration // How often to probe capabilities (default 3s)
	HeartbeatInterval      time.Duration // How often to update the registry heartbeat
	PartnerCheckInterval   time.Duration // How often to check the guardian
	EventBuffer            int
}

// DefaultSupervisorConfig returns default supervisor configuration.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		PermissionPollInterval: 3 * time.Second,
		HeartbeatInterval:      30 * time.Second,
		PartnerCheckInterval:   30 * time.Second,
		EventBuffer:            64,
	}
}

// Supervisor is the main enforcement daemon.
// It classifies window events, polls permissions, syncs with the backend
// and keeps the guardian alive. Each concern runs in its own goroutine and
// all of them stop together.
type Supervisor struct {
	config   SupervisorConfig
	source   EventSource
	enforcer EventEnforcer
	syncer   Synchronizer
	registry domain.DaemonRegistry
	clock    domain.Clock
	start    StartFunc
	logger   *zap.Logger
	daemon   domain.Daemon
}

// NewSupervisor creates a new supervisor daemon.
func NewSupervisor(
	config SupervisorConfig,
	source EventSource,
	enforcer EventEnforcer,
	syncer Synchronizer,
	registry domain.DaemonRegistry,
	clock domain.Clock,
	start StartFunc,
	daemon domain.Daemon,
	logger *zap.Logger,
) *Supervisor {
	if config.EventBuffer < 1 {
		config.EventBuffer = 1
	}
	return &Supervisor{
		config:   config,
		source:   source,
		enforcer: enforcer,
		syncer:   syncer,
		registry: registry,
		clock:    clock,
		start:    start,
		daemon:   daemon,
		logger:   logger,
	}
}

// Run starts the supervisor loops.
// This blocks until context is canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.registry.Register(s.daemon); err != nil {
		s.logger.Error("failed to register supervisor", zap.Error(err))
		return err
	}

	s.logger.Info("supervisor daemon started",
		zap.Int("pid", s.daemon.PID),
		zap.String("name", s.daemon.Name))

	s.enforcer.Attach()
	s.pullConfig(ctx)

	events := make(chan domain.WindowEvent, s.config.EventBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readEvents(gctx, events) })
	g.Go(func() error { return s.dispatchEvents(gctx, events) })
	g.Go(func() error { return s.permissionLoop(gctx) })
	g.Go(func() error { return s.syncLoop(gctx) })
	g.Go(func() error { return s.registryLoop(gctx) })

	err := g.Wait()
	s.logger.Info("supervisor daemon stopping")
	if err != nil {
		return err
	}
	return ctx.Err()
}

// readEvents runs the source until it ends or ctx is canceled. On
// cancellation a source still blocked in open or read is left behind and
// out stays open.
func (s *Supervisor) readEvents(ctx context.Context, out chan<- domain.WindowEvent) error {
	if s.source == nil {
		close(out)
		return nil
	}
	errc := make(chan error, 1)
	go func() { errc <- s.source.Run(ctx, out) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		close(out)
		switch {
		case err == nil:
			s.logger.Info("event source closed")
		case !errors.Is(err, context.Canceled):
			s.logger.Error("event source failed", zap.Error(err))
		}
		return nil
	}
}

// dispatchEvents handles events one at a time so the classifier sees them
// in arrival order.
func (s *Supervisor) dispatchEvents(ctx context.Context, events <-chan domain.WindowEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			result := s.enforcer.HandleEvent(ev)
			if result.Effect.Blocked() {
				s.logger.Info("blocked foreground app",
					zap.String("package", result.Effect.Package),
					zap.String("reason", result.Effect.Reason),
					zap.String("overlay", string(result.Effect.Overlay)))
			}
		}
	}
}

func (s *Supervisor) permissionLoop(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.config.PermissionPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			result, err := s.enforcer.CheckPermissions(ctx)
			if err != nil {
				continue
			}
			if result.Poll != nil && result.Poll.Outcome == usecase.PollRevoked {
				s.logger.Warn("permission revoked, lockdown active",
					zap.Strings("revoked", capabilityNames(result.Poll.Revoked)))
			}
		}
	}
}

// syncLoop delivers queued alerts and sends heartbeats. The heartbeat
// cadence follows the syncer, which shortens it after an alert.
func (s *Supervisor) syncLoop(ctx context.Context) error {
	interval := s.syncer.Interval()
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	resetIfChanged := func() {
		if next := s.syncer.Interval(); next != interval {
			interval = next
			ticker.Reset(interval)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case alert := <-s.enforcer.Alerts():
			if !s.syncer.Enabled() {
				s.logger.Debug("web sync disabled, alert not sent",
					zap.String("event_type", string(alert.Type)))
				continue
			}
			if err := s.syncer.SendAlert(ctx, alert.Type, alert.Details); err != nil {
				s.logger.Warn("failed to send alert", zap.Error(err))
			}
			resetIfChanged()

		case <-ticker.C():
			if !s.syncer.Enabled() {
				continue
			}
			cmds, err := s.syncer.Heartbeat(ctx)
			if err != nil {
				s.logger.Warn("heartbeat failed", zap.Error(err))
			} else if len(cmds) > 0 {
				s.logger.Info("applied remote commands", zap.Int("count", len(cmds)))
			}
			resetIfChanged()
		}
	}
}

func (s *Supervisor) registryLoop(ctx context.Context) error {
	heartbeatTicker := s.clock.NewTicker(s.config.HeartbeatInterval)
	partnerCheckTicker := s.clock.NewTicker(s.config.PartnerCheckInterval)
	defer func() {
		heartbeatTicker.Stop()
		partnerCheckTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-heartbeatTicker.C():
			if err := s.registry.UpdateHeartbeat(domain.RoleSupervisor); err != nil {
				s.logger.Warn("failed to update heartbeat", zap.Error(err))
			}

		case <-partnerCheckTicker.C():
			restartPartner(s.registry, domain.RoleSupervisor, s.start, s.logger)
		}
	}
}

func (s *Supervisor) pullConfig(ctx context.Context) {
	if !s.syncer.Enabled() {
		return
	}
	cmds, err := s.syncer.PullConfig(ctx)
	if err != nil {
		s.logger.Warn("failed to pull remote config", zap.Error(err))
		return
	}
	s.logger.Info("remote config applied", zap.Int("changes", len(cmds)))
}

// restartPartner starts the partner of self when it is registered but no
// longer running.
func restartPartner(registry domain.DaemonRegistry, self domain.DaemonRole, start StartFunc, logger *zap.Logger) {
	partner := domain.RoleGuardian
	if self == domain.RoleGuardian {
		partner = domain.RoleSupervisor
	}

	alive, err := registry.IsPartnerAlive(self)
	if err != nil {
		logger.Debug("partner check failed", zap.String("partner", string(partner)), zap.Error(err))
		return
	}
	if alive {
		return
	}

	logger.Info("partner not running, restarting...", zap.String("partner", string(partner)))
	if err := start(partner); err != nil {
		logger.Error("failed to restart partner", zap.String("partner", string(partner)), zap.Error(err))
		return
	}
	logger.Info("partner restarted successfully", zap.String("partner", string(partner)))
}

func capabilityNames(caps []domain.Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}
