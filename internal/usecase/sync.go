package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

// ErrNotEnrolled is returned when the device has no token for the backend.
var ErrNotEnrolled = errors.New("device not enrolled")

// SyncConfig holds heartbeat cadence.
type SyncConfig struct {
	NormalInterval time.Duration // Heartbeat cadence (default 30s)
	AlertInterval  time.Duration // Cadence after an alert until the next good heartbeat (default 10s)
}

// DefaultSyncConfig returns default heartbeat cadence.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		NormalInterval: 30 * time.Second,
		AlertInterval:  10 * time.Second,
	}
}

// Syncer sends heartbeats and alerts and feeds returned commands into the
// merger. It never changes enforcement state on transport failure.
type Syncer struct {
	client  domain.SyncClient
	prefs   *Preferences
	monitor *PermissionMonitor
	machine *LockdownMachine
	merger  *CommandMerger
	device  domain.DeviceInfoProvider
	clock   domain.Clock
	config  SyncConfig
	logger  *zap.Logger

	mu       sync.Mutex
	interval time.Duration
}

// NewSyncer creates a syncer. device may be nil.
func NewSyncer(
	client domain.SyncClient,
	prefs *Preferences,
	monitor *PermissionMonitor,
	machine *LockdownMachine,
	merger *CommandMerger,
	device domain.DeviceInfoProvider,
	clock domain.Clock,
	config SyncConfig,
	logger *zap.Logger,
) *Syncer {
	return &Syncer{
		client:   client,
		prefs:    prefs,
		monitor:  monitor,
		machine:  machine,
		merger:   merger,
		device:   device,
		clock:    clock,
		config:   config,
		logger:   logger,
		interval: config.NormalInterval,
	}
}

// Interval returns the current heartbeat cadence.
func (s *Syncer) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Syncer) setInterval(d time.Duration) {
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

// Enabled reports whether backend sync is switched on and enrolled.
func (s *Syncer) Enabled() bool {
	return s.prefs.WebSyncEnabled() && s.prefs.DeviceToken() != ""
}

// Heartbeat reports device state and applies the returned commands. A
// successful heartbeat restores the normal cadence.
func (s *Syncer) Heartbeat(ctx context.Context) ([]domain.Command, error) {
	token := s.prefs.DeviceToken()
	if token == "" {
		return nil, ErrNotEnrolled
	}
	deviceID, err := s.prefs.DeviceID()
	if err != nil {
		return nil, err
	}
	lockdown := s.machine.State()
	permissions, err := s.monitor.Current()
	if err != nil {
		return nil, err
	}

	req := domain.HeartbeatRequest{
		DeviceID:         deviceID,
		Timestamp:        s.clock.Now().UnixMilli(),
		IsServiceEnabled: s.prefs.ServiceEnabled(),
		IsLockdownMode:   lockdown.Active(),
		Permissions:      permissions,
		BatteryLevel:     s.batteryLevel(ctx),
	}
	resp, err := s.client.Heartbeat(ctx, token, req)
	if err != nil {
		return nil, fmt.Errorf("heartbeat failed: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("heartbeat rejected: %s", resp.Message)
	}
	s.setInterval(s.config.NormalInterval)

	applied := s.merger.ApplyAll(resp.Commands)
	for _, cmd := range applied {
		if cmd.ID == "" {
			continue
		}
		if err := s.client.AckCommand(ctx, token, cmd.ID); err != nil {
			s.logger.Warn("failed to acknowledge command",
				zap.String("id", cmd.ID),
				zap.Error(err))
		}
	}
	return applied, nil
}

// SendAlert posts a tamper notification. After a delivered alert the
// heartbeat switches to the alert cadence.
func (s *Syncer) SendAlert(ctx context.Context, eventType domain.AlertType, details string) error {
	token := s.prefs.DeviceToken()
	if token == "" {
		return ErrNotEnrolled
	}
	deviceID, err := s.prefs.DeviceID()
	if err != nil {
		return err
	}
	alert := domain.AlertEvent{
		DeviceID:  deviceID,
		Timestamp: s.clock.Now().UnixMilli(),
		EventType: eventType,
		Details:   details,
	}
	if err := s.client.SendAlert(ctx, token, alert); err != nil {
		return fmt.Errorf("alert %s failed: %w", eventType, err)
	}
	s.setInterval(s.config.AlertInterval)
	s.logger.Info("alert sent", zap.String("event_type", string(eventType)))
	return nil
}

// PullConfig fetches the remote configuration and applies it.
func (s *Syncer) PullConfig(ctx context.Context) ([]domain.Command, error) {
	token := s.prefs.DeviceToken()
	if token == "" {
		return nil, ErrNotEnrolled
	}
	deviceID, err := s.prefs.DeviceID()
	if err != nil {
		return nil, err
	}
	cfg, err := s.client.FetchConfig(ctx, token, deviceID)
	if err != nil {
		return nil, fmt.Errorf("config fetch failed: %w", err)
	}
	return s.merger.ApplyRemoteConfig(cfg), nil
}

func (s *Syncer) batteryLevel(ctx context.Context) int {
	if s.device == nil {
		return -1
	}
	info, err := s.device.Info(ctx)
	if err != nil {
		s.logger.Debug("device info unavailable", zap.Error(err))
		return -1
	}
	return info.BatteryLevel
}
