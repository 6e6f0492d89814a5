package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
	"github.com/eliteGoblin/focusd/class_mon/internal/infra"
	"github.com/eliteGoblin/focusd/class_mon/internal/usecase"
)

func fastSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		PermissionPollInterval: 10 * time.Millisecond,
		HeartbeatInterval:      10 * time.Millisecond,
		PartnerCheckInterval:   10 * time.Millisecond,
		EventBuffer:            4,
	}
}

// TestDefaultSupervisorConfig verifies default supervisor configuration
func TestDefaultSupervisorConfig(t *testing.T) {
	config := DefaultSupervisorConfig()

	assert.Equal(t, 3*time.Second, config.PermissionPollInterval)
	assert.Equal(t, 30*time.Second, config.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, config.PartnerCheckInterval)
	assert.NotZero(t, config.EventBuffer)
}

// TestDefaultGuardianConfig verifies default guardian configuration
func TestDefaultGuardianConfig(t *testing.T) {
	config := DefaultGuardianConfig()

	assert.Equal(t, 30*time.Second, config.SupervisorCheckInterval)
	assert.Equal(t, 30*time.Second, config.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, config.AutostartCheckInterval)
}

// TestSupervisor_Run verifies events are dispatched in order and the
// periodic loops run until cancellation
func TestSupervisor_Run(t *testing.T) {
	registry := newMockRegistry()
	enforcer := newMockEnforcer()
	syncer := &mockSyncer{enabled: true, interval: 10 * time.Millisecond}
	starter := &recordingStarter{}
	source := sliceSource{events: []domain.WindowEvent{
		{Package: "a"}, {Package: "b"}, {Package: "c"},
	}}

	sup := NewSupervisor(fastSupervisorConfig(), source, enforcer, syncer, registry,
		infra.SystemClock{}, starter.start,
		domain.Daemon{PID: 42, Role: domain.RoleSupervisor, Name: "sup"}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	enforcer.alerts <- usecase.AlertRequest{Type: domain.AlertUninstallAttempt, Details: "x"}

	require.Eventually(t, func() bool {
		hb, _, sent := syncer.snapshot()
		return len(enforcer.packages()) == 3 &&
			enforcer.checkCount() > 0 &&
			hb > 0 &&
			len(sent) == 1 &&
			registry.heartbeatCount(domain.RoleSupervisor) > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	assert.Equal(t, []string{"a", "b", "c"}, enforcer.packages())
	assert.True(t, enforcer.attached)
	assert.True(t, registry.registered(domain.RoleSupervisor))
	_, pulls, sent := syncer.snapshot()
	assert.Equal(t, 1, pulls)
	assert.Equal(t, []domain.AlertType{domain.AlertUninstallAttempt}, sent)
	assert.Empty(t, starter.started())
}

// TestSupervisor_SyncDisabled verifies nothing reaches the backend when web sync is off
func TestSupervisor_SyncDisabled(t *testing.T) {
	enforcer := newMockEnforcer()
	syncer := &mockSyncer{interval: 10 * time.Millisecond}
	sup := NewSupervisor(fastSupervisorConfig(), nil, enforcer, syncer, newMockRegistry(),
		infra.SystemClock{}, (&recordingStarter{}).start,
		domain.Daemon{Role: domain.RoleSupervisor}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	enforcer.alerts <- usecase.AlertRequest{Type: domain.AlertPermissionRevoked}

	err := sup.Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	hb, pulls, sent := syncer.snapshot()
	assert.Zero(t, hb)
	assert.Zero(t, pulls)
	assert.Empty(t, sent)
}

// TestSupervisor_RestartsGuardian verifies a dead guardian is restarted
func TestSupervisor_RestartsGuardian(t *testing.T) {
	registry := newMockRegistry()
	registry.partnerDown = true
	starter := &recordingStarter{}
	sup := NewSupervisor(fastSupervisorConfig(), nil, newMockEnforcer(),
		&mockSyncer{interval: time.Hour}, registry, infra.SystemClock{}, starter.start,
		domain.Daemon{Role: domain.RoleSupervisor}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx) }()

	require.Eventually(t, func() bool { return len(starter.started()) > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.RoleGuardian, starter.started()[0])
}

// TestSupervisor_RegisterFails verifies the daemon refuses to run unregistered
func TestSupervisor_RegisterFails(t *testing.T) {
	registry := newMockRegistry()
	registry.registerErr = errors.New("database locked")
	sup := NewSupervisor(fastSupervisorConfig(), nil, newMockEnforcer(), &mockSyncer{interval: time.Hour},
		registry, infra.SystemClock{}, (&recordingStarter{}).start,
		domain.Daemon{Role: domain.RoleSupervisor}, zap.NewNop())

	err := sup.Run(context.Background())

	assert.ErrorContains(t, err, "database locked")
}

// TestGuardian_RestartsSupervisor verifies the guardian heartbeats and restarts its partner
func TestGuardian_RestartsSupervisor(t *testing.T) {
	registry := newMockRegistry()
	registry.partnerDown = true
	starter := &recordingStarter{}
	g := NewGuardian(GuardianConfig{
		SupervisorCheckInterval: 10 * time.Millisecond,
		HeartbeatInterval:       10 * time.Millisecond,
	}, registry, infra.SystemClock{}, starter.start,
		domain.Daemon{PID: 7, Role: domain.RoleGuardian, Name: "grd"}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(starter.started()) > 0 && registry.heartbeatCount(domain.RoleGuardian) > 0
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, domain.RoleSupervisor, starter.started()[0])
	assert.True(t, registry.registered(domain.RoleGuardian))
}

// TestGuardian_PartnerAlive verifies a live supervisor is left alone
func TestGuardian_PartnerAlive(t *testing.T) {
	starter := &recordingStarter{}
	g := NewGuardian(GuardianConfig{
		SupervisorCheckInterval: 5 * time.Millisecond,
		HeartbeatInterval:       time.Hour,
	}, newMockRegistry(), infra.SystemClock{}, starter.start,
		domain.Daemon{Role: domain.RoleGuardian}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = g.Run(ctx)

	assert.Empty(t, starter.started())
}

// TestGuardian_RestoresAutostart verifies a missing unit is installed and a
// drifted one rewritten
func TestGuardian_RestoresAutostart(t *testing.T) {
	tests := []struct {
		name        string
		installed   bool
		stale       bool
		wantInstall int
		wantUpdate  int
	}{
		{name: "missing unit is installed", wantInstall: 1},
		{name: "stale unit is updated", installed: true, stale: true, wantUpdate: 1},
		{name: "current unit is left alone", installed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit := &mockAutostart{installed: tt.installed, stale: tt.stale}
			g := NewGuardian(GuardianConfig{
				SupervisorCheckInterval: time.Hour,
				HeartbeatInterval:       time.Hour,
				AutostartCheckInterval:  time.Hour,
			}, newMockRegistry(), infra.SystemClock{}, (&recordingStarter{}).start,
				domain.Daemon{Role: domain.RoleGuardian}, zap.NewNop()).
				WithAutostart(unit, "/usr/bin/classmon")

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_ = g.Run(ctx)

			installs, updates, path := unit.snapshot()
			assert.Equal(t, tt.wantInstall, installs)
			assert.Equal(t, tt.wantUpdate, updates)
			if tt.wantInstall+tt.wantUpdate > 0 {
				assert.Equal(t, "/usr/bin/classmon", path)
			}
		})
	}
}
