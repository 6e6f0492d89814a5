package usecase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

// TestApply_LockdownAndUnlock verifies remote lockdown round trip
func TestApply_LockdownAndUnlock(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.merger.Apply(domain.Command{Type: domain.CmdLockdown}))
	state := env.machine.State()
	assert.Equal(t, domain.LockdownPermanent, state.Mode)
	assert.Equal(t, domain.OriginRemote, state.Origin)
	assert.Equal(t, ReasonRemoteLockdown, state.Reason)

	require.NoError(t, env.merger.Apply(domain.Command{Type: domain.CmdUnlock}))
	assert.Equal(t, domain.LockdownNormal, env.machine.State().Mode)
}

// TestApply_LockdownCustomReason verifies a reason in the payload is kept
func TestApply_LockdownCustomReason(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.merger.Apply(domain.Command{
		Type: domain.CmdLockdown,
		Data: map[string]any{"reason": "Exam in progress"},
	}))

	assert.Equal(t, "Exam in progress", env.machine.State().Reason)
}

// TestApply_UnlockClearsTemporary verifies unlock ends any lockdown
func TestApply_UnlockClearsTemporary(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.machine.Escalate("")
	require.NoError(t, err)

	require.NoError(t, env.merger.Apply(domain.Command{Type: domain.CmdUnlock}))

	state := env.machine.State()
	assert.Equal(t, domain.LockdownNormal, state.Mode)
	assert.Equal(t, 1, state.PenaltyCount)
}

// TestApply_ServiceToggle verifies enable and disable
func TestApply_ServiceToggle(t *testing.T) {
	env := newTestEnv(t)
	assert.False(t, env.prefs.ServiceEnabled())

	require.NoError(t, env.merger.Apply(domain.Command{Type: domain.CmdEnableService}))
	assert.True(t, env.prefs.ServiceEnabled())

	require.NoError(t, env.merger.Apply(domain.Command{Type: domain.CmdDisableService}))
	assert.False(t, env.prefs.ServiceEnabled())
}

// TestApply_UpdateSchedules verifies schedules replace the stored list
func TestApply_UpdateSchedules(t *testing.T) {
	env := newTestEnv(t)
	env.classDay(t)

	err := env.merger.Apply(domain.Command{
		Type: domain.CmdUpdateSchedules,
		Data: map[string]any{"schedules": []any{
			map[string]any{"id": float64(10), "start_hour": float64(7), "end_hour": float64(12)},
			map[string]any{"id": float64(11), "start_hour": float64(99)},
			"junk",
		}},
	})

	require.NoError(t, err)
	got := env.prefs.Schedules()
	require.Len(t, got, 1)
	assert.Equal(t, int64(10), got[0].ID)
	assert.Equal(t, 7, got[0].StartHour)
}

// TestApply_UpdateSingleSchedule verifies a bare record payload is accepted
func TestApply_UpdateSingleSchedule(t *testing.T) {
	env := newTestEnv(t)

	err := env.merger.Apply(domain.Command{
		Type: domain.CmdUpdateSchedule,
		Data: map[string]any{"startHour": float64(8), "endHour": float64(9)},
	})

	require.NoError(t, err)
	assert.Len(t, env.prefs.Schedules(), 1)

	err = env.merger.Apply(domain.Command{Type: domain.CmdUpdateSchedule})
	assert.Error(t, err)
}

// TestApply_UpdateAllowedApps verifies the allow-list is replaced
func TestApply_UpdateAllowedApps(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.merger.Apply(domain.Command{
		Type: domain.CmdUpdateAllowedApps,
		Data: map[string]any{"apps": []any{"org.wikipedia", "com.duolingo", "org.wikipedia"}},
	}))

	assert.Equal(t, []string{"com.duolingo", "org.wikipedia"}, env.prefs.AllowList())
	assert.False(t, env.prefs.IsAllowed(calculator))

	err := env.merger.Apply(domain.Command{
		Type: domain.CmdUpdateAllowedApps,
		Data: map[string]any{"apps": []any{"ok", 3}},
	})
	assert.Error(t, err)
}

// TestApply_UnknownCommand verifies unknown types are reported
func TestApply_UnknownCommand(t *testing.T) {
	env := newTestEnv(t)

	err := env.merger.Apply(domain.Command{Type: "reboot"})

	assert.True(t, errors.Is(err, ErrUnknownCommand))
}

// TestApplyAll_ContinuesPastFailures verifies later commands still apply
func TestApplyAll_ContinuesPastFailures(t *testing.T) {
	env := newTestEnv(t)

	applied := env.merger.ApplyAll([]domain.Command{
		{ID: "a", Type: "reboot"},
		{ID: "b", Type: domain.CmdEnableService},
		{ID: "c", Type: domain.CmdUpdateAllowedApps},
		{ID: "d", Type: domain.CmdLockdown},
	})

	require.Len(t, applied, 2)
	assert.Equal(t, "b", applied[0].ID)
	assert.Equal(t, "d", applied[1].ID)
	assert.True(t, env.prefs.ServiceEnabled())
	assert.Equal(t, domain.LockdownPermanent, env.machine.State().Mode)
}

// TestApplyRemoteConfig verifies pulled configuration is folded into state
func TestApplyRemoteConfig(t *testing.T) {
	env := newTestEnv(t)
	yes, no := true, false

	applied := env.merger.ApplyRemoteConfig(&domain.RemoteConfig{
		Schedules:       []map[string]any{{"startHour": float64(8), "endHour": float64(16)}},
		AllowedApps:     []string{"org.wikipedia"},
		ServiceEnabled:  &yes,
		LockdownEnabled: &yes,
	})

	assert.Len(t, applied, 4)
	assert.Len(t, env.prefs.Schedules(), 1)
	assert.True(t, env.prefs.ServiceEnabled())
	assert.Equal(t, domain.OriginRemote, env.machine.State().Origin)

	applied = env.merger.ApplyRemoteConfig(&domain.RemoteConfig{LockdownEnabled: &no})
	assert.Len(t, applied, 1)
	assert.Equal(t, domain.LockdownNormal, env.machine.State().Mode)

	assert.Nil(t, env.merger.ApplyRemoteConfig(nil))
}

// TestApplyRemoteConfig_KeepsPermissionLockdown verifies lockdown_enabled=false only lifts remote lockdowns
func TestApplyRemoteConfig_KeepsPermissionLockdown(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.machine.EnterPermanent("Overlay", domain.OriginPermission)
	require.NoError(t, err)
	no := false

	applied := env.merger.ApplyRemoteConfig(&domain.RemoteConfig{LockdownEnabled: &no})

	assert.Empty(t, applied)
	assert.Equal(t, domain.LockdownPermanent, env.machine.State().Mode)
}
