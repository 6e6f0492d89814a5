package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

// PollOutcome names what a permission poll did.
type PollOutcome string

const (
	PollUnchanged        PollOutcome = "unchanged"
	PollRevoked          PollOutcome = "revoked"
	PollRestored         PollOutcome = "restored"
	PollTemporaryExpired PollOutcome = "temporary_expired"
	PollNoBaseline       PollOutcome = "no_baseline"
)

// PollResult is the outcome of one permission poll.
type PollResult struct {
	Outcome PollOutcome
	Current domain.PermissionVector
	Revoked []domain.Capability
	// ProbeErrors counts capabilities whose query failed and were carried
	// over from the last known value.
	ProbeErrors int
}

// PermissionMonitor compares the live capability vector against the
// recorded baseline and drives permanent lockdown entry and exit.
type PermissionMonitor struct {
	prober  domain.PermissionProber
	prefs   *Preferences
	machine *LockdownMachine
	logger  *zap.Logger

	mu        sync.Mutex
	lastKnown domain.PermissionVector
	seeded    bool
}

// NewPermissionMonitor creates a monitor. Until the first successful probe
// the baseline is taken as the last known vector.
func NewPermissionMonitor(prober domain.PermissionProber, prefs *Preferences, machine *LockdownMachine, logger *zap.Logger) *PermissionMonitor {
	return &PermissionMonitor{
		prober:  prober,
		prefs:   prefs,
		machine: machine,
		logger:  logger,
	}
}

// Snapshot queries every capability. A failed query keeps the last known
// value for that capability; failures are counted, never treated as a
// revocation or a grant. The first snapshot seeds the last known vector
// from the baseline and fails without probing if it cannot be read.
func (m *PermissionMonitor) Snapshot(ctx context.Context) (domain.PermissionVector, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.seeded {
		baseline, _, err := m.prefs.Baseline()
		if err != nil {
			return domain.PermissionVector{}, 0, err
		}
		m.lastKnown = baseline
		m.seeded = true
	}

	current := m.lastKnown
	failures := 0
	for _, c := range domain.AllCapabilities {
		granted, err := m.prober.Probe(ctx, c)
		if err != nil {
			failures++
			m.logger.Warn("capability query failed, keeping last known value",
				zap.String("capability", string(c)),
				zap.Bool("last_known", current.Get(c)),
				zap.Error(err))
			continue
		}
		current = current.With(c, granted)
	}
	m.lastKnown = current
	return current, failures, nil
}

// Current returns the last known vector without probing.
func (m *PermissionMonitor) Current() (domain.PermissionVector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.seeded {
		v, _, err := m.prefs.Baseline()
		return v, err
	}
	return m.lastKnown, nil
}

// Poll runs one monitoring cycle.
//
// A temporary lockdown is only checked for expiry. A permanent lockdown
// caused by revocation is lifted once every baseline capability is granted
// again. In normal state any baseline capability now missing enters a
// permanent lockdown whose reason lists the missing capabilities.
func (m *PermissionMonitor) Poll(ctx context.Context) (PollResult, error) {
	current, failures, err := m.Snapshot(ctx)
	if err != nil {
		return PollResult{Outcome: PollUnchanged}, err
	}
	result := PollResult{Outcome: PollUnchanged, Current: current, ProbeErrors: failures}

	state := m.machine.State()
	switch state.Mode {
	case domain.LockdownTemporary:
		cleared, err := m.machine.ClearExpired()
		if err != nil {
			return result, err
		}
		if cleared {
			result.Outcome = PollTemporaryExpired
		}
		return result, nil

	case domain.LockdownPermanent:
		restored, err := m.machine.RestoreFromRevocation(current)
		if err != nil {
			return result, err
		}
		if restored {
			result.Outcome = PollRestored
		} else if baseline, ok, err := m.prefs.Baseline(); err == nil && ok {
			result.Revoked = current.RevokedSince(baseline)
		}
		return result, nil
	}

	baseline, ok, err := m.prefs.Baseline()
	if err != nil {
		return result, err
	}
	if !ok {
		result.Outcome = PollNoBaseline
		return result, nil
	}
	revoked := current.RevokedSince(baseline)
	if len(revoked) == 0 {
		return result, nil
	}
	result.Revoked = revoked
	reason := domain.RevocationReason(revoked)
	if _, err := m.machine.EnterPermanent(reason, domain.OriginPermission); err != nil {
		return result, err
	}
	m.logger.Warn("capability revoked, lockdown activated", zap.String("revoked", reason))
	result.Outcome = PollRevoked
	return result, nil
}

// CaptureBaseline records the current vector as the baseline. Every
// capability must be granted and answer its query.
func (m *PermissionMonitor) CaptureBaseline(ctx context.Context) (domain.PermissionVector, error) {
	current, failures, err := m.Snapshot(ctx)
	if err != nil {
		return current, err
	}
	if failures > 0 {
		return current, fmt.Errorf("%d capability queries failed: %w", failures, domain.ErrProbeFailed)
	}
	if !current.AllGranted() {
		missing := current.RevokedSince(domain.PermissionVector{
			DeviceAdmin: true, Accessibility: true, Overlay: true, UsageStats: true,
		})
		return current, fmt.Errorf("missing %s: %w", domain.RevocationReason(missing), domain.ErrBaselineIncomplete)
	}
	if err := m.machine.RecordBaseline(current); err != nil {
		return current, err
	}
	m.logger.Info("permission baseline recorded")
	return current, nil
}

// IsBaselineError reports whether err came from an incomplete baseline.
func IsBaselineError(err error) bool {
	return errors.Is(err, domain.ErrBaselineIncomplete) || errors.Is(err, domain.ErrProbeFailed)
}
