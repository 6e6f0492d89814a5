package usecase

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

// Default reasons recorded with a lockdown.
const (
	ReasonPolicyViolation = "cannot modify app permissions by school rules"
	ReasonRemoteLockdown  = "Remote lockdown enabled by administrator"
)

// PenaltyConfig controls temporary lockdown escalation.
type PenaltyConfig struct {
	Step   time.Duration // Added per repeated violation (default 20s)
	Cap    time.Duration // Longest temporary lockdown (default 5m)
	Window time.Duration // Gap after which the count restarts (default 30m)
}

// DefaultPenaltyConfig returns the default escalation parameters.
func DefaultPenaltyConfig() PenaltyConfig {
	return PenaltyConfig{
		Step:   20 * time.Second,
		Cap:    300 * time.Second,
		Window: 30 * time.Minute,
	}
}

// Duration returns the lockdown length for the given penalty count.
func (c PenaltyConfig) Duration(count int) time.Duration {
	d := time.Duration(count) * c.Step
	if d > c.Cap {
		return c.Cap
	}
	return d
}

// LockdownMachine is the only writer of the lockdown record. Every
// transition is a single multi-key commit made under mu, so transitions
// requested concurrently by the dispatcher, the permission monitor and the
// remote command merger are applied one at a time, last write wins.
type LockdownMachine struct {
	mu     sync.Mutex
	prefs  *Preferences
	store  domain.StateStore
	clock  domain.Clock
	config PenaltyConfig
	logger *zap.Logger

	// last is the most recent state read from or written to the store.
	lastMu sync.Mutex
	last   domain.LockdownState
}

// NewLockdownMachine creates a lockdown state machine over prefs.
func NewLockdownMachine(prefs *Preferences, clock domain.Clock, config PenaltyConfig, logger *zap.Logger) *LockdownMachine {
	return &LockdownMachine{
		prefs:  prefs,
		store:  prefs.store,
		clock:  clock,
		config: config,
		logger: logger,
		last:   domain.LockdownState{Mode: domain.LockdownNormal},
	}
}

// State returns the current lockdown state. A failed read is logged and
// answered with the last state successfully read or committed, so a store
// error never lifts an active lockdown.
func (m *LockdownMachine) State() domain.LockdownState {
	m.lastMu.Lock()
	defer m.lastMu.Unlock()

	s, err := m.prefs.Lockdown()
	if err != nil {
		m.logger.Error("failed to read lockdown state, using last known",
			zap.String("mode", string(m.last.Mode)), zap.Error(err))
		return m.last
	}
	m.last = s
	return s
}

func (m *LockdownMachine) remember(s domain.LockdownState) {
	m.lastMu.Lock()
	m.last = s
	m.lastMu.Unlock()
}

// Escalate enters (or extends) a temporary lockdown for a local policy
// violation. The penalty count restarts at 1 when more than the penalty
// window passed since the previous violation. Requests made while a
// permanent lockdown is active are ignored and report applied=false.
func (m *LockdownMachine) Escalate(reason string) (domain.LockdownState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.prefs.Lockdown()
	if err != nil {
		return cur, false, err
	}
	if cur.Mode == domain.LockdownPermanent {
		m.logger.Info("temporary lockdown ignored, permanent lockdown active",
			zap.String("reason", cur.Reason))
		return cur, false, nil
	}

	now := m.clock.Now()
	count := cur.PenaltyCount + 1
	if cur.LastPenalty.IsZero() || now.Sub(cur.LastPenalty) > m.config.Window {
		count = 1
	}
	if reason == "" {
		reason = ReasonPolicyViolation
	}
	duration := m.config.Duration(count)

	next := domain.LockdownState{
		Mode:         domain.LockdownTemporary,
		Origin:       domain.OriginViolation,
		Reason:       reason,
		Until:        now.Add(duration),
		PenaltyCount: count,
		LastPenalty:  now,
	}
	if err := m.commit(next, nil); err != nil {
		return cur, false, err
	}
	m.logger.Info("temporary lockdown set",
		zap.Duration("duration", duration),
		zap.Int("penalty_count", count),
		zap.String("reason", reason))
	return next, true, nil
}

// EnterPermanent switches to a permanent lockdown. Penalty bookkeeping is
// kept so later escalations continue from it.
func (m *LockdownMachine) EnterPermanent(reason string, origin domain.LockdownOrigin) (domain.LockdownState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.prefs.Lockdown()
	if err != nil {
		return cur, err
	}
	next := domain.LockdownState{
		Mode:         domain.LockdownPermanent,
		Origin:       origin,
		Reason:       reason,
		PenaltyCount: cur.PenaltyCount,
		LastPenalty:  cur.LastPenalty,
	}
	if err := m.commit(next, nil); err != nil {
		return cur, err
	}
	m.logger.Info("permanent lockdown activated",
		zap.String("origin", string(origin)),
		zap.String("reason", reason))
	return next, nil
}

// ClearExpired returns a temporary lockdown whose deadline has passed to
// normal. It is idempotent and never touches a permanent lockdown.
func (m *LockdownMachine) ClearExpired() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.prefs.Lockdown()
	if err != nil {
		return false, err
	}
	if !cur.Expired(m.clock.Now()) {
		return false, nil
	}
	if err := m.commit(normalFrom(cur), nil); err != nil {
		return false, err
	}
	m.logger.Info("temporary lockdown expired",
		zap.Int("penalty_count", cur.PenaltyCount))
	return true, nil
}

// Unlock returns to normal from any state, keeping the penalty history.
func (m *LockdownMachine) Unlock() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.prefs.Lockdown()
	if err != nil {
		return err
	}
	if err := m.commit(normalFrom(cur), nil); err != nil {
		return err
	}
	if cur.Active() {
		m.logger.Info("lockdown cleared", zap.String("previous", string(cur.Mode)))
	}
	return nil
}

// RestoreFromRevocation leaves a permission-revocation lockdown once current
// grants every capability of the baseline, and records current as the new
// baseline in the same commit. It reports whether the lockdown was lifted.
func (m *LockdownMachine) RestoreFromRevocation(current domain.PermissionVector) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.prefs.Lockdown()
	if err != nil {
		return false, err
	}
	if cur.Mode != domain.LockdownPermanent || cur.Origin == domain.OriginRemote {
		return false, nil
	}
	baseline, ok, err := m.prefs.Baseline()
	if err != nil {
		return false, err
	}
	if !ok || !current.Restores(baseline) {
		return false, nil
	}
	if err := m.commit(normalFrom(cur), baselineValues(current)); err != nil {
		return false, err
	}
	m.logger.Info("permissions restored, lockdown cleared")
	return true, nil
}

// RecordBaseline stores v as the permission baseline. Refused while any
// lockdown is active.
func (m *LockdownMachine) RecordBaseline(v domain.PermissionVector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.prefs.Lockdown()
	if err != nil {
		return err
	}
	if cur.Active() {
		return fmt.Errorf("cannot record baseline: %w", domain.ErrLockdownActive)
	}
	if err := m.store.SetMany(baselineValues(v)); err != nil {
		return fmt.Errorf("failed to save baseline: %w", err)
	}
	return nil
}

func (m *LockdownMachine) commit(s domain.LockdownState, extra map[string]string) error {
	values := encodeLockdown(s)
	for k, v := range extra {
		values[k] = v
	}
	if err := m.store.SetMany(values); err != nil {
		return fmt.Errorf("failed to write lockdown state: %w", err)
	}
	m.remember(s)
	return nil
}

func normalFrom(cur domain.LockdownState) domain.LockdownState {
	return domain.LockdownState{
		Mode:         domain.LockdownNormal,
		PenaltyCount: cur.PenaltyCount,
		LastPenalty:  cur.LastPenalty,
	}
}
