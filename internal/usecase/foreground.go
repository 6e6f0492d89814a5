package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
	"github.com/eliteGoblin/focusd/class_mon/internal/policy"
)

// GraceConfig holds the foreground classifier timing windows.
type GraceConfig struct {
	Startup       time.Duration // Allow everything after attach (default 5s)
	Settings      time.Duration // Allow settings apps after attach (default 10s)
	PostSelf      time.Duration // Allow anything right after leaving self (default 2s)
	BlockCooldown time.Duration // Suppress re-blocking the same package (default 500ms)
}

// DefaultGraceConfig returns the default timing windows.
func DefaultGraceConfig() GraceConfig {
	return GraceConfig{
		Startup:       5 * time.Second,
		Settings:      10 * time.Second,
		PostSelf:      2 * time.Second,
		BlockCooldown: 500 * time.Millisecond,
	}
}

// ForegroundClassifier decides, per window change, whether the foreground
// app may stay. It owns the ForegroundContext and must be driven from a
// single goroutine in event arrival order; other goroutines may only read
// the context through Context.
type ForegroundClassifier struct {
	table   *policy.Table
	prefs   *Preferences
	machine *LockdownMachine
	clock   domain.Clock
	grace   GraceConfig
	logger  *zap.Logger

	mu sync.Mutex // guards fc
	fc domain.ForegroundContext
}

// NewForegroundClassifier creates a classifier. Call Attach before the
// first event.
func NewForegroundClassifier(
	table *policy.Table,
	prefs *Preferences,
	machine *LockdownMachine,
	clock domain.Clock,
	grace GraceConfig,
	logger *zap.Logger,
) *ForegroundClassifier {
	return &ForegroundClassifier{
		table:   table,
		prefs:   prefs,
		machine: machine,
		clock:   clock,
		grace:   grace,
		logger:  logger,
	}
}

// Attach resets the foreground context and starts the startup grace windows.
func (c *ForegroundClassifier) Attach() {
	c.mu.Lock()
	c.fc = domain.ForegroundContext{AttachedAt: c.clock.Now()}
	c.mu.Unlock()
	c.logger.Info("foreground classifier attached")
}

// Context returns a copy of the foreground context.
func (c *ForegroundClassifier) Context() domain.ForegroundContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fc
}

// OnEvent classifies one window change. Rules are evaluated in order and
// the first match decides.
func (c *ForegroundClassifier) OnEvent(ev domain.WindowEvent) domain.Effect {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := ev.At
	if now.IsZero() {
		now = c.clock.Now()
	}
	pkg := ev.Package
	sinceAttach := now.Sub(c.fc.AttachedAt)

	if sinceAttach < c.grace.Startup {
		return domain.Allow(pkg, "startup grace")
	}
	if pkg == "" {
		return domain.Allow(pkg, "no package")
	}
	if sinceAttach < c.grace.Settings && c.table.IsSettings(pkg) {
		return domain.Allow(pkg, "settings grace")
	}
	if c.table.IsKeyboard(pkg) {
		return domain.Allow(pkg, "keyboard")
	}
	if c.table.IsSelf(pkg) {
		c.fc.WasInSelf = true
		c.fc.SelfExitTime = now
		c.fc.CurrentPackage = pkg
		return domain.Allow(pkg, "self")
	}
	if c.fc.WasInSelf {
		c.fc.WasInSelf = false
	}
	if !c.fc.SelfExitTime.IsZero() && now.Sub(c.fc.SelfExitTime) < c.grace.PostSelf {
		return domain.Allow(pkg, "post-self grace")
	}
	if pkg == c.fc.CurrentPackage {
		return domain.Allow(pkg, "duplicate")
	}
	c.fc.CurrentPackage = pkg

	c.logger.Debug("window changed",
		zap.String("package", pkg),
		zap.String("class", ev.ClassName))

	state := c.machine.State()
	if state.Active() {
		if state.Expired(now) {
			if _, err := c.machine.ClearExpired(); err != nil {
				c.logger.Error("failed to clear expired lockdown", zap.Error(err))
			}
		} else {
			if c.allowedInLockdown(pkg, state) {
				return domain.Allow(pkg, "lockdown allow-set")
			}
			return c.block(pkg, domain.OverlayLockdown, state.Reason, now)
		}
	}

	return c.evaluateNormal(ev, now)
}

func (c *ForegroundClassifier) evaluateNormal(ev domain.WindowEvent, now time.Time) domain.Effect {
	eff, escalate := c.normalVerdict(ev, now)
	if escalate {
		return c.escalate(eff, now)
	}
	if !eff.Blocked() {
		return eff
	}
	if eff.Package == c.fc.LastBlockedPackage && now.Sub(c.fc.LastBlockTime) < c.grace.BlockCooldown {
		return domain.Allow(eff.Package, "block cooldown")
	}
	return c.block(eff.Package, eff.Overlay, eff.Reason, now)
}

// normalVerdict applies the rules outside lockdown without side effects.
// The second result asks for a temporary lockdown.
func (c *ForegroundClassifier) normalVerdict(ev domain.WindowEvent, now time.Time) (domain.Effect, bool) {
	pkg := ev.Package

	if c.table.IsHome(pkg) {
		return domain.Allow(pkg, "home"), false
	}

	if c.prefs.StudentLoggedIn() {
		if c.isUninstallAttempt(ev) {
			eff := domain.Block(pkg, domain.OverlayPermission, ReasonPolicyViolation)
			eff.Alert = domain.AlertUninstallAttempt
			return eff, true
		}
		if c.table.IsProtectedSurface(pkg) ||
			(c.table.IsSettings(pkg) && c.table.IsDangerousSection(ev.ClassName)) {
			eff := domain.Block(pkg, domain.OverlayPermission, ReasonPolicyViolation)
			eff.Alert = domain.AlertPermissionTamper
			return eff, true
		}
	}

	if !c.prefs.ServiceEnabled() {
		return domain.Allow(pkg, "service disabled"), false
	}
	if !ClassifyTime(now, c.prefs.Schedules()).Blocked() {
		return domain.Allow(pkg, "outside class time"), false
	}
	if c.prefs.IsAllowed(pkg) {
		return domain.Allow(pkg, "allow-listed"), false
	}
	return domain.Block(pkg, domain.OverlayBlocker, "class time"), false
}

// Explain classifies ev as it would be after the startup grace windows,
// without changing the foreground context or the lockdown state.
func (c *ForegroundClassifier) Explain(ev domain.WindowEvent, now time.Time) domain.Effect {
	c.mu.Lock()
	defer c.mu.Unlock()

	pkg := ev.Package
	switch {
	case pkg == "":
		return domain.Allow(pkg, "no package")
	case c.table.IsKeyboard(pkg):
		return domain.Allow(pkg, "keyboard")
	case c.table.IsSelf(pkg):
		return domain.Allow(pkg, "self")
	}

	state := c.machine.State()
	if state.Active() && !state.Expired(now) {
		if c.allowedInLockdown(pkg, state) {
			return domain.Allow(pkg, "lockdown allow-set")
		}
		return domain.Block(pkg, domain.OverlayLockdown, state.Reason)
	}

	eff, _ := c.normalVerdict(ev, now)
	return eff
}

// escalate requests a temporary lockdown and blocks. The block stands even
// if the lockdown could not be recorded.
func (c *ForegroundClassifier) escalate(eff domain.Effect, now time.Time) domain.Effect {
	state, applied, err := c.machine.Escalate(ReasonPolicyViolation)
	if err != nil {
		c.logger.Error("failed to escalate lockdown", zap.String("package", eff.Package), zap.Error(err))
	} else if applied {
		c.logger.Warn("protected surface opened, temporary lockdown",
			zap.String("package", eff.Package),
			zap.Int("penalty_count", state.PenaltyCount),
			zap.Time("until", state.Until))
	}
	out := c.block(eff.Package, eff.Overlay, eff.Reason, now)
	out.Alert = eff.Alert
	return out
}

func (c *ForegroundClassifier) block(pkg string, overlay domain.OverlayKind, reason string, now time.Time) domain.Effect {
	c.fc.LastBlockedPackage = pkg
	c.fc.LastBlockTime = now
	c.logger.Info("blocking app",
		zap.String("package", pkg),
		zap.String("overlay", string(overlay)))
	return domain.Block(pkg, overlay, reason)
}

// isUninstallAttempt detects screens that would remove the enforcer. A
// package installer counts when its text names the enforcer or carries no
// text at all; app-info and uninstall-confirmation screens must name it.
func (c *ForegroundClassifier) isUninstallAttempt(ev domain.WindowEvent) bool {
	text := ev.VisibleText()
	if c.table.IsPackageInstaller(ev.Package) {
		return text == "" || c.table.MentionsIdentity(text)
	}
	if c.table.IsAppInfoScreen(ev.ClassName) || c.table.IsUninstallDialog(ev.ClassName) {
		return c.table.MentionsIdentity(text)
	}
	return false
}

// allowedInLockdown is the reconciled lockdown allow-set: self, launchers,
// system UI, keyboards and the app store always; settings only while a
// permanent lockdown waits for permissions to be restored.
func (c *ForegroundClassifier) allowedInLockdown(pkg string, state domain.LockdownState) bool {
	switch {
	case c.table.IsSelf(pkg), c.table.IsHome(pkg), c.table.IsKeyboard(pkg), c.table.IsAppStore(pkg):
		return true
	case state.Mode == domain.LockdownPermanent && c.table.IsSettings(pkg):
		return true
	default:
		return false
	}
}
