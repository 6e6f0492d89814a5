// Package usecase contains application business logic.
package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

// AlertRequest is an alert waiting to be delivered by the sync loop.
type AlertRequest struct {
	Type    domain.AlertType
	Details string
	At      time.Time
}

// EnforcementResult records what one enforcement step did.
type EnforcementResult struct {
	Effect     domain.Effect
	Poll       *PollResult
	Alerts     []domain.AlertType
	ExecutedAt time.Time
	DurationMs int64
}

// Enforcer turns classifier decisions and permission polls into overlays
// and queued alerts. Alert delivery never blocks enforcement: when the
// queue is full the alert is dropped and logged.
type Enforcer struct {
	classifier *ForegroundClassifier
	monitor    *PermissionMonitor
	presenter  domain.OverlayPresenter
	clock      domain.Clock
	alerts     chan AlertRequest
	logger     *zap.Logger
}

// NewEnforcer creates an enforcer with an alert queue of queueSize entries.
func NewEnforcer(
	classifier *ForegroundClassifier,
	monitor *PermissionMonitor,
	presenter domain.OverlayPresenter,
	clock domain.Clock,
	queueSize int,
	logger *zap.Logger,
) *Enforcer {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Enforcer{
		classifier: classifier,
		monitor:    monitor,
		presenter:  presenter,
		clock:      clock,
		alerts:     make(chan AlertRequest, queueSize),
		logger:     logger,
	}
}

// Attach starts a fresh foreground session.
func (e *Enforcer) Attach() {
	e.classifier.Attach()
}

// Alerts returns the queue drained by the sync loop.
func (e *Enforcer) Alerts() <-chan AlertRequest {
	return e.alerts
}

// HandleEvent classifies one window change and renders its overlay.
func (e *Enforcer) HandleEvent(ev domain.WindowEvent) EnforcementResult {
	start := e.clock.Now()
	eff := e.classifier.OnEvent(ev)
	result := EnforcementResult{Effect: eff, ExecutedAt: start}

	if eff.Blocked() {
		e.presenter.Show(eff)
	}
	if eff.Alert != "" {
		e.queueAlert(eff.Alert, eff.Package)
		result.Alerts = append(result.Alerts, eff.Alert)
	}

	result.DurationMs = e.clock.Now().Sub(start).Milliseconds()
	return result
}

// CheckPermissions runs one permission poll. A revocation shows the
// lockdown overlay over whatever is in the foreground and queues both the
// revocation and the lockdown alerts.
func (e *Enforcer) CheckPermissions(ctx context.Context) (EnforcementResult, error) {
	start := e.clock.Now()
	poll, err := e.monitor.Poll(ctx)
	result := EnforcementResult{Poll: &poll, ExecutedAt: start}
	if err != nil {
		e.logger.Error("permission check failed", zap.Error(err))
		return result, err
	}

	switch poll.Outcome {
	case PollRevoked:
		reason := domain.RevocationReason(poll.Revoked)
		fg := e.classifier.Context().CurrentPackage
		e.presenter.Show(domain.Block(fg, domain.OverlayLockdown, reason))
		e.queueAlert(domain.AlertPermissionRevoked, reason)
		e.queueAlert(domain.AlertLockdownActivated, reason)
		result.Alerts = append(result.Alerts, domain.AlertPermissionRevoked, domain.AlertLockdownActivated)
	case PollRestored:
		e.logger.Info("permissions restored")
	case PollTemporaryExpired:
		e.logger.Info("temporary lockdown lifted")
	}

	result.DurationMs = e.clock.Now().Sub(start).Milliseconds()
	return result, nil
}

func (e *Enforcer) queueAlert(t domain.AlertType, details string) {
	req := AlertRequest{Type: t, Details: details, At: e.clock.Now()}
	select {
	case e.alerts <- req:
	default:
		e.logger.Warn("alert queue full, dropping alert",
			zap.String("event_type", string(t)))
	}
}
