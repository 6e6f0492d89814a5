package infra

import (
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

// CommandPresenter renders overlays by starting a configured shell command
// with the overlay described in CLASSMON_* environment variables. With no
// command configured, overlays are only logged. Show never waits for the
// command to finish.
type CommandPresenter struct {
	command string
	logger  *zap.Logger
}

// NewCommandPresenter creates a presenter. command may be empty.
func NewCommandPresenter(command string, logger *zap.Logger) *CommandPresenter {
	return &CommandPresenter{command: command, logger: logger}
}

// Show renders eff.
func (p *CommandPresenter) Show(eff domain.Effect) {
	p.logger.Info("overlay",
		zap.String("overlay", string(eff.Overlay)),
		zap.String("package", eff.Package),
		zap.String("reason", eff.Reason))
	if p.command == "" {
		return
	}

	cmd := exec.Command("/bin/sh", "-c", p.command)
	cmd.Env = append(os.Environ(),
		"CLASSMON_OVERLAY="+string(eff.Overlay),
		"CLASSMON_PACKAGE="+eff.Package,
		"CLASSMON_REASON="+eff.Reason,
	)
	if err := cmd.Start(); err != nil {
		p.logger.Warn("failed to start overlay command", zap.Error(err))
		return
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			p.logger.Debug("overlay command exited", zap.Error(err))
		}
	}()
}

var _ domain.OverlayPresenter = (*CommandPresenter)(nil)
