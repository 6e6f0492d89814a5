package infra

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

const defaultProbeTimeout = 2 * time.Second

// CommandProber answers capability queries by running a shell command per
// capability: exit 0 means granted, any other exit status means revoked.
// A command that cannot be started, times out, or is not configured leaves
// the answer unknown.
type CommandProber struct {
	commands map[domain.Capability]string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewCommandProber creates a prober from capability to shell command.
func NewCommandProber(commands map[domain.Capability]string, timeout time.Duration, logger *zap.Logger) *CommandProber {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	cmds := make(map[domain.Capability]string, len(commands))
	for c, cmd := range commands {
		cmds[c] = cmd
	}
	return &CommandProber{commands: cmds, timeout: timeout, logger: logger}
}

// Probe runs the command configured for c.
func (p *CommandProber) Probe(ctx context.Context, c domain.Capability) (bool, error) {
	command, ok := p.commands[c]
	if !ok || command == "" {
		return false, fmt.Errorf("%s: no probe command: %w", c, domain.ErrProbeFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := exec.CommandContext(ctx, "/bin/sh", "-c", command).Run()
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, fmt.Errorf("%s: probe timed out: %w", c, domain.ErrProbeFailed)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		p.logger.Debug("capability probe reported revoked",
			zap.String("capability", string(c)),
			zap.Int("exit_code", exitErr.ExitCode()))
		return false, nil
	}
	return false, fmt.Errorf("%s: %v: %w", c, err, domain.ErrProbeFailed)
}

var _ domain.PermissionProber = (*CommandProber)(nil)
