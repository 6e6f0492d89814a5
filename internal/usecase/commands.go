package usecase

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

// ErrUnknownCommand is returned for command types the merger does not know.
var ErrUnknownCommand = errors.New("unknown command")

// CommandMerger applies server-pushed commands through the same mutation
// paths local triggers use.
type CommandMerger struct {
	prefs   *Preferences
	machine *LockdownMachine
	clock   domain.Clock
	logger  *zap.Logger
}

// NewCommandMerger creates a merger.
func NewCommandMerger(prefs *Preferences, machine *LockdownMachine, clock domain.Clock, logger *zap.Logger) *CommandMerger {
	return &CommandMerger{
		prefs:   prefs,
		machine: machine,
		clock:   clock,
		logger:  logger,
	}
}

// Apply executes one command.
func (m *CommandMerger) Apply(cmd domain.Command) error {
	switch cmd.Type {
	case domain.CmdLockdown:
		reason := ReasonRemoteLockdown
		if r, ok := cmd.Data["reason"].(string); ok && r != "" {
			reason = r
		}
		_, err := m.machine.EnterPermanent(reason, domain.OriginRemote)
		return err

	case domain.CmdUnlock:
		return m.machine.Unlock()

	case domain.CmdEnableService:
		return m.prefs.SetServiceEnabled(true)

	case domain.CmdDisableService:
		return m.prefs.SetServiceEnabled(false)

	case domain.CmdUpdateSchedule, domain.CmdUpdateSchedules:
		records, skipped, err := scheduleRecordsFrom(cmd.Data)
		if err != nil {
			return err
		}
		if skipped > 0 {
			m.logger.Warn("dropping non-object schedule entries", zap.Int("count", skipped))
		}
		return m.ReplaceSchedules(records)

	case domain.CmdUpdateAllowedApps:
		apps, err := stringList(cmd.Data["apps"])
		if err != nil {
			return fmt.Errorf("update_allowed_apps: %w", err)
		}
		return m.prefs.SaveAllowList(apps)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
}

// ApplyAll executes commands in order. Failures are logged and do not stop
// later commands. It returns the commands that applied.
func (m *CommandMerger) ApplyAll(cmds []domain.Command) []domain.Command {
	applied := make([]domain.Command, 0, len(cmds))
	for _, cmd := range cmds {
		if err := m.Apply(cmd); err != nil {
			if errors.Is(err, ErrUnknownCommand) {
				m.logger.Warn("ignoring unknown command", zap.String("type", string(cmd.Type)))
			} else {
				m.logger.Warn("command failed",
					zap.String("type", string(cmd.Type)),
					zap.Error(err))
			}
			continue
		}
		m.logger.Info("command applied", zap.String("type", string(cmd.Type)))
		applied = append(applied, cmd)
	}
	return applied
}

// ReplaceSchedules ingests records and replaces the whole schedule list.
// Dropped records are logged.
func (m *CommandMerger) ReplaceSchedules(records []map[string]any) error {
	schedules, dropped := IngestSchedules(records, m.clock.Now())
	for _, d := range dropped {
		m.logger.Warn("dropping schedule record", zap.Int("index", d.Index), zap.Error(d.Err))
	}
	if err := m.prefs.SaveSchedules(schedules); err != nil {
		return err
	}
	m.logger.Info("schedules replaced",
		zap.Int("count", len(schedules)),
		zap.Int("dropped", len(dropped)))
	return nil
}

// ApplyRemoteConfig folds a pulled configuration into commands and applies
// them.
func (m *CommandMerger) ApplyRemoteConfig(cfg *domain.RemoteConfig) []domain.Command {
	if cfg == nil {
		return nil
	}
	var cmds []domain.Command
	if cfg.Schedules != nil {
		records := make([]any, len(cfg.Schedules))
		for i, r := range cfg.Schedules {
			records[i] = r
		}
		cmds = append(cmds, domain.Command{
			Type: domain.CmdUpdateSchedules,
			Data: map[string]any{"schedules": records},
		})
	}
	if cfg.AllowedApps != nil {
		apps := make([]any, len(cfg.AllowedApps))
		for i, a := range cfg.AllowedApps {
			apps[i] = a
		}
		cmds = append(cmds, domain.Command{
			Type: domain.CmdUpdateAllowedApps,
			Data: map[string]any{"apps": apps},
		})
	}
	if cfg.ServiceEnabled != nil {
		t := domain.CmdDisableService
		if *cfg.ServiceEnabled {
			t = domain.CmdEnableService
		}
		cmds = append(cmds, domain.Command{Type: t})
	}
	if cfg.LockdownEnabled != nil {
		state := m.machine.State()
		switch {
		case *cfg.LockdownEnabled && state.Mode != domain.LockdownPermanent:
			cmds = append(cmds, domain.Command{Type: domain.CmdLockdown})
		case !*cfg.LockdownEnabled && state.Origin == domain.OriginRemote:
			cmds = append(cmds, domain.Command{Type: domain.CmdUnlock})
		}
	}
	return m.ApplyAll(cmds)
}

// scheduleRecordsFrom finds the schedule list in a command payload: under
// "schedules", or the payload itself when it carries a single record.
func scheduleRecordsFrom(data map[string]any) ([]map[string]any, int, error) {
	raw, ok := data["schedules"]
	if !ok {
		if len(data) == 0 {
			return nil, 0, fmt.Errorf("update_schedule: missing schedules")
		}
		return []map[string]any{data}, 0, nil
	}
	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case []map[string]any:
		return v, 0, nil
	default:
		return nil, 0, fmt.Errorf("update_schedule: schedules is %T, want list", raw)
	}
	records := make([]map[string]any, 0, len(list))
	skipped := 0
	for _, item := range list {
		rec, ok := item.(map[string]any)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

func stringList(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("missing apps")
	default:
		return nil, fmt.Errorf("apps is %T, want list", v)
	}
}
