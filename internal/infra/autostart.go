package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
)

const unitTemplate = `[Unit]
Description=classmon class-hours supervision agent
After=network-online.target

[Service]
Type=oneshot
RemainAfterExit=yes
ExecStart={{.ExecutablePath}} start
Environment=CLASSMON_DATA_DIR={{.DataDir}}

[Install]
WantedBy={{.WantedBy}}
`

type unitConfig struct {
	ExecutablePath string
	DataDir        string
	WantedBy       string
}

// SystemdAutostart keeps a systemd unit that runs "classmon start" at boot
// (system mode) or login (user mode).
type SystemdAutostart struct {
	mode     ExecMode
	unitPath string
	dataDir  string
	// systemctl runs systemctl with args; replaced in tests.
	systemctl func(args ...string) error
}

// NewSystemdAutostart creates a unit manager for the exec mode.
func NewSystemdAutostart(config *ExecModeConfig) *SystemdAutostart {
	a := &SystemdAutostart{
		mode:     config.Mode,
		unitPath: config.UnitPath,
		dataDir:  config.DataDir,
	}
	a.systemctl = func(args ...string) error {
		if a.mode == ExecModeUser {
			args = append([]string{"--user"}, args...)
		}
		return exec.Command("systemctl", args...).Run()
	}
	return a
}

func (a *SystemdAutostart) content(execPath string) ([]byte, error) {
	wantedBy := "default.target"
	if a.mode == ExecModeSystem {
		wantedBy = "multi-user.target"
	}

	tmpl, err := template.New("unit").Parse(unitTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unit template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, unitConfig{
		ExecutablePath: execPath,
		DataDir:        a.dataDir,
		WantedBy:       wantedBy,
	}); err != nil {
		return nil, fmt.Errorf("failed to render unit: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes and enables the unit.
func (a *SystemdAutostart) Install(execPath string) error {
	if err := a.write(execPath); err != nil {
		return err
	}
	return a.enable()
}

// Update rewrites the unit and reloads systemd.
func (a *SystemdAutostart) Update(execPath string) error {
	return a.Install(execPath)
}

// Uninstall disables and removes the unit.
func (a *SystemdAutostart) Uninstall() error {
	_ = a.systemctl("disable", filepath.Base(a.unitPath))
	if err := os.Remove(a.unitPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsInstalled reports whether the unit file exists.
func (a *SystemdAutostart) IsInstalled() bool {
	_, err := os.Stat(a.unitPath)
	return err == nil
}

// NeedsUpdate reports whether an installed unit differs from what
// execPath would produce.
func (a *SystemdAutostart) NeedsUpdate(execPath string) bool {
	if !a.IsInstalled() {
		return false
	}
	current, err := os.ReadFile(a.unitPath)
	if err != nil {
		return true
	}
	expected, err := a.content(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// Path returns the unit file path.
func (a *SystemdAutostart) Path() string {
	return a.unitPath
}

func (a *SystemdAutostart) write(execPath string) error {
	if err := os.MkdirAll(filepath.Dir(a.unitPath), 0755); err != nil {
		return err
	}
	content, err := a.content(execPath)
	if err != nil {
		return err
	}
	return os.WriteFile(a.unitPath, content, 0644)
}

func (a *SystemdAutostart) enable() error {
	if err := a.systemctl("daemon-reload"); err != nil {
		return fmt.Errorf("systemctl daemon-reload: %w", err)
	}
	if err := a.systemctl("enable", filepath.Base(a.unitPath)); err != nil {
		return fmt.Errorf("systemctl enable: %w", err)
	}
	return nil
}
