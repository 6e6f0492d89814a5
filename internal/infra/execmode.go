package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode is the privilege level the agent runs with.
type ExecMode string

const (
	// ExecModeUser keeps data under the invoking user's home.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem keeps data under /var/lib and requires root.
	ExecModeSystem ExecMode = "system"
)

// ExecModeConfig holds the filesystem layout for a mode.
type ExecModeConfig struct {
	Mode       ExecMode
	DataDir    string // Encrypted store and its key
	LogPath    string // Daemon log file
	EventsPath string // Default window-event FIFO
	UnitPath   string // systemd unit that starts the agent at boot or login
	IsRoot     bool
}

// DetectExecMode picks the layout from the effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 {
		return SystemModeConfig()
	}
	return UserModeConfig()
}

// SystemModeConfig returns the root layout.
func SystemModeConfig() *ExecModeConfig {
	return &ExecModeConfig{
		Mode:       ExecModeSystem,
		DataDir:    "/var/lib/classmon",
		LogPath:    "/var/log/classmon/classmon.log",
		EventsPath: "/run/classmon/events",
		UnitPath:   "/etc/systemd/system/classmon.service",
		IsRoot:     true,
	}
}

// UserModeConfig returns the per-user layout, resolving the real user's
// home under sudo.
func UserModeConfig() *ExecModeConfig {
	dataDir := filepath.Join(GetRealUserHome(), ".classmon")
	return &ExecModeConfig{
		Mode:       ExecModeUser,
		DataDir:    dataDir,
		LogPath:    filepath.Join(dataDir, "classmon.log"),
		EventsPath: filepath.Join(dataDir, "events"),
		UnitPath:   filepath.Join(GetRealUserHome(), ".config", "systemd", "user", "classmon.service"),
		IsRoot:     os.Geteuid() == 0,
	}
}

// WithDataDir relocates every path under dir.
func (c *ExecModeConfig) WithDataDir(dir string) *ExecModeConfig {
	out := *c
	out.DataDir = dir
	out.LogPath = filepath.Join(dir, "classmon.log")
	out.EventsPath = filepath.Join(dir, "events")
	return &out
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the invoking user's home directory, even under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
