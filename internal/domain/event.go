package domain

import (
	"strings"
	"time"
)

// WindowEvent is a foreground window change delivered by the host.
type WindowEvent struct {
	Package     string    `json:"package"`
	ClassName   string    `json:"class"`
	Text        []string  `json:"text,omitempty"`
	Description string    `json:"description,omitempty"`
	At          time.Time `json:"-"`
}

// VisibleText joins every piece of visible text carried by the event.
func (e WindowEvent) VisibleText() string {
	parts := make([]string, 0, len(e.Text)+1)
	parts = append(parts, e.Text...)
	if e.Description != "" {
		parts = append(parts, e.Description)
	}
	return strings.Join(parts, " ")
}

// Verdict is the allow/block decision for a window event.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictBlock Verdict = "block"
)

// OverlayKind selects which blocking UI the host renders.
type OverlayKind string

const (
	OverlayNone       OverlayKind = ""
	OverlayBlocker    OverlayKind = "blocker"
	OverlayPermission OverlayKind = "permission"
	OverlayLockdown   OverlayKind = "lockdown"
)

// AlertType names a tamper notification sent to the backend.
type AlertType string

const (
	AlertUninstallAttempt  AlertType = "uninstall_attempt"
	AlertPermissionTamper  AlertType = "permission_tamper"
	AlertPermissionRevoked AlertType = "permission_revoked"
	AlertLockdownActivated AlertType = "lockdown_activated"
)

// Effect is what the foreground classifier asks the host to do.
type Effect struct {
	Verdict Verdict
	Overlay OverlayKind
	Package string
	Reason  string
	// Alert is set when the decision should also be reported upstream.
	Alert AlertType
}

// Blocked reports whether the effect blocks the foreground app.
func (e Effect) Blocked() bool { return e.Verdict == VerdictBlock }

// Allow builds an allow effect for pkg.
func Allow(pkg, reason string) Effect {
	return Effect{Verdict: VerdictAllow, Package: pkg, Reason: reason}
}

// Block builds a block effect for pkg.
func Block(pkg string, overlay OverlayKind, reason string) Effect {
	return Effect{Verdict: VerdictBlock, Overlay: overlay, Package: pkg, Reason: reason}
}

// CommandType names a remote command.
type CommandType string

const (
	CmdLockdown          CommandType = "lockdown"
	CmdUnlock            CommandType = "unlock"
	CmdEnableService     CommandType = "enable_service"
	CmdDisableService    CommandType = "disable_service"
	CmdUpdateSchedule    CommandType = "update_schedule"
	CmdUpdateSchedules   CommandType = "update_schedules"
	CmdUpdateAllowedApps CommandType = "update_allowed_apps"
)

// Command is a server-pushed instruction.
type Command struct {
	ID   string         `json:"id,omitempty"`
	Type CommandType    `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// HeartbeatRequest is the periodic liveness report.
type HeartbeatRequest struct {
	DeviceID         string           `json:"device_id"`
	Timestamp        int64            `json:"timestamp"`
	IsServiceEnabled bool             `json:"is_service_enabled"`
	IsLockdownMode   bool             `json:"is_lockdown_mode"`
	Permissions      PermissionVector `json:"permissions"`
	BatteryLevel     int              `json:"battery_level"`
}

// ServerResponse is returned by heartbeat and alert endpoints.
type ServerResponse struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message,omitempty"`
	Commands []Command `json:"commands,omitempty"`
}

// AlertEvent is a fire-and-forget tamper notification.
type AlertEvent struct {
	DeviceID  string    `json:"device_id"`
	Timestamp int64     `json:"timestamp"`
	EventType AlertType `json:"event_type"`
	Details   string    `json:"details,omitempty"`
}

// RemoteConfig is the device configuration pulled from the backend.
type RemoteConfig struct {
	Schedules       []map[string]any `json:"schedules,omitempty"`
	AllowedApps     []string         `json:"allowed_apps,omitempty"`
	LockdownEnabled *bool            `json:"lockdown_enabled,omitempty"`
	ServiceEnabled  *bool            `json:"service_enabled,omitempty"`
}

// DeviceInfo describes the host for heartbeats and status output.
type DeviceInfo struct {
	Hostname     string
	Platform     string
	OSVersion    string
	BatteryLevel int
}
