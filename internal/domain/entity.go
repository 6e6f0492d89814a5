// Package domain contains core business entities and interfaces.
// This is the innermost layer - no dependencies on other internal packages.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// DaemonRole identifies the type of daemon process.
type DaemonRole string

const (
	RoleSupervisor DaemonRole = "supervisor"
	RoleGuardian   DaemonRole = "guardian"
)

// Daemon represents a running daemon process.
type Daemon struct {
	PID        int
	Role       DaemonRole
	Name       string
	StartedAt  time.Time
	AppVersion string
}

// RegistryEntry stores the state of both daemons for mutual discovery.
type RegistryEntry struct {
	Version        int    `json:"version"`
	SupervisorPID  int    `json:"supervisor_pid"`
	SupervisorName string `json:"supervisor_name"`
	GuardianPID    int    `json:"guardian_pid"`
	GuardianName   string `json:"guardian_name"`
	LastHeartbeat  int64  `json:"last_heartbeat"`
	Mode           string `json:"mode,omitempty"`
	AppVersion     string `json:"app_version,omitempty"`
}

// Weekday numbering follows the 1=Sunday .. 7=Saturday convention used by
// schedule payloads.
const (
	Sunday    = 1
	Monday    = 2
	Tuesday   = 3
	Wednesday = 4
	Thursday  = 5
	Friday    = 6
	Saturday  = 7
)

// DefaultDaysOfWeek is Monday through Friday.
var DefaultDaysOfWeek = []int{Monday, Tuesday, Wednesday, Thursday, Friday}

// DayOfWeek converts a time to the 1=Sunday numbering.
func DayOfWeek(t time.Time) int {
	return int(t.Weekday()) + 1
}

// Schedule is a weekly interval. Class intervals block, recess intervals
// allow and win over overlapping class intervals.
type Schedule struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	StartHour   int    `json:"startHour"`
	StartMinute int    `json:"startMinute"`
	EndHour     int    `json:"endHour"`
	EndMinute   int    `json:"endMinute"`
	DaysOfWeek  []int  `json:"daysOfWeek"`
	Enabled     bool   `json:"enabled"`
	IsClassTime bool   `json:"isClassTime"`
}

// StartMinutes returns the start as minutes since midnight.
func (s Schedule) StartMinutes() int { return s.StartHour*60 + s.StartMinute }

// EndMinutes returns the end as minutes since midnight.
func (s Schedule) EndMinutes() int { return s.EndHour*60 + s.EndMinute }

// Overnight reports whether the interval wraps past midnight.
func (s Schedule) Overnight() bool { return s.StartMinutes() > s.EndMinutes() }

// OnDay reports whether the schedule applies on the given 1=Sunday weekday.
func (s Schedule) OnDay(day int) bool {
	for _, d := range s.DaysOfWeek {
		if d == day {
			return true
		}
	}
	return false
}

// Validate checks clock ranges and that an enabled schedule has days.
func (s Schedule) Validate() error {
	if s.StartHour < 0 || s.StartHour > 23 || s.EndHour < 0 || s.EndHour > 23 {
		return fmt.Errorf("schedule %d: hour out of range", s.ID)
	}
	if s.StartMinute < 0 || s.StartMinute > 59 || s.EndMinute < 0 || s.EndMinute > 59 {
		return fmt.Errorf("schedule %d: minute out of range", s.ID)
	}
	for _, d := range s.DaysOfWeek {
		if d < Sunday || d > Saturday {
			return fmt.Errorf("schedule %d: day %d out of range", s.ID, d)
		}
	}
	if s.Enabled && len(s.DaysOfWeek) == 0 {
		return fmt.Errorf("schedule %d: enabled without days", s.ID)
	}
	return nil
}

// FormatClock renders minutes since midnight as HH:MM.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// BlockStatus is the outcome of classifying a moment against the schedules.
type BlockStatus string

const (
	StatusAllowed BlockStatus = "allowed"
	StatusBlocked BlockStatus = "blocked"
)

// TimeClassification is the result of a time classification.
type TimeClassification struct {
	Status      BlockStatus
	InClassTime bool
	InRecess    bool
	// NextUnblock is the minute of day when blocking is next expected to
	// lift. Valid only when HasNextUnblock is true.
	NextUnblock    int
	HasNextUnblock bool
	NextTransition time.Time
}

// Blocked is a convenience for Status == StatusBlocked.
func (c TimeClassification) Blocked() bool { return c.Status == StatusBlocked }

// NextUnblockLabel returns the next unblock time as HH:MM, or "".
func (c TimeClassification) NextUnblockLabel() string {
	if !c.HasNextUnblock {
		return ""
	}
	return FormatClock(c.NextUnblock)
}

// Capability is one of the OS-granted privileges the enforcer relies on.
type Capability string

const (
	CapDeviceAdmin   Capability = "device_admin"
	CapAccessibility Capability = "accessibility"
	CapOverlay       Capability = "overlay"
	CapUsageStats    Capability = "usage_stats"
)

// AllCapabilities lists capabilities in reporting order.
var AllCapabilities = []Capability{CapDeviceAdmin, CapAccessibility, CapOverlay, CapUsageStats}

// Label returns a human-readable capability name.
func (c Capability) Label() string {
	switch c {
	case CapDeviceAdmin:
		return "Device Admin"
	case CapAccessibility:
		return "Accessibility"
	case CapOverlay:
		return "Overlay"
	case CapUsageStats:
		return "Usage Stats"
	default:
		return string(c)
	}
}

// PermissionVector is a snapshot of the four capabilities.
type PermissionVector struct {
	DeviceAdmin   bool `json:"device_admin"`
	Accessibility bool `json:"accessibility"`
	Overlay       bool `json:"overlay"`
	UsageStats    bool `json:"usage_stats"`
}

// Get returns one capability.
func (v PermissionVector) Get(c Capability) bool {
	switch c {
	case CapDeviceAdmin:
		return v.DeviceAdmin
	case CapAccessibility:
		return v.Accessibility
	case CapOverlay:
		return v.Overlay
	case CapUsageStats:
		return v.UsageStats
	}
	return false
}

// With returns a copy with one capability changed.
func (v PermissionVector) With(c Capability, granted bool) PermissionVector {
	switch c {
	case CapDeviceAdmin:
		v.DeviceAdmin = granted
	case CapAccessibility:
		v.Accessibility = granted
	case CapOverlay:
		v.Overlay = granted
	case CapUsageStats:
		v.UsageStats = granted
	}
	return v
}

// AllGranted reports whether every capability is granted.
func (v PermissionVector) AllGranted() bool {
	return v.DeviceAdmin && v.Accessibility && v.Overlay && v.UsageStats
}

// RevokedSince returns the capabilities true in baseline and false in v.
func (v PermissionVector) RevokedSince(baseline PermissionVector) []Capability {
	var revoked []Capability
	for _, c := range AllCapabilities {
		if baseline.Get(c) && !v.Get(c) {
			revoked = append(revoked, c)
		}
	}
	return revoked
}

// Restores reports whether every capability true in baseline is true in v.
func (v PermissionVector) Restores(baseline PermissionVector) bool {
	return len(v.RevokedSince(baseline)) == 0
}

// RevocationReason joins capability labels with ", ".
func RevocationReason(caps []Capability) string {
	labels := make([]string, len(caps))
	for i, c := range caps {
		labels[i] = c.Label()
	}
	return strings.Join(labels, ", ")
}

// LockdownMode tags the active lockdown variant.
type LockdownMode string

const (
	LockdownNormal    LockdownMode = "normal"
	LockdownPermanent LockdownMode = "permanent"
	LockdownTemporary LockdownMode = "temporary"
)

// LockdownOrigin records what put the device into lockdown. It decides
// which path may lift a permanent lockdown.
type LockdownOrigin string

const (
	OriginNone       LockdownOrigin = ""
	OriginPermission LockdownOrigin = "permission"
	OriginViolation  LockdownOrigin = "violation"
	OriginRemote     LockdownOrigin = "remote"
)

// LockdownState is the persisted lockdown record. PenaltyCount and
// LastPenalty survive transitions back to normal.
type LockdownState struct {
	Mode         LockdownMode
	Origin       LockdownOrigin
	Reason       string
	Until        time.Time
	PenaltyCount int
	LastPenalty  time.Time
}

// Active reports whether any lockdown applies.
func (s LockdownState) Active() bool { return s.Mode != LockdownNormal && s.Mode != "" }

// Expired reports whether a temporary lockdown has run out at now.
// Permanent and normal states never expire.
func (s LockdownState) Expired(now time.Time) bool {
	return s.Mode == LockdownTemporary && !now.Before(s.Until)
}

// Remaining returns the time left on a temporary lockdown.
func (s LockdownState) Remaining(now time.Time) time.Duration {
	if s.Mode != LockdownTemporary || !now.Before(s.Until) {
		return 0
	}
	return s.Until.Sub(now)
}

// RemainingSeconds returns whole seconds left (floor).
func (s LockdownState) RemainingSeconds(now time.Time) int {
	return int(s.Remaining(now) / time.Second)
}

// RemainingMinutes returns minutes left rounded up.
func (s LockdownState) RemainingMinutes(now time.Time) int {
	r := s.Remaining(now)
	if r <= 0 {
		return 0
	}
	return int(r/time.Minute) + 1
}

// StudentIdentity is the enrolled student. A session is active when RUT is set.
type StudentIdentity struct {
	ID     string
	Name   string
	RUT    string
	School string
	Course string
}

// LoggedIn reports whether a student session is active.
func (s StudentIdentity) LoggedIn() bool { return s.RUT != "" }

// ForegroundContext is the process-local debounce and grace state of the
// foreground classifier. It is rebuilt on every attach.
type ForegroundContext struct {
	CurrentPackage     string
	LastBlockedPackage string
	LastBlockTime      time.Time
	WasInSelf          bool
	SelfExitTime       time.Time
	AttachedAt         time.Time
}
