package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key, secret or registration is missing.
	ErrNotFound = errors.New("not found")

	// ErrBaselineIncomplete is returned when a baseline capture is attempted
	// before every capability is granted.
	ErrBaselineIncomplete = errors.New("not all capabilities are granted")

	// ErrLockdownActive is returned when an operation is refused because a
	// lockdown is in force.
	ErrLockdownActive = errors.New("lockdown active")

	// ErrProbeFailed marks a capability query that could not be answered.
	ErrProbeFailed = errors.New("capability probe failed")
)

// Persisted state keys.
const (
	KeySchedules            = "schedules"
	KeyAllowedApps          = "allowed_apps"
	KeyServiceEnabled       = "service_enabled"
	KeyWebSyncEnabled       = "web_sync_enabled"
	KeyPermissionsGranted   = "permissions_granted"
	KeyDeviceAdminGranted   = "device_admin_granted"
	KeyAccessibilityGranted = "accessibility_granted"
	KeyOverlayGranted       = "overlay_granted"
	KeyUsageStatsGranted    = "usage_stats_granted"
	KeyLockdownMode         = "lockdown_mode"
	KeyLockdownReason       = "lockdown_reason"
	KeyLockdownUntil        = "lockdown_until"
	KeyLockdownPenaltyCount = "lockdown_penalty_count"
	KeyLastPenaltyTime      = "last_penalty_time"
	KeyLockdownOrigin       = "lockdown_origin"
)

// Secret keys.
const (
	SecretServerURL     = "server_url"
	SecretDeviceID      = "device_id"
	SecretDeviceToken   = "device_token"
	SecretStudentID     = "student_id"
	SecretStudentName   = "student_name"
	SecretStudentRUT    = "student_rut"
	SecretSchoolName    = "school_name"
	SecretStudentCourse = "student_course"
)

// StateStore is the on-device key-value store for enforcement state.
// Implementation: SQLCipher table, one transaction per SetMany.
type StateStore interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) (string, error)

	// GetMany returns the present subset of keys.
	GetMany(keys ...string) (map[string]string, error)

	// SetMany writes all values atomically.
	SetMany(values map[string]string) error
}

// SecretStore provides encrypted persistent storage for secrets.
type SecretStore interface {
	// GetSecret retrieves a secret by key, or ErrNotFound.
	GetSecret(key string) (string, error)

	// SetSecret stores a secret.
	SetSecret(key, value string) error

	// DeleteSecrets removes secrets; missing keys are ignored.
	DeleteSecrets(keys ...string) error

	// Close releases resources (e.g., database connection).
	Close() error
}

// KeyProvider abstracts the source of the store encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// DaemonRegistry provides daemon discovery and registration.
type DaemonRegistry interface {
	// Register saves the daemon's PID and name.
	Register(daemon Daemon) error

	// GetPartner returns the partner daemon info (supervisor<->guardian).
	GetPartner(role DaemonRole) (*Daemon, error)

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat(role DaemonRole) error

	// IsPartnerAlive checks if partner daemon is running via PID.
	IsPartnerAlive(role DaemonRole) (bool, error)

	// GetAll returns full registry state (for status command).
	GetAll() (*RegistryEntry, error)

	// Clear removes all registrations.
	Clear() error
}

// PermissionProber answers whether one capability is currently granted.
// A returned error means the answer is unknown.
type PermissionProber interface {
	Probe(ctx context.Context, c Capability) (bool, error)
}

// OverlayPresenter renders blocking UI. Calls must not wait for dismissal.
type OverlayPresenter interface {
	Show(effect Effect)
}

// SyncClient talks to the supervision backend.
type SyncClient interface {
	// Heartbeat reports liveness and returns pending commands.
	Heartbeat(ctx context.Context, token string, req HeartbeatRequest) (*ServerResponse, error)

	// SendAlert posts a tamper notification.
	SendAlert(ctx context.Context, token string, alert AlertEvent) error

	// FetchConfig pulls the device configuration.
	FetchConfig(ctx context.Context, token, deviceID string) (*RemoteConfig, error)

	// AckCommand acknowledges a processed command.
	AckCommand(ctx context.Context, token, commandID string) error

	// Health checks backend reachability.
	Health(ctx context.Context) error
}

// DeviceInfoProvider describes the host.
type DeviceInfoProvider interface {
	Info(ctx context.Context) (DeviceInfo, error)
}

// Ticker delivers periodic ticks and can be re-armed.
type Ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

// Clock abstracts wall time and tickers so periodic logic can be driven
// deterministically.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}
