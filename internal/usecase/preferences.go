package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

// Preferences is the typed view of the persisted enforcement state and the
// secret store. Lockdown fields are written only by LockdownMachine.
type Preferences struct {
	store          domain.StateStore
	secrets        domain.SecretStore
	defaultAllowed []string
	logger         *zap.Logger
}

// NewPreferences creates a Preferences over the given stores. defaultAllowed
// is returned by AllowList until a list has been saved.
func NewPreferences(store domain.StateStore, secrets domain.SecretStore, defaultAllowed []string, logger *zap.Logger) *Preferences {
	return &Preferences{
		store:          store,
		secrets:        secrets,
		defaultAllowed: append([]string(nil), defaultAllowed...),
		logger:         logger,
	}
}

// --- schedules ---

// Schedules returns the persisted schedule list. Unreadable records are
// skipped; an unreadable list yields no schedules.
func (p *Preferences) Schedules() []domain.Schedule {
	raw, err := p.store.Get(domain.KeySchedules)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.logger.Error("failed to read schedules", zap.Error(err))
		}
		return nil
	}
	records, dropped, err := DecodeScheduleRecords([]byte(raw))
	if err != nil {
		p.logger.Warn("persisted schedules unreadable, treating as empty", zap.Error(err))
		return nil
	}
	schedules, bad := IngestSchedules(records, time.Time{})
	for _, d := range append(dropped, bad...) {
		p.logger.Warn("skipping persisted schedule", zap.Error(d))
	}
	return schedules
}

// SaveSchedules replaces the persisted schedule list.
func (p *Preferences) SaveSchedules(schedules []domain.Schedule) error {
	if schedules == nil {
		schedules = []domain.Schedule{}
	}
	data, err := json.Marshal(schedules)
	if err != nil {
		return fmt.Errorf("failed to encode schedules: %w", err)
	}
	if err := p.store.SetMany(map[string]string{domain.KeySchedules: string(data)}); err != nil {
		return fmt.Errorf("failed to save schedules: %w", err)
	}
	return nil
}

// --- allow-list ---

// AllowList returns the persisted allow-list, or the default one.
func (p *Preferences) AllowList() []string {
	raw, err := p.store.Get(domain.KeyAllowedApps)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.logger.Error("failed to read allow-list", zap.Error(err))
		}
		return append([]string(nil), p.defaultAllowed...)
	}
	var apps []string
	if err := json.Unmarshal([]byte(raw), &apps); err != nil {
		p.logger.Warn("persisted allow-list unreadable, using default", zap.Error(err))
		return append([]string(nil), p.defaultAllowed...)
	}
	return apps
}

// SaveAllowList replaces the persisted allow-list.
func (p *Preferences) SaveAllowList(apps []string) error {
	set := make(map[string]struct{}, len(apps))
	unique := make([]string, 0, len(apps))
	for _, a := range apps {
		if _, dup := set[a]; a == "" || dup {
			continue
		}
		set[a] = struct{}{}
		unique = append(unique, a)
	}
	sort.Strings(unique)
	data, err := json.Marshal(unique)
	if err != nil {
		return fmt.Errorf("failed to encode allow-list: %w", err)
	}
	if err := p.store.SetMany(map[string]string{domain.KeyAllowedApps: string(data)}); err != nil {
		return fmt.Errorf("failed to save allow-list: %w", err)
	}
	return nil
}

// IsAllowed reports whether pkg is on the allow-list.
func (p *Preferences) IsAllowed(pkg string) bool {
	for _, a := range p.AllowList() {
		if a == pkg {
			return true
		}
	}
	return false
}

// --- toggles ---

// ServiceEnabled reports whether schedule enforcement is switched on.
func (p *Preferences) ServiceEnabled() bool {
	return p.getBool(domain.KeyServiceEnabled, false)
}

// SetServiceEnabled flips schedule enforcement.
func (p *Preferences) SetServiceEnabled(enabled bool) error {
	return p.store.SetMany(map[string]string{domain.KeyServiceEnabled: strconv.FormatBool(enabled)})
}

// WebSyncEnabled reports whether heartbeats and alerts are sent.
func (p *Preferences) WebSyncEnabled() bool {
	return p.getBool(domain.KeyWebSyncEnabled, false)
}

// SetWebSyncEnabled flips backend synchronization.
func (p *Preferences) SetWebSyncEnabled(enabled bool) error {
	return p.store.SetMany(map[string]string{domain.KeyWebSyncEnabled: strconv.FormatBool(enabled)})
}

// --- permission baseline ---

// Baseline returns the recorded capability baseline and whether one has
// been established. A failed read returns the error and ok=false; callers
// must not treat the zero vector as a baseline.
func (p *Preferences) Baseline() (domain.PermissionVector, bool, error) {
	values, err := p.store.GetMany(
		domain.KeyPermissionsGranted,
		domain.KeyDeviceAdminGranted,
		domain.KeyAccessibilityGranted,
		domain.KeyOverlayGranted,
		domain.KeyUsageStatsGranted,
	)
	if err != nil {
		return domain.PermissionVector{}, false, fmt.Errorf("failed to read permission baseline: %w", err)
	}
	v := domain.PermissionVector{
		DeviceAdmin:   parseBool(values[domain.KeyDeviceAdminGranted]),
		Accessibility: parseBool(values[domain.KeyAccessibilityGranted]),
		Overlay:       parseBool(values[domain.KeyOverlayGranted]),
		UsageStats:    parseBool(values[domain.KeyUsageStatsGranted]),
	}
	return v, parseBool(values[domain.KeyPermissionsGranted]), nil
}

// baselineValues encodes v as an established baseline.
func baselineValues(v domain.PermissionVector) map[string]string {
	return map[string]string{
		domain.KeyPermissionsGranted:   "true",
		domain.KeyDeviceAdminGranted:   strconv.FormatBool(v.DeviceAdmin),
		domain.KeyAccessibilityGranted: strconv.FormatBool(v.Accessibility),
		domain.KeyOverlayGranted:       strconv.FormatBool(v.Overlay),
		domain.KeyUsageStatsGranted:    strconv.FormatBool(v.UsageStats),
	}
}

// --- lockdown record ---

// Lockdown returns the persisted lockdown state. On a read failure the
// returned state carries no information; callers fall back on their own
// last known state.
func (p *Preferences) Lockdown() (domain.LockdownState, error) {
	values, err := p.store.GetMany(
		domain.KeyLockdownMode,
		domain.KeyLockdownOrigin,
		domain.KeyLockdownReason,
		domain.KeyLockdownUntil,
		domain.KeyLockdownPenaltyCount,
		domain.KeyLastPenaltyTime,
	)
	if err != nil {
		return domain.LockdownState{Mode: domain.LockdownNormal}, fmt.Errorf("failed to read lockdown state: %w", err)
	}
	return decodeLockdown(values), nil
}

func decodeLockdown(values map[string]string) domain.LockdownState {
	s := domain.LockdownState{
		Mode:         domain.LockdownNormal,
		Origin:       domain.LockdownOrigin(values[domain.KeyLockdownOrigin]),
		Reason:       values[domain.KeyLockdownReason],
		PenaltyCount: int(parseInt(values[domain.KeyLockdownPenaltyCount])),
		LastPenalty:  fromMillis(parseInt(values[domain.KeyLastPenaltyTime])),
	}
	until := parseInt(values[domain.KeyLockdownUntil])
	if parseBool(values[domain.KeyLockdownMode]) {
		if until > 0 {
			s.Mode = domain.LockdownTemporary
			s.Until = fromMillis(until)
		} else {
			s.Mode = domain.LockdownPermanent
		}
	} else {
		s.Origin = domain.OriginNone
	}
	return s
}

// encodeLockdown writes every lockdown field so a reader never sees a
// partially applied transition.
func encodeLockdown(s domain.LockdownState) map[string]string {
	active := s.Active()
	until := int64(0)
	if s.Mode == domain.LockdownTemporary {
		until = s.Until.UnixMilli()
	}
	origin := s.Origin
	if !active {
		origin = domain.OriginNone
	}
	return map[string]string{
		domain.KeyLockdownMode:         strconv.FormatBool(active),
		domain.KeyLockdownOrigin:       string(origin),
		domain.KeyLockdownReason:       s.Reason,
		domain.KeyLockdownUntil:        strconv.FormatInt(until, 10),
		domain.KeyLockdownPenaltyCount: strconv.Itoa(s.PenaltyCount),
		domain.KeyLastPenaltyTime:      strconv.FormatInt(toMillis(s.LastPenalty), 10),
	}
}

// --- secrets ---

// Student returns the enrolled student identity.
func (p *Preferences) Student() domain.StudentIdentity {
	return domain.StudentIdentity{
		ID:     p.secret(domain.SecretStudentID),
		Name:   p.secret(domain.SecretStudentName),
		RUT:    p.secret(domain.SecretStudentRUT),
		School: p.secret(domain.SecretSchoolName),
		Course: p.secret(domain.SecretStudentCourse),
	}
}

// StudentLoggedIn reports whether a student session is active.
func (p *Preferences) StudentLoggedIn() bool {
	return p.secret(domain.SecretStudentRUT) != ""
}

// SaveStudent stores the student identity.
func (p *Preferences) SaveStudent(s domain.StudentIdentity) error {
	fields := map[string]string{
		domain.SecretStudentID:     s.ID,
		domain.SecretStudentName:   s.Name,
		domain.SecretStudentRUT:    s.RUT,
		domain.SecretSchoolName:    s.School,
		domain.SecretStudentCourse: s.Course,
	}
	for k, v := range fields {
		if err := p.secrets.SetSecret(k, v); err != nil {
			return fmt.Errorf("failed to save %s: %w", k, err)
		}
	}
	return nil
}

// ClearStudent ends the student session.
func (p *Preferences) ClearStudent() error {
	return p.secrets.DeleteSecrets(
		domain.SecretStudentID,
		domain.SecretStudentName,
		domain.SecretStudentRUT,
		domain.SecretSchoolName,
		domain.SecretStudentCourse,
	)
}

// ServerURL returns the enrolled backend URL.
func (p *Preferences) ServerURL() string { return p.secret(domain.SecretServerURL) }

// DeviceToken returns the enrolled bearer token.
func (p *Preferences) DeviceToken() string { return p.secret(domain.SecretDeviceToken) }

// SaveEnrollment stores the backend URL and device token.
func (p *Preferences) SaveEnrollment(serverURL, token string) error {
	if err := p.secrets.SetSecret(domain.SecretServerURL, serverURL); err != nil {
		return fmt.Errorf("failed to save server url: %w", err)
	}
	if err := p.secrets.SetSecret(domain.SecretDeviceToken, token); err != nil {
		return fmt.Errorf("failed to save device token: %w", err)
	}
	return nil
}

// DeviceID returns the device identifier, creating one on first use.
func (p *Preferences) DeviceID() (string, error) {
	if id := p.secret(domain.SecretDeviceID); id != "" {
		return id, nil
	}
	id := uuid.NewString()
	if err := p.secrets.SetSecret(domain.SecretDeviceID, id); err != nil {
		return "", fmt.Errorf("failed to save device id: %w", err)
	}
	return id, nil
}

func (p *Preferences) secret(key string) string {
	v, err := p.secrets.GetSecret(key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("failed to read secret", zap.String("key", key), zap.Error(err))
		}
		return ""
	}
	return v
}

func (p *Preferences) getBool(key string, def bool) bool {
	raw, err := p.store.Get(key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.logger.Error("failed to read flag", zap.String("key", key), zap.Error(err))
		}
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
