// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
	"github.com/eliteGoblin/focusd/class_mon/internal/infra"
	"github.com/eliteGoblin/focusd/class_mon/internal/policy"
	"github.com/eliteGoblin/focusd/class_mon/internal/usecase"
)

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock starts at t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// NewTicker returns a ticker that never fires.
func (c *ManualClock) NewTicker(d time.Duration) domain.Ticker {
	return idleTicker{ch: make(chan time.Time)}
}

type idleTicker struct{ ch chan time.Time }

func (t idleTicker) C() <-chan time.Time   { return t.ch }
func (t idleTicker) Reset(d time.Duration) {}
func (t idleTicker) Stop()                 {}

// ScriptedProber answers capability queries from a settable vector.
type ScriptedProber struct {
	mu sync.Mutex
	v  domain.PermissionVector
}

// Set replaces the answers.
func (p *ScriptedProber) Set(v domain.PermissionVector) {
	p.mu.Lock()
	p.v = v
	p.mu.Unlock()
}

func (p *ScriptedProber) Probe(_ context.Context, c domain.Capability) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.Get(c), nil
}

// RecordingPresenter keeps every overlay request.
type RecordingPresenter struct {
	mu    sync.Mutex
	shown []domain.Effect
}

func (p *RecordingPresenter) Show(eff domain.Effect) {
	p.mu.Lock()
	p.shown = append(p.shown, eff)
	p.mu.Unlock()
}

// Shown returns a copy of the overlays shown so far.
func (p *RecordingPresenter) Shown() []domain.Effect {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Effect(nil), p.shown...)
}

// AllGranted is a vector with every capability granted.
var AllGranted = domain.PermissionVector{DeviceAdmin: true, Accessibility: true, Overlay: true, UsageStats: true}

// Device is a fully wired agent over a real encrypted store.
type Device struct {
	DataDir string
	Key     []byte

	Store     *infra.EncryptedStore
	Clock     *ManualClock
	Prober    *ScriptedProber
	Presenter *RecordingPresenter
	Table     *policy.Table

	Prefs      *usecase.Preferences
	Machine    *usecase.LockdownMachine
	Monitor    *usecase.PermissionMonitor
	Classifier *usecase.ForegroundClassifier
	Merger     *usecase.CommandMerger
	Enforcer   *usecase.Enforcer
}

// OpenDevice opens (or reopens) the device stored in dataDir with key.
func OpenDevice(dataDir string, key []byte, start time.Time) (*Device, error) {
	store, err := infra.OpenEncryptedStore(dataDir, key, infra.NewProcessManager())
	if err != nil {
		return nil, err
	}
	logger := zap.NewNop()
	d := &Device{
		DataDir:   dataDir,
		Key:       key,
		Store:     store,
		Clock:     NewManualClock(start),
		Prober:    &ScriptedProber{v: AllGranted},
		Presenter: &RecordingPresenter{},
		Table:     policy.DefaultTable(),
	}
	d.Prefs = usecase.NewPreferences(store, store, d.Table.DefaultAllowList(), logger)
	d.Machine = usecase.NewLockdownMachine(d.Prefs, d.Clock, usecase.DefaultPenaltyConfig(), logger)
	d.Monitor = usecase.NewPermissionMonitor(d.Prober, d.Prefs, d.Machine, logger)
	d.Classifier = usecase.NewForegroundClassifier(d.Table, d.Prefs, d.Machine, d.Clock, usecase.DefaultGraceConfig(), logger)
	d.Merger = usecase.NewCommandMerger(d.Prefs, d.Machine, d.Clock, logger)
	d.Enforcer = usecase.NewEnforcer(d.Classifier, d.Monitor, d.Presenter, d.Clock, 16, logger)
	return d, nil
}

// Close closes the store.
func (d *Device) Close() error {
	return d.Store.Close()
}

// Event builds a window event at the device's current time.
func (d *Device) Event(pkg, class string, text ...string) domain.WindowEvent {
	return domain.WindowEvent{Package: pkg, ClassName: class, Text: text, At: d.Clock.Now()}
}

// AttachPastGrace attaches the classifier and skips the startup windows.
func (d *Device) AttachPastGrace() {
	d.Enforcer.Attach()
	d.Clock.Advance(11 * time.Second)
}

// SchoolDay stores a weekday 08:00-16:00 class with a 10:00-10:15 recess
// and turns the service on.
func (d *Device) SchoolDay() error {
	if err := d.Prefs.SaveSchedules([]domain.Schedule{
		{ID: 1, Name: "Classes", StartHour: 8, EndHour: 16,
			DaysOfWeek: domain.DefaultDaysOfWeek, Enabled: true, IsClassTime: true},
		{ID: 2, Name: "Recess", StartHour: 10, EndHour: 10, EndMinute: 15,
			DaysOfWeek: domain.DefaultDaysOfWeek, Enabled: true},
	}); err != nil {
		return err
	}
	return d.Prefs.SetServiceEnabled(true)
}

// Login stores a student session.
func (d *Device) Login() error {
	return d.Prefs.SaveStudent(domain.StudentIdentity{ID: "7", Name: "Ana", RUT: "12.345.678-9"})
}
