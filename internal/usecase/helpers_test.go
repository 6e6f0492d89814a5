package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
	"github.com/eliteGoblin/focusd/class_mon/internal/policy"
)

// memStore implements domain.StateStore for testing
type memStore struct {
	mu      sync.Mutex
	values  map[string]string
	getErr  error
	setErr  error
	commits int

	// failOnce fails the next GetMany that asks for the key.
	failOnce map[string]error
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]string)}
}

func (m *memStore) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.values[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (m *memStore) GetMany(keys ...string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, k := range keys {
		if err, ok := m.failOnce[k]; ok {
			delete(m.failOnce, k)
			return nil, err
		}
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memStore) failNextRead(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOnce == nil {
		m.failOnce = make(map[string]error)
	}
	m.failOnce[key] = err
}

func (m *memStore) SetMany(values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	for k, v := range values {
		m.values[k] = v
	}
	m.commits++
	return nil
}

// memSecrets implements domain.SecretStore for testing
type memSecrets struct {
	mu      sync.Mutex
	secrets map[string]string
}

func newMemSecrets() *memSecrets {
	return &memSecrets{secrets: make(map[string]string)}
}

func (m *memSecrets) GetSecret(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.secrets[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (m *memSecrets) SetSecret(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = value
	return nil
}

func (m *memSecrets) DeleteSecrets(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.secrets, k)
	}
	return nil
}

func (m *memSecrets) Close() error { return nil }

// fakeClock implements domain.Clock with manually advanced time
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(d time.Duration) domain.Ticker {
	return &fakeTicker{ch: make(chan time.Time, 1), period: d}
}

type fakeTicker struct {
	ch     chan time.Time
	period time.Duration
}

func (t *fakeTicker) C() <-chan time.Time   { return t.ch }
func (t *fakeTicker) Reset(d time.Duration) { t.period = d }
func (t *fakeTicker) Stop()                 {}

// fakeProber implements domain.PermissionProber for testing
type fakeProber struct {
	mu      sync.Mutex
	granted map[domain.Capability]bool
	errs    map[domain.Capability]error
}

func newFakeProber(v domain.PermissionVector) *fakeProber {
	p := &fakeProber{errs: make(map[domain.Capability]error)}
	p.set(v)
	return p
}

func (p *fakeProber) set(v domain.PermissionVector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted = map[domain.Capability]bool{}
	for _, c := range domain.AllCapabilities {
		p.granted[c] = v.Get(c)
	}
}

func (p *fakeProber) fail(c domain.Capability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[c] = errors.New("query failed")
}

func (p *fakeProber) Probe(_ context.Context, c domain.Capability) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[c]; err != nil {
		return false, err
	}
	return p.granted[c], nil
}

// recordingPresenter implements domain.OverlayPresenter for testing
type recordingPresenter struct {
	mu    sync.Mutex
	shown []domain.Effect
}

func (p *recordingPresenter) Show(eff domain.Effect) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, eff)
}

func (p *recordingPresenter) effects() []domain.Effect {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Effect(nil), p.shown...)
}

var allGranted = domain.PermissionVector{DeviceAdmin: true, Accessibility: true, Overlay: true, UsageStats: true}

// monday0900 is a Monday at 09:00 local time.
var monday0900 = time.Date(2024, time.March, 4, 9, 0, 0, 0, time.Local)

// testEnv wires the use cases over in-memory stores
type testEnv struct {
	store      *memStore
	secrets    *memSecrets
	clock      *fakeClock
	prober     *fakeProber
	presenter  *recordingPresenter
	table      *policy.Table
	prefs      *Preferences
	machine    *LockdownMachine
	monitor    *PermissionMonitor
	classifier *ForegroundClassifier
	merger     *CommandMerger
	enforcer   *Enforcer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	env := &testEnv{
		store:     newMemStore(),
		secrets:   newMemSecrets(),
		clock:     newFakeClock(monday0900),
		prober:    newFakeProber(allGranted),
		presenter: &recordingPresenter{},
		table:     policy.DefaultTable(),
	}
	env.prefs = NewPreferences(env.store, env.secrets, env.table.DefaultAllowList(), logger)
	env.machine = NewLockdownMachine(env.prefs, env.clock, DefaultPenaltyConfig(), logger)
	env.monitor = NewPermissionMonitor(env.prober, env.prefs, env.machine, logger)
	env.classifier = NewForegroundClassifier(env.table, env.prefs, env.machine, env.clock, DefaultGraceConfig(), logger)
	env.merger = NewCommandMerger(env.prefs, env.machine, env.clock, logger)
	env.enforcer = NewEnforcer(env.classifier, env.monitor, env.presenter, env.clock, 8, logger)
	return env
}

// classDay installs a Monday-Friday 08:00-16:00 class schedule and enables
// the service.
func (e *testEnv) classDay(t *testing.T) {
	t.Helper()
	if err := e.prefs.SaveSchedules([]domain.Schedule{{
		ID: 1, Name: "School", StartHour: 8, EndHour: 16,
		DaysOfWeek: domain.DefaultDaysOfWeek, Enabled: true, IsClassTime: true,
	}}); err != nil {
		t.Fatal(err)
	}
	if err := e.prefs.SetServiceEnabled(true); err != nil {
		t.Fatal(err)
	}
}

// attachPastGrace attaches the classifier and moves past every startup window.
func (e *testEnv) attachPastGrace() {
	e.classifier.Attach()
	e.clock.Advance(11 * time.Second)
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	if err := e.prefs.SaveStudent(domain.StudentIdentity{ID: "42", Name: "Ana", RUT: "12.345.678-9"}); err != nil {
		t.Fatal(err)
	}
}

// event builds a window event at the current fake time.
func (e *testEnv) event(pkg, class string, text ...string) domain.WindowEvent {
	return domain.WindowEvent{Package: pkg, ClassName: class, Text: text, At: e.clock.Now()}
}
