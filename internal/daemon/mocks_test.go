package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
	"github.com/eliteGoblin/focusd/class_mon/internal/usecase"
)

// mockRegistry is an in-memory DaemonRegistry.
type mockRegistry struct {
	mu          sync.Mutex
	daemons     map[domain.DaemonRole]domain.Daemon
	heartbeats  map[domain.DaemonRole]int
	partnerDown bool
	registerErr error
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		daemons:    make(map[domain.DaemonRole]domain.Daemon),
		heartbeats: make(map[domain.DaemonRole]int),
	}
}

func (m *mockRegistry) Register(d domain.Daemon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registerErr != nil {
		return m.registerErr
	}
	m.daemons[d.Role] = d
	return nil
}

func (m *mockRegistry) GetPartner(role domain.DaemonRole) (*domain.Daemon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for r, d := range m.daemons {
		if r != role {
			d := d
			return &d, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockRegistry) UpdateHeartbeat(role domain.DaemonRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[role]++
	return nil
}

func (m *mockRegistry) IsPartnerAlive(role domain.DaemonRole) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.partnerDown, nil
}

func (m *mockRegistry) GetAll() (*domain.RegistryEntry, error) { return nil, nil }
func (m *mockRegistry) Clear() error                           { return nil }

func (m *mockRegistry) heartbeatCount(role domain.DaemonRole) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeats[role]
}

func (m *mockRegistry) registered(role domain.DaemonRole) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.daemons[role]
	return ok
}

// mockEnforcer records what the supervisor asked of it.
type mockEnforcer struct {
	mu       sync.Mutex
	attached bool
	events   []domain.WindowEvent
	checks   int
	alerts   chan usecase.AlertRequest
}

func newMockEnforcer() *mockEnforcer {
	return &mockEnforcer{alerts: make(chan usecase.AlertRequest, 8)}
}

func (m *mockEnforcer) Attach() {
	m.mu.Lock()
	m.attached = true
	m.mu.Unlock()
}

func (m *mockEnforcer) HandleEvent(ev domain.WindowEvent) usecase.EnforcementResult {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return usecase.EnforcementResult{Effect: domain.Block(ev.Package, domain.OverlayBlocker, "test")}
}

func (m *mockEnforcer) CheckPermissions(ctx context.Context) (usecase.EnforcementResult, error) {
	m.mu.Lock()
	m.checks++
	m.mu.Unlock()
	return usecase.EnforcementResult{Poll: &usecase.PollResult{Outcome: usecase.PollRevoked,
		Revoked: []domain.Capability{domain.CapAccessibility}}}, nil
}

func (m *mockEnforcer) Alerts() <-chan usecase.AlertRequest { return m.alerts }

func (m *mockEnforcer) packages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Package
	}
	return out
}

func (m *mockEnforcer) checkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks
}

// mockSyncer is a scripted Synchronizer.
type mockSyncer struct {
	mu         sync.Mutex
	enabled    bool
	interval   time.Duration
	heartbeats int
	pulls      int
	sent       []domain.AlertType
}

func (m *mockSyncer) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *mockSyncer) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

func (m *mockSyncer) Heartbeat(ctx context.Context) ([]domain.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats++
	return nil, nil
}

func (m *mockSyncer) SendAlert(ctx context.Context, t domain.AlertType, details string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, t)
	return nil
}

func (m *mockSyncer) PullConfig(ctx context.Context) ([]domain.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pulls++
	return nil, nil
}

func (m *mockSyncer) snapshot() (int, int, []domain.AlertType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeats, m.pulls, append([]domain.AlertType(nil), m.sent...)
}

// sliceSource replays fixed events and then ends.
type sliceSource struct {
	events []domain.WindowEvent
}

func (s sliceSource) Run(ctx context.Context, out chan<- domain.WindowEvent) error {
	for _, ev := range s.events {
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// recordingStarter captures restart requests.
type recordingStarter struct {
	mu    sync.Mutex
	roles []domain.DaemonRole
}

func (r *recordingStarter) start(role domain.DaemonRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles = append(r.roles, role)
	return nil
}

func (r *recordingStarter) started() []domain.DaemonRole {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.DaemonRole(nil), r.roles...)
}

// mockAutostart records unit installs and updates.
type mockAutostart struct {
	mu        sync.Mutex
	installed bool
	stale     bool
	installs  int
	updates   int
	path      string
}

func (m *mockAutostart) Install(execPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installs++
	m.installed = true
	m.path = execPath
	return nil
}

func (m *mockAutostart) Update(execPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.stale = false
	m.path = execPath
	return nil
}

func (m *mockAutostart) IsInstalled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.installed
}

func (m *mockAutostart) NeedsUpdate(execPath string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale
}

func (m *mockAutostart) snapshot() (int, int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.installs, m.updates, m.path
}
