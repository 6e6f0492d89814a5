package infra

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	runningPIDs map[int]bool
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		runningPIDs: make(map[int]bool),
	}
}

func (m *mockProcessManager) FindByName(pattern string) ([]int, error) {
	return nil, nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	return m.runningPIDs[pid]
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

func (m *mockProcessManager) SetRunning(pid int, running bool) {
	m.runningPIDs[pid] = running
}

// newTestStore opens an encrypted store in a temp directory.
func newTestStore(t *testing.T, pm *mockProcessManager) (*EncryptedStore, string) {
	t.Helper()
	if pm == nil {
		pm = newMockProcessManager()
	}
	dataDir := t.TempDir()
	key, err := GenerateKey()
	require.NoError(t, err)

	store, err := OpenEncryptedStore(dataDir, key, pm)
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })
	return store, dataDir
}
