package infra

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAutostart(t *testing.T, mode ExecMode) (*SystemdAutostart, *[]string) {
	t.Helper()
	dir := t.TempDir()
	a := NewSystemdAutostart(&ExecModeConfig{
		Mode:     mode,
		DataDir:  filepath.Join(dir, "data"),
		UnitPath: filepath.Join(dir, "systemd", "classmon.service"),
	})
	var calls []string
	a.systemctl = func(args ...string) error {
		calls = append(calls, strings.Join(args, " "))
		return nil
	}
	return a, &calls
}

func TestSystemdAutostart_Install(t *testing.T) {
	tests := []struct {
		mode     ExecMode
		wantedBy string
	}{
		{ExecModeUser, "WantedBy=default.target"},
		{ExecModeSystem, "WantedBy=multi-user.target"},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			a, calls := newTestAutostart(t, tt.mode)
			assert.False(t, a.IsInstalled())

			require.NoError(t, a.Install("/usr/local/bin/classmon"))

			content, err := os.ReadFile(a.Path())
			require.NoError(t, err)
			assert.Contains(t, string(content), "ExecStart=/usr/local/bin/classmon start")
			assert.Contains(t, string(content), tt.wantedBy)
			assert.True(t, a.IsInstalled())
			assert.Equal(t, []string{"daemon-reload", "enable classmon.service"}, *calls)
		})
	}
}

func TestSystemdAutostart_NeedsUpdate(t *testing.T) {
	a, _ := newTestAutostart(t, ExecModeUser)
	assert.False(t, a.NeedsUpdate("/bin/classmon"), "missing unit needs install, not update")

	require.NoError(t, a.Install("/bin/classmon"))
	assert.False(t, a.NeedsUpdate("/bin/classmon"))
	assert.True(t, a.NeedsUpdate("/opt/classmon"))

	require.NoError(t, os.WriteFile(a.Path(), []byte("tampered"), 0644))
	assert.True(t, a.NeedsUpdate("/bin/classmon"))
}

func TestSystemdAutostart_Uninstall(t *testing.T) {
	a, calls := newTestAutostart(t, ExecModeUser)
	require.NoError(t, a.Install("/bin/classmon"))

	require.NoError(t, a.Uninstall())
	assert.False(t, a.IsInstalled())
	assert.Contains(t, *calls, "disable classmon.service")
	assert.NoError(t, a.Uninstall())
}

func TestSystemdAutostart_EnableFails(t *testing.T) {
	a, _ := newTestAutostart(t, ExecModeSystem)
	a.systemctl = func(args ...string) error { return errors.New("no systemd") }

	err := a.Install("/bin/classmon")

	assert.ErrorContains(t, err, "daemon-reload")
	assert.True(t, a.IsInstalled())
}
