package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{"08:00", 8, 0, false},
		{"23:59", 23, 59, false},
		{"24:00", 0, 0, true},
		{"noon", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			h, m, err := parseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.h, h)
			assert.Equal(t, tt.m, m)
		})
	}
}

func TestNextScheduleID(t *testing.T) {
	assert.Equal(t, int64(1), nextScheduleID(nil))
	assert.Equal(t, int64(8), nextScheduleID([]domain.Schedule{{ID: 3}, {ID: 7}, {ID: 2}}))
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"start"}, {"status"}, {"version"}, {"daemon"},
		{"schedules", "list"}, {"schedules", "import"}, {"schedules", "add"}, {"schedules", "remove"},
		{"allowlist"}, {"enroll"}, {"logout"}, {"baseline"}, {"service"}, {"websync"}, {"check"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	assert.Error(t, serviceCmd.Args(serviceCmd, []string{"maybe"}))
	assert.NoError(t, serviceCmd.Args(serviceCmd, []string{"enable"}))
}
