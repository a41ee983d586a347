package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/portfolio-manager/internal/domain"
	"github.com/aristath/portfolio-manager/internal/modules/state"
)

// setupEnv points the configuration at a temp data dir and returns the state file path
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "pm_state.json")
	t.Setenv("PM_DATA_DIR", dir)
	t.Setenv("STATE_FILE", stateFile)
	t.Setenv("STRATEGY_CONFIG_FILE", "")
	t.Setenv("BACKUP_S3_BUCKET", "")
	t.Setenv("ALPACA_API_KEY", "")
	t.Setenv("ALPACA_SECRET_KEY", "")
	t.Setenv("LOG_LEVEL", "error")
	return stateFile
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStateShow(t *testing.T) {
	stateFile := setupEnv(t)
	require.NoError(t, os.WriteFile(stateFile, []byte(`{
		"absolute_peak": 105000.5,
		"peak_date": "2024-03-01",
		"cooldown_until": null,
		"last_run": "2024-03-04 15:45:00",
		"last_strategy": "TACTICAL"
	}`), 0644))

	out, err := execute(t, "state", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Absolute peak:   105000.50")
	assert.Contains(t, out, "Peak date:       2024-03-01")
	assert.Contains(t, out, "Cooldown until:  -")
	assert.Contains(t, out, "Last run:        2024-03-04 15:45:00")
	assert.Contains(t, out, "Last strategy:   TACTICAL")
}

func TestStateReset(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantErr   bool
		wantExist bool
	}{
		{"requires force", []string{"state", "reset"}, true, true},
		{"with force", []string{"state", "reset", "--force"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stateFile := setupEnv(t)
			require.NoError(t, os.WriteFile(stateFile, []byte(`{"absolute_peak": 1}`), 0644))

			_, err := execute(t, tt.args...)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			_, statErr := os.Stat(stateFile)
			assert.Equal(t, tt.wantExist, statErr == nil)
		})
	}
}

func TestStateReset_RespectsRunLock(t *testing.T) {
	stateFile := setupEnv(t)
	require.NoError(t, os.WriteFile(stateFile, []byte(`{"absolute_peak": 1}`), 0644))

	lock, err := state.AcquireLock(stateFile + ".lock")
	require.NoError(t, err)
	defer lock.Release()

	_, err = execute(t, "state", "reset", "--force")
	assert.ErrorIs(t, err, state.ErrLocked)
	assert.FileExists(t, stateFile)
}

func TestRun_RequiresBrokerCredentials(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALPACA_API_KEY")
}

func TestShowState_Cooldown(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	until := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	st := state.State{Risk: domain.RiskState{AbsolutePeak: 100, CooldownUntil: &until}}

	var out bytes.Buffer
	showState(&out, "pm_state.json", st, now)
	assert.Contains(t, out.String(), "Cooldown until:  2024-03-08 (active: true)")
	assert.Contains(t, out.String(), "Peak date:       -")
	assert.Contains(t, out.String(), "Last strategy:   -")
}
