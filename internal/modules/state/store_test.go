package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/portfolio-manager/internal/domain"
)

func TestStore_MissingFileIsFresh(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "pm_state.json"), zerolog.Nop())

	st := s.Load()

	assert.Equal(t, 0.0, st.Risk.AbsolutePeak)
	assert.Nil(t, st.Risk.CooldownUntil)
	assert.Nil(t, st.LastRun)
	assert.Empty(t, st.LastStrategy)
}

func TestStore_CorruptFileIsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pm_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	st := NewStore(path, zerolog.Nop()).Load()
	assert.Equal(t, State{}, st)

	require.NoError(t, os.WriteFile(path, []byte(`{"peak_date": "yesterday"}`), 0644))
	st = NewStore(path, zerolog.Nop()).Load()
	assert.Equal(t, State{}, st)
}

func TestStore_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pm_state.json")
	s := NewStore(path, zerolog.Nop())

	until := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	lastRun := time.Date(2024, 3, 4, 15, 45, 0, 0, time.Local)
	in := State{
		Risk: domain.RiskState{
			AbsolutePeak:  105000.5,
			PeakDate:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			CooldownUntil: &until,
		},
		LastRun:      &lastRun,
		LastStrategy: domain.StrategyAsym,
	}

	require.NoError(t, s.Save(in))
	out := s.Load()

	assert.Equal(t, in.Risk.AbsolutePeak, out.Risk.AbsolutePeak)
	assert.True(t, in.Risk.PeakDate.Equal(out.Risk.PeakDate))
	require.NotNil(t, out.Risk.CooldownUntil)
	assert.True(t, until.Equal(*out.Risk.CooldownUntil))
	require.NotNil(t, out.LastRun)
	assert.True(t, lastRun.Equal(*out.LastRun))
	assert.Equal(t, domain.StrategyAsym, out.LastStrategy)

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pm_state.json")
	s := NewStore(path, zerolog.Nop())

	require.NoError(t, s.Save(State{
		Risk: domain.RiskState{
			AbsolutePeak: 100000,
			PeakDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		LastStrategy: domain.StrategyCash,
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"absolute_peak": 100000,
		"peak_date": "2024-03-01",
		"cooldown_until": null,
		"last_run": null,
		"last_strategy": "CASH"
	}`, string(data))
}

func TestStore_ReadsNullFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pm_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"absolute_peak": null,
		"peak_date": null,
		"cooldown_until": "2024-03-09",
		"last_run": "2024-03-04 15:45:00",
		"last_strategy": "SPEC"
	}`), 0644))

	st := NewStore(path, zerolog.Nop()).Load()

	assert.Equal(t, 0.0, st.Risk.AbsolutePeak)
	require.NotNil(t, st.Risk.CooldownUntil)
	assert.Equal(t, "2024-03-09", st.Risk.CooldownUntil.Format(domain.DateLayout))
	assert.Equal(t, domain.StrategySpec, st.LastStrategy)
}

func TestStore_Reset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pm_state.json")
	s := NewStore(path, zerolog.Nop())
	require.NoError(t, s.Save(State{LastStrategy: domain.StrategyTactical}))

	require.NoError(t, s.Reset())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// resetting twice is fine
	assert.NoError(t, s.Reset())
}

func TestAcquireLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pm_state.json.lock")

	lock, err := AcquireLock(path)
	require.NoError(t, err)

	_, err = AcquireLock(path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lock.Release())

	lock, err = AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestAcquireLock_TakesOverStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pm_state.json.lock")
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0644))
	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	lock, err := AcquireLock(path)
	require.NoError(t, err)
	assert.NoError(t, lock.Release())
}
