// Package state persists the live account's risk state between runs.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/portfolio-manager/internal/domain"
)

// LastRunLayout is the timestamp format of last_run
const LastRunLayout = "2006-01-02 15:04:05"

// State is the persisted record: the risk state plus run bookkeeping
type State struct {
	Risk         domain.RiskState
	LastRun      *time.Time
	LastStrategy domain.StrategyName
}

// record is the on-disk shape. Unset values are null.
type record struct {
	AbsolutePeak  *float64 `json:"absolute_peak"`
	PeakDate      *string  `json:"peak_date"`
	CooldownUntil *string  `json:"cooldown_until"`
	LastRun       *string  `json:"last_run"`
	LastStrategy  *string  `json:"last_strategy"`
}

// Store reads and writes the state file
type Store struct {
	path string
	log  zerolog.Logger
}

// NewStore creates a store for path
func NewStore(path string, log zerolog.Logger) *Store {
	return &Store{
		path: path,
		log:  log.With().Str("component", "state_store").Str("path", path).Logger(),
	}
}

// Path returns the state file path
func (s *Store) Path() string {
	return s.path
}

// Load reads the state file. A missing, unreadable or corrupt file yields a
// fresh state; it is never fatal.
func (s *Store) Load() State {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info().Msg("No state file, starting fresh")
		return State{}
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read state file, starting fresh")
		return State{}
	}

	st, err := decode(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("Corrupt state file, starting fresh")
		return State{}
	}
	return st
}

func decode(data []byte) (State, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return State{}, fmt.Errorf("failed to parse state: %w", err)
	}

	var st State
	if rec.AbsolutePeak != nil {
		st.Risk.AbsolutePeak = *rec.AbsolutePeak
	}
	if rec.PeakDate != nil && *rec.PeakDate != "" {
		d, err := time.Parse(domain.DateLayout, *rec.PeakDate)
		if err != nil {
			return State{}, fmt.Errorf("invalid peak_date: %w", err)
		}
		st.Risk.PeakDate = d
	}
	if rec.CooldownUntil != nil && *rec.CooldownUntil != "" {
		d, err := time.Parse(domain.DateLayout, *rec.CooldownUntil)
		if err != nil {
			return State{}, fmt.Errorf("invalid cooldown_until: %w", err)
		}
		st.Risk.CooldownUntil = &d
	}
	if rec.LastRun != nil && *rec.LastRun != "" {
		t, err := time.ParseInLocation(LastRunLayout, *rec.LastRun, time.Local)
		if err != nil {
			return State{}, fmt.Errorf("invalid last_run: %w", err)
		}
		st.LastRun = &t
	}
	if rec.LastStrategy != nil {
		st.LastStrategy = domain.StrategyName(*rec.LastStrategy)
	}
	return st, nil
}

func encode(st State) ([]byte, error) {
	var rec record
	if st.Risk.AbsolutePeak > 0 {
		peak := st.Risk.AbsolutePeak
		rec.AbsolutePeak = &peak
	}
	if !st.Risk.PeakDate.IsZero() {
		d := st.Risk.PeakDate.Format(domain.DateLayout)
		rec.PeakDate = &d
	}
	if st.Risk.CooldownUntil != nil {
		d := st.Risk.CooldownUntil.Format(domain.DateLayout)
		rec.CooldownUntil = &d
	}
	if st.LastRun != nil {
		t := st.LastRun.Format(LastRunLayout)
		rec.LastRun = &t
	}
	if st.LastStrategy != "" {
		name := string(st.LastStrategy)
		rec.LastStrategy = &name
	}
	return json.MarshalIndent(rec, "", "  ")
}

// Save writes the state atomically: a temp file in the same directory is
// synced and renamed over the target.
func (s *Store) Save(st State) error {
	data, err := encode(st)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	s.log.Debug().Msg("State saved")
	return nil
}

// Reset deletes the state file so the next run starts fresh
func (s *Store) Reset() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	s.log.Info().Msg("State reset")
	return nil
}
