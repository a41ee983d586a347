package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/portfolio-manager/internal/database"
	"github.com/aristath/portfolio-manager/internal/domain"
	"github.com/aristath/portfolio-manager/internal/modules/state"
	"github.com/aristath/portfolio-manager/internal/services"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 500
)

// StateResponse is the persisted state as served by the API
type StateResponse struct {
	AbsolutePeak  float64 `json:"absolute_peak"`
	PeakDate      *string `json:"peak_date"`
	CooldownUntil *string `json:"cooldown_until"`
	InCooldown    bool    `json:"in_cooldown"`
	LastRun       *string `json:"last_run"`
	LastStrategy  string  `json:"last_strategy,omitempty"`
}

// SystemStatsResponse represents host and database statistics
type SystemStatsResponse struct {
	CPUPercent    float64                    `json:"cpu_percent"`
	MemoryPercent float64                    `json:"memory_percent"`
	DiskFreeBytes uint64                     `json:"disk_free_bytes"`
	DiskPercent   float64                    `json:"disk_percent"`
	Goroutines    int                        `json:"goroutines"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Databases     map[string]*database.Stats `json:"databases"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	databases := make(map[string]string, len(s.cfg.Databases))
	for _, db := range s.cfg.Databases {
		if err := db.Conn().PingContext(r.Context()); err != nil {
			databases[db.Name()] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		databases[db.Name()] = "ok"
	}

	response := map[string]interface{}{
		"status":    "healthy",
		"service":   "portfolio-manager",
		"databases": databases,
	}
	if status != http.StatusOK {
		response["status"] = "degraded"
	}
	s.writeJSON(w, status, response)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st := s.cfg.State.Load()
	s.writeJSON(w, http.StatusOK, newStateResponse(st, time.Now()))
}

func newStateResponse(st state.State, now time.Time) StateResponse {
	resp := StateResponse{
		AbsolutePeak: st.Risk.AbsolutePeak,
		InCooldown:   st.Risk.InCooldown(now),
		LastStrategy: string(st.LastStrategy),
	}
	if !st.Risk.PeakDate.IsZero() {
		d := st.Risk.PeakDate.Format(domain.DateLayout)
		resp.PeakDate = &d
	}
	if st.Risk.CooldownUntil != nil {
		d := st.Risk.CooldownUntil.Format(domain.DateLayout)
		resp.CooldownUntil = &d
	}
	if st.LastRun != nil {
		d := st.LastRun.Format(state.LastRunLayout)
		resp.LastRun = &d
	}
	return resp
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxRunsLimit {
			n = maxRunsLimit
		}
		limit = n
	}

	runs, err := s.cfg.Journal.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list runs")
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.cfg.Journal.Last(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load latest run")
		s.writeError(w, http.StatusInternalServerError, "failed to load latest run")
		return
	}
	if run == nil {
		s.writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.cfg.Journal.Get(r.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Str("run_id", id).Msg("Failed to load run")
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if run == nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	resp := SystemStatsResponse{
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Databases:     make(map[string]*database.Stats, len(s.cfg.Databases)),
	}

	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		resp.CPUPercent = percents[0]
	} else if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percent")
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemoryPercent = vm.UsedPercent
	} else {
		s.log.Warn().Err(err).Msg("Failed to get memory stats")
	}
	if s.cfg.DataDir != "" {
		if usage, err := disk.Usage(s.cfg.DataDir); err == nil {
			resp.DiskFreeBytes = usage.Free
			resp.DiskPercent = usage.UsedPercent
		}
	}
	for _, db := range s.cfg.Databases {
		stats, err := db.GetStats()
		if err != nil {
			s.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
			continue
		}
		resp.Databases[db.Name()] = stats
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleTriggerRun starts a manual run. Runs are dry unless live=true, which
// is only accepted when live triggers are enabled and a token is configured.
// With wait=true a dry run executes inside the request and its report is
// returned; otherwise the run goes to the background and 202 is returned.
// Live runs never execute on the request context.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("live") != "true"
	wait := r.URL.Query().Get("wait") == "true"

	if !dryRun && !s.liveEnabled() {
		s.writeError(w, http.StatusForbidden, "live runs are disabled")
		return
	}
	if !dryRun && wait {
		s.writeError(w, http.StatusBadRequest, "wait is only supported for dry runs")
		return
	}

	if wait {
		report, err := s.cfg.Runner.Run(r.Context(), dryRun)
		switch {
		case services.IsLocked(err):
			s.writeError(w, http.StatusConflict, "another run is in progress")
		case err != nil:
			s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":  err.Error(),
				"report": report,
			})
		default:
			s.writeJSON(w, http.StatusOK, report)
		}
		return
	}

	s.triggerMu.Lock()
	if s.triggered {
		s.triggerMu.Unlock()
		s.writeError(w, http.StatusConflict, "a manual run is already in progress")
		return
	}
	s.triggered = true
	s.triggerMu.Unlock()

	s.runs.Add(1)
	go s.runInBackground(dryRun)

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "started",
		"dry_run": dryRun,
	})
}

func (s *Server) runInBackground(dryRun bool) {
	defer s.runs.Done()
	defer func() {
		s.triggerMu.Lock()
		s.triggered = false
		s.triggerMu.Unlock()
	}()

	ctx := context.Background()
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	report, err := s.cfg.Runner.Run(ctx, dryRun)
	switch {
	case services.IsLocked(err):
		s.log.Warn().Msg("Manual run skipped, another run holds the lock")
	case err != nil:
		s.log.Error().Err(err).Bool("dry_run", dryRun).Msg("Manual run failed")
	default:
		s.log.Info().Str("run_id", report.RunID).Str("status", string(report.Status)).Msg("Manual run finished")
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
