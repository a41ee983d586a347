package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/portfolio-manager/internal/database"
	"github.com/aristath/portfolio-manager/internal/services"
)

// PipelineRunner is the slice of the portfolio manager the run job needs
type PipelineRunner interface {
	Run(ctx context.Context, dryRun bool) (*services.RunReport, error)
}

// PortfolioRunJob runs the portfolio manager on schedule
type PortfolioRunJob struct {
	runner  PipelineRunner
	dryRun  bool
	timeout time.Duration
	log     zerolog.Logger
}

// NewPortfolioRunJob creates a new run job. live=false keeps scheduled runs dry.
func NewPortfolioRunJob(runner PipelineRunner, live bool, timeout time.Duration, log zerolog.Logger) *PortfolioRunJob {
	return &PortfolioRunJob{
		runner:  runner,
		dryRun:  !live,
		timeout: timeout,
		log:     log.With().Str("job", "portfolio_run").Logger(),
	}
}

// Name returns the job name
func (j *PortfolioRunJob) Name() string {
	return "portfolio_run"
}

// Run executes one pipeline run. Lock contention is not a failure.
func (j *PortfolioRunJob) Run() error {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	report, err := j.runner.Run(ctx, j.dryRun)
	if services.IsLocked(err) {
		j.log.Warn().Msg("Another run holds the lock, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	j.log.Info().Str("status", string(report.Status)).Str("run_id", report.RunID).Msg("Scheduled run finished")
	return nil
}

// CachePruner drops stale price cache rows
type CachePruner interface {
	Prune(ctx context.Context, maxAge time.Duration) (int64, error)
}

// JournalPruner drops old journal runs
type JournalPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// MaintenanceConfig holds maintenance parameters
type MaintenanceConfig struct {
	CacheMaxAge      time.Duration
	JournalRetention time.Duration // 0 keeps every run
	DataDir          string
	MinFreeBytes     uint64
}

// DefaultMaintenanceConfig returns the production parameters
func DefaultMaintenanceConfig(dataDir string) MaintenanceConfig {
	return MaintenanceConfig{
		CacheMaxAge:      7 * 24 * time.Hour,
		JournalRetention: 365 * 24 * time.Hour,
		DataDir:          dataDir,
		MinFreeBytes:     500 << 20,
	}
}

// MaintenanceJob checks database integrity, prunes the cache and the
// journal, checkpoints WAL files and watches disk space.
type MaintenanceJob struct {
	cfg       MaintenanceConfig
	databases []*database.DB
	cache     CachePruner
	journal   JournalPruner
	now       func() time.Time
	log       zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job. cache and journal may be nil.
func NewMaintenanceJob(cfg MaintenanceConfig, databases []*database.DB, cache CachePruner, journal JournalPruner, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		cfg:       cfg,
		databases: databases,
		cache:     cache,
		journal:   journal,
		now:       time.Now,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run() error {
	ctx := context.Background()
	start := j.now()
	j.log.Info().Msg("Starting maintenance")

	// Step 1: integrity
	for _, db := range j.databases {
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Database integrity check failed")
			return fmt.Errorf("database %s failed integrity check: %w", db.Name(), err)
		}
	}

	// Step 2: pruning
	if j.cache != nil && j.cfg.CacheMaxAge > 0 {
		n, err := j.cache.Prune(ctx, j.cfg.CacheMaxAge)
		if err != nil {
			j.log.Warn().Err(err).Msg("Cache prune failed")
		} else {
			j.log.Debug().Int64("rows", n).Msg("Cache pruned")
		}
	}
	if j.journal != nil && j.cfg.JournalRetention > 0 {
		n, err := j.journal.Prune(ctx, j.now().Add(-j.cfg.JournalRetention))
		if err != nil {
			j.log.Warn().Err(err).Msg("Journal prune failed")
		} else {
			j.log.Debug().Int64("runs", n).Msg("Journal pruned")
		}
	}

	// Step 3: WAL checkpoint, not critical
	for _, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
	}

	// Step 4: disk space
	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	for _, db := range j.databases {
		if stats, err := db.GetStats(); err == nil {
			j.log.Info().
				Str("database", db.Name()).
				Int64("size_bytes", stats.SizeBytes).
				Int64("wal_bytes", stats.WALSizeBytes).
				Msg("Database stats")
		}
	}

	j.log.Info().Dur("duration", j.now().Sub(start)).Msg("Maintenance completed")
	return nil
}

func (j *MaintenanceJob) checkDiskSpace() error {
	if j.cfg.DataDir == "" {
		return nil
	}
	usage, err := disk.Usage(j.cfg.DataDir)
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to read disk usage")
		return nil
	}

	j.log.Debug().Uint64("free_bytes", usage.Free).Float64("used_percent", usage.UsedPercent).Msg("Disk space check")
	if usage.Free < j.cfg.MinFreeBytes {
		return fmt.Errorf("only %d bytes free in %s", usage.Free, j.cfg.DataDir)
	}
	return nil
}
