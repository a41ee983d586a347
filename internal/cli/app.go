package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/portfolio-manager/internal/clients/alpaca"
	"github.com/aristath/portfolio-manager/internal/clients/polygon"
	"github.com/aristath/portfolio-manager/internal/clients/scanner"
	"github.com/aristath/portfolio-manager/internal/config"
	"github.com/aristath/portfolio-manager/internal/database"
	"github.com/aristath/portfolio-manager/internal/modules/journal"
	"github.com/aristath/portfolio-manager/internal/modules/marketdata"
	"github.com/aristath/portfolio-manager/internal/modules/state"
	"github.com/aristath/portfolio-manager/internal/reliability"
	"github.com/aristath/portfolio-manager/internal/services"
)

const (
	// scanMaxAge is when scanner results start to be reported as stale
	scanMaxAge = 36 * time.Hour
	// backupRetentionDays is how long archives are kept off-site
	backupRetentionDays = 30
)

// App holds the wired dependencies shared by the commands
type App struct {
	Config    *config.Config
	Log       zerolog.Logger
	JournalDB *database.DB
	CacheDB   *database.DB
	Journal   *journal.Repository
	Prices    *marketdata.CachedProvider
	Store     *state.Store
	Manager   *services.PortfolioManager
}

// NewApp opens the databases and wires the clients into a portfolio manager
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if cfg.AlpacaAPIKey == "" || cfg.AlpacaSecretKey == "" {
		return nil, fmt.Errorf("ALPACA_API_KEY and ALPACA_SECRET_KEY are required")
	}

	journalDB, err := openDatabase(cfg.JournalPath(), database.NameJournal, database.ProfileLedger)
	if err != nil {
		return nil, err
	}
	cacheDB, err := openDatabase(cfg.CachePath(), database.NameCache, database.ProfileCache)
	if err != nil {
		journalDB.Close()
		return nil, err
	}

	app := &App{
		Config:    cfg,
		Log:       log,
		JournalDB: journalDB,
		CacheDB:   cacheDB,
		Journal:   journal.NewRepository(journalDB.Conn(), log),
		Store:     state.NewStore(cfg.StateFile, log),
	}

	polygonClient := polygon.NewClient(cfg.PolygonBaseURL, cfg.PolygonAPIKey, log)
	app.Prices = marketdata.NewCachedProvider(polygonClient, cacheDB, marketdata.DefaultCacheTTL, log)

	broker := alpaca.NewClient(cfg.AlpacaBaseURL, cfg.AlpacaAPIKey, cfg.AlpacaSecretKey, log)
	buckets := scanner.NewFileSource(cfg.ScanResultsFile, scanMaxAge, log)

	app.Manager = services.NewPortfolioManager(
		cfg.Strategy,
		cfg.LockPath(),
		buckets,
		app.Prices,
		broker,
		app.Store,
		app.Journal,
		log,
	)
	app.Manager.SetMarketClock(broker)

	if cfg.Backup.Enabled() {
		store, err := reliability.NewS3Client(ctx, cfg.Backup, log)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Manager.SetBackup(reliability.NewBackupService(
			store,
			[]*database.DB{journalDB},
			cfg.StateFile,
			cfg.DataDir,
			backupRetentionDays,
			log,
		))
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Off-site backup enabled")
	}

	return app, nil
}

// Databases returns every open database
func (a *App) Databases() []*database.DB {
	return []*database.DB{a.JournalDB, a.CacheDB}
}

// Close closes the databases
func (a *App) Close() {
	for _, db := range a.Databases() {
		if err := db.Close(); err != nil {
			a.Log.Error().Err(err).Str("database", db.Name()).Msg("Failed to close database")
		}
	}
}

func openDatabase(path, name string, profile database.DatabaseProfile) (*database.DB, error) {
	db, err := database.New(database.Config{Path: path, Profile: profile, Name: name})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", name, err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
	}
	return db, nil
}
