// Package cli wires the portfolio manager into cobra commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/portfolio-manager/internal/config"
	"github.com/aristath/portfolio-manager/internal/domain"
	"github.com/aristath/portfolio-manager/internal/modules/state"
	"github.com/aristath/portfolio-manager/internal/scheduler"
	"github.com/aristath/portfolio-manager/internal/server"
	"github.com/aristath/portfolio-manager/pkg/logger"
)

const (
	// runTimeout bounds a single pipeline run
	runTimeout = 30 * time.Minute
	// maintenanceSchedule runs maintenance at 03:30 daily
	maintenanceSchedule = "0 30 3 * * *"
	shutdownTimeout     = 30 * time.Second
)

// options are resolved once by the root command
type options struct {
	cfg *config.Config
	log zerolog.Logger
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &options{}
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "portfolio-manager",
		Short: "Momentum portfolio manager",
		Long: `portfolio-manager backtests four momentum strategies over the scanner's
ticker buckets, picks the winner, applies the drawdown circuit breaker and
rebalances the brokerage account toward the winner's allocation.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			opts.cfg = cfg
			opts.log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
			logger.SetGlobalLogger(opts.log)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newStateCmd(opts))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// newRunCmd creates the run command
func newRunCmd(opts *options) *cobra.Command {
	var live bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once",
		Long: `Run the full pipeline once and print the run report as JSON.
Without --live no orders are sent to the broker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, runTimeout)
			defer cancel()

			app, err := NewApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer app.Close()

			report, runErr := app.Manager.Run(ctx, !live)
			if report != nil {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&live, "live", false, "Send orders to the broker")
	return cmd
}

// newServeCmd creates the serve command
func newServeCmd(opts *options) *cobra.Command {
	var live bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the status API",
		Long: `Run the pipeline on RUN_SCHEDULE, the nightly maintenance job and the
status API until interrupted. Scheduled runs are dry unless --live is set;
--live also permits live API triggers when PM_API_TOKEN is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts, live)
		},
	}

	cmd.Flags().BoolVar(&live, "live", false, "Send orders to the broker on scheduled runs")
	return cmd
}

func serve(ctx context.Context, opts *options, live bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log := opts.cfg, opts.log
	log.Info().Bool("live", live).Msg("Starting portfolio manager")

	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.RunSchedule, scheduler.NewPortfolioRunJob(app.Manager, live, runTimeout, log)); err != nil {
		return err
	}
	maintenance := scheduler.NewMaintenanceJob(
		scheduler.DefaultMaintenanceConfig(cfg.DataDir),
		app.Databases(),
		app.Prices,
		app.Journal,
		log,
	)
	if err := sched.AddJob(maintenanceSchedule, maintenance); err != nil {
		return err
	}

	srv := server.New(server.Config{
		Log:            log,
		Host:           cfg.Host,
		Port:           cfg.Port,
		DevMode:        cfg.DevMode,
		APIToken:       cfg.APIToken,
		AllowLive:      live,
		AllowedOrigins: cfg.CORSOrigins,
		DataDir:        cfg.DataDir,
		State:          app.Store,
		Journal:        app.Journal,
		Runner:         app.Manager,
		Databases:      app.Databases(),
		RunTimeout:     runTimeout,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	sched.Start()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err = <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Portfolio manager stopped")
	return err
}

// newStateCmd creates the state command
func newStateCmd(opts *options) *cobra.Command {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset the persisted risk state",
	}

	stateCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the persisted state",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			store := state.NewStore(opts.cfg.StateFile, opts.log)
			showState(cmd.OutOrStdout(), store.Path(), store.Load(), time.Now())
		},
	})

	var force bool
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the persisted state",
		Long: `Delete the state file. The next run starts with no peak, no cooldown and
no last strategy, so the circuit breaker re-arms from the current equity.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("refusing to reset %s without --force", opts.cfg.StateFile)
			}
			// a running pipeline would write the state back on exit
			lock, err := state.AcquireLock(opts.cfg.LockPath())
			if err != nil {
				return err
			}
			defer lock.Release()

			if err := state.NewStore(opts.cfg.StateFile, opts.log).Reset(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "State reset: %s\n", opts.cfg.StateFile)
			return nil
		},
	}
	resetCmd.Flags().BoolVar(&force, "force", false, "Confirm the reset")
	stateCmd.AddCommand(resetCmd)

	return stateCmd
}

// showState prints the persisted state
func showState(out io.Writer, path string, st state.State, now time.Time) {
	fmt.Fprintf(out, "State file:      %s\n", path)
	fmt.Fprintf(out, "Absolute peak:   %.2f\n", st.Risk.AbsolutePeak)
	fmt.Fprintf(out, "Peak date:       %s\n", formatDate(st.Risk.PeakDate))
	if st.Risk.CooldownUntil != nil {
		fmt.Fprintf(out, "Cooldown until:  %s (active: %t)\n", formatDate(*st.Risk.CooldownUntil), st.Risk.InCooldown(now))
	} else {
		fmt.Fprintf(out, "Cooldown until:  -\n")
	}
	if st.LastRun != nil {
		fmt.Fprintf(out, "Last run:        %s\n", st.LastRun.Format(state.LastRunLayout))
	} else {
		fmt.Fprintf(out, "Last run:        -\n")
	}
	if st.LastStrategy != "" {
		fmt.Fprintf(out, "Last strategy:   %s\n", st.LastStrategy)
	} else {
		fmt.Fprintf(out, "Last strategy:   -\n")
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(domain.DateLayout)
}

func writeJSON(out io.Writer, v interface{}) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
