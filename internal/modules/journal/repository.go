package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/portfolio-manager/internal/database"
	"github.com/aristath/portfolio-manager/internal/domain"
)

// Repository handles run journal database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new journal repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "journal").Logger(),
	}
}

// Record stores a run with its strategy results, allocation and orders.
// A missing ID is filled with a new UUID.
func (r *Repository) Record(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, started_at, finished_at, mode, status, selected_strategy, account_equity, drawdown, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID,
			run.StartedAt.Unix(),
			nullableUnix(run.FinishedAt),
			string(run.Mode),
			string(run.Status),
			nullableString(string(run.SelectedStrategy)),
			run.AccountEquity,
			run.Drawdown,
			nullableString(run.Error),
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		for _, s := range run.Strategies {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO strategy_results (run_id, strategy, final_nav, total_return, max_drawdown, higher_highs, liquidations, in_cash)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				run.ID, string(s.Strategy), s.FinalNav, s.TotalReturn, s.MaxDrawdown, s.HigherHighs, s.Liquidations, boolToInt(s.InCash),
			)
			if err != nil {
				return fmt.Errorf("failed to insert strategy result %s: %w", s.Strategy, err)
			}
		}

		for _, symbol := range run.Allocation.Symbols() {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO run_allocations (run_id, symbol, weight) VALUES (?, ?, ?)`,
				run.ID, symbol, run.Allocation[symbol],
			)
			if err != nil {
				return fmt.Errorf("failed to insert allocation %s: %w", symbol, err)
			}
		}

		for _, o := range run.Orders {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO order_deltas (run_id, symbol, target_shares, current_shares, delta, action, order_id, order_status)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				run.ID, o.Symbol, o.TargetShares, o.CurrentShares, o.Delta, string(o.Action),
				nullableString(o.OrderID), nullableString(o.OrderStatus),
			)
			if err != nil {
				return fmt.Errorf("failed to insert order delta %s: %w", o.Symbol, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().Str("run_id", run.ID).Str("status", string(run.Status)).Msg("Run recorded")
	return nil
}

// Get returns a run with its children, or nil when it does not exist
func (r *Repository) Get(ctx context.Context, id string) (*Run, error) {
	runs, err := r.queryRuns(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// Recent returns the latest runs, newest first
func (r *Repository) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.queryRuns(ctx, `ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
}

// Last returns the newest run, or nil when the journal is empty
func (r *Repository) Last(ctx context.Context) (*Run, error) {
	runs, err := r.Recent(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// Prune deletes runs started before cutoff; children cascade
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *Repository) queryRuns(ctx context.Context, clause string, args ...interface{}) ([]Run, error) {
	query := `SELECT id, started_at, finished_at, mode, status, selected_strategy, account_equity, drawdown, error
		FROM runs ` + clause

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	rows.Close()

	for i := range runs {
		if err := r.loadChildren(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func scanRun(rows *sql.Rows) (Run, error) {
	var run Run
	var startedAt int64
	var finishedAt sql.NullInt64
	var mode, status string
	var selected, errText sql.NullString
	var equity, drawdown sql.NullFloat64

	if err := rows.Scan(&run.ID, &startedAt, &finishedAt, &mode, &status, &selected, &equity, &drawdown, &errText); err != nil {
		return run, err
	}

	run.StartedAt = time.Unix(startedAt, 0).UTC()
	if finishedAt.Valid {
		run.FinishedAt = time.Unix(finishedAt.Int64, 0).UTC()
	}
	run.Mode = Mode(mode)
	run.Status = Status(status)
	run.SelectedStrategy = domain.StrategyName(selected.String)
	run.AccountEquity = equity.Float64
	run.Drawdown = drawdown.Float64
	run.Error = errText.String
	return run, nil
}

func (r *Repository) loadChildren(ctx context.Context, run *Run) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT strategy, final_nav, total_return, max_drawdown, higher_highs, liquidations, in_cash
		FROM strategy_results WHERE run_id = ? ORDER BY rowid`, run.ID)
	if err != nil {
		return fmt.Errorf("failed to query strategy results: %w", err)
	}
	for rows.Next() {
		var s StrategyResult
		var name string
		var inCash int
		if err := rows.Scan(&name, &s.FinalNav, &s.TotalReturn, &s.MaxDrawdown, &s.HigherHighs, &s.Liquidations, &inCash); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan strategy result: %w", err)
		}
		s.Strategy = domain.StrategyName(name)
		s.InCash = inCash != 0
		run.Strategies = append(run.Strategies, s)
	}
	rows.Close()

	rows, err = r.db.QueryContext(ctx, `SELECT symbol, weight FROM run_allocations WHERE run_id = ?`, run.ID)
	if err != nil {
		return fmt.Errorf("failed to query allocations: %w", err)
	}
	for rows.Next() {
		var symbol string
		var weight float64
		if err := rows.Scan(&symbol, &weight); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan allocation: %w", err)
		}
		if run.Allocation == nil {
			run.Allocation = domain.AllocationMap{}
		}
		run.Allocation[symbol] = weight
	}
	rows.Close()

	rows, err = r.db.QueryContext(ctx, `
		SELECT symbol, target_shares, current_shares, delta, action, order_id, order_status
		FROM order_deltas WHERE run_id = ? ORDER BY rowid`, run.ID)
	if err != nil {
		return fmt.Errorf("failed to query order deltas: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o OrderRecord
		var action string
		var orderID, orderStatus sql.NullString
		if err := rows.Scan(&o.Symbol, &o.TargetShares, &o.CurrentShares, &o.Delta, &action, &orderID, &orderStatus); err != nil {
			return fmt.Errorf("failed to scan order delta: %w", err)
		}
		o.Action = domain.Action(action)
		o.OrderID = orderID.String
		o.OrderStatus = orderStatus.String
		run.Orders = append(run.Orders, o)
	}
	return rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableUnix(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
