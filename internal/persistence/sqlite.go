package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the database at path and runs
// migrations.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			run_id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			success INTEGER NOT NULL,
			aborted INTEGER NOT NULL DEFAULT 0,
			chunks_planned INTEGER NOT NULL,
			chunks_completed INTEGER NOT NULL,
			fallback_count INTEGER NOT NULL DEFAULT 0,
			total_cost TEXT NOT NULL DEFAULT '0',
			execution_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at)`,

		`CREATE TABLE IF NOT EXISTS execution_legs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES executions(run_id),
			instrument TEXT NOT NULL,
			side INTEGER NOT NULL,
			target_qty TEXT NOT NULL,
			filled_qty TEXT NOT NULL,
			avg_price TEXT NOT NULL DEFAULT '0'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_legs_run_id ON execution_legs(run_id)`,

		`CREATE TABLE IF NOT EXISTS trades (
			trade_id TEXT PRIMARY KEY,
			label TEXT,
			state TEXT NOT NULL,
			opened_at DATETIME,
			closed_at DATETIME,
			open_cost TEXT NOT NULL DEFAULT '0',
			close_cost TEXT NOT NULL DEFAULT '0',
			realized_pl TEXT NOT NULL DEFAULT '0',
			exit_reason TEXT,
			open_run_id TEXT,
			close_run_id TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveExecution saves an execution run summary and its legs in one
// transaction.
func (r *SQLiteRepository) SaveExecution(ctx context.Context, record ExecutionRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO executions
			(run_id, started_at, success, aborted, chunks_planned, chunks_completed, fallback_count, total_cost, execution_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RunID,
		record.StartedAt,
		boolToInt(record.Success),
		boolToInt(record.Aborted),
		record.ChunksPlanned,
		record.ChunksCompleted,
		record.FallbackCount,
		record.TotalCost.String(),
		record.ExecutionTime.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM execution_legs WHERE run_id = ?`, record.RunID); err != nil {
		return fmt.Errorf("clear execution legs: %w", err)
	}
	for _, leg := range record.Legs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO execution_legs (run_id, instrument, side, target_qty, filled_qty, avg_price)
				VALUES (?, ?, ?, ?, ?, ?)`,
			record.RunID,
			leg.Instrument,
			leg.Side,
			leg.TargetQty.String(),
			leg.FilledQty.String(),
			leg.AvgPrice.String(),
		)
		if err != nil {
			return fmt.Errorf("insert execution leg: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetExecution returns one run with its legs, or nil when unknown.
func (r *SQLiteRepository) GetExecution(ctx context.Context, runID string) (*ExecutionRecord, error) {
	query := `SELECT run_id, started_at, success, aborted, chunks_planned, chunks_completed, fallback_count, total_cost, execution_ms
		FROM executions WHERE run_id = ?`

	var record ExecutionRecord
	var success, aborted int
	var totalCost string
	var execMs int64

	err := r.db.QueryRowContext(ctx, query, runID).Scan(
		&record.RunID,
		&record.StartedAt,
		&success,
		&aborted,
		&record.ChunksPlanned,
		&record.ChunksCompleted,
		&record.FallbackCount,
		&totalCost,
		&execMs,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}

	record.Success = success == 1
	record.Aborted = aborted == 1
	record.TotalCost, _ = decimal.NewFromString(totalCost)
	record.ExecutionTime = time.Duration(execMs) * time.Millisecond

	legs, err := r.executionLegs(ctx, runID)
	if err != nil {
		return nil, err
	}
	record.Legs = legs

	return &record, nil
}

// GetExecutions returns run summaries (without legs) in a time range.
func (r *SQLiteRepository) GetExecutions(ctx context.Context, from, to time.Time) ([]ExecutionRecord, error) {
	query := `SELECT run_id, started_at, success, aborted, chunks_planned, chunks_completed, fallback_count, total_cost, execution_ms
		FROM executions WHERE started_at BETWEEN ? AND ? ORDER BY started_at DESC`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []ExecutionRecord
	for rows.Next() {
		var record ExecutionRecord
		var success, aborted int
		var totalCost string
		var execMs int64

		if err := rows.Scan(&record.RunID, &record.StartedAt, &success, &aborted,
			&record.ChunksPlanned, &record.ChunksCompleted, &record.FallbackCount,
			&totalCost, &execMs); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		record.Success = success == 1
		record.Aborted = aborted == 1
		record.TotalCost, _ = decimal.NewFromString(totalCost)
		record.ExecutionTime = time.Duration(execMs) * time.Millisecond

		records = append(records, record)
	}

	return records, rows.Err()
}

func (r *SQLiteRepository) executionLegs(ctx context.Context, runID string) ([]LegFillRecord, error) {
	query := `SELECT instrument, side, target_qty, filled_qty, avg_price
		FROM execution_legs WHERE run_id = ? ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query execution legs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var legs []LegFillRecord
	for rows.Next() {
		var leg LegFillRecord
		var side int
		var target, filled, avg string

		if err := rows.Scan(&leg.Instrument, &side, &target, &filled, &avg); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		leg.Side = types.Side(side)
		leg.TargetQty, _ = decimal.NewFromString(target)
		leg.FilledQty, _ = decimal.NewFromString(filled)
		leg.AvgPrice, _ = decimal.NewFromString(avg)

		legs = append(legs, leg)
	}

	return legs, rows.Err()
}

// SaveTrade saves (or updates) a lifecycle trade.
func (r *SQLiteRepository) SaveTrade(ctx context.Context, record TradeRecord) error {
	query := `INSERT OR REPLACE INTO trades
		(trade_id, label, state, opened_at, closed_at, open_cost, close_cost, realized_pl, exit_reason, open_run_id, close_run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		record.TradeID,
		record.Label,
		record.State,
		record.OpenedAt,
		record.ClosedAt,
		record.OpenCost.String(),
		record.CloseCost.String(),
		record.RealizedPL.String(),
		record.ExitReason,
		record.OpenRunID,
		record.CloseRunID,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	return nil
}

// GetTrade returns one trade, or nil when unknown.
func (r *SQLiteRepository) GetTrade(ctx context.Context, tradeID string) (*TradeRecord, error) {
	query := `SELECT trade_id, label, state, opened_at, closed_at, open_cost, close_cost, realized_pl, exit_reason, open_run_id, close_run_id
		FROM trades WHERE trade_id = ?`

	rows, err := r.db.QueryContext(ctx, query, tradeID)
	if err != nil {
		return nil, fmt.Errorf("query trade: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records, err := r.scanTrades(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// GetTrades returns trades closed in a time range.
func (r *SQLiteRepository) GetTrades(ctx context.Context, from, to time.Time) ([]TradeRecord, error) {
	query := `SELECT trade_id, label, state, opened_at, closed_at, open_cost, close_cost, realized_pl, exit_reason, open_run_id, close_run_id
		FROM trades WHERE closed_at BETWEEN ? AND ? ORDER BY closed_at DESC`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return r.scanTrades(rows)
}

func (r *SQLiteRepository) scanTrades(rows *sql.Rows) ([]TradeRecord, error) {
	var records []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var label, exitReason, openRunID, closeRunID sql.NullString
		var openedAt, closedAt sql.NullTime
		var openCost, closeCost, realizedPL string

		if err := rows.Scan(&t.TradeID, &label, &t.State, &openedAt, &closedAt,
			&openCost, &closeCost, &realizedPL, &exitReason, &openRunID, &closeRunID); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		t.Label = label.String
		t.ExitReason = exitReason.String
		t.OpenRunID = openRunID.String
		t.CloseRunID = closeRunID.String
		if openedAt.Valid {
			t.OpenedAt = openedAt.Time
		}
		if closedAt.Valid {
			t.ClosedAt = closedAt.Time
		}
		t.OpenCost, _ = decimal.NewFromString(openCost)
		t.CloseCost, _ = decimal.NewFromString(closeCost)
		t.RealizedPL, _ = decimal.NewFromString(realizedPL)

		records = append(records, t)
	}

	return records, rows.Err()
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
