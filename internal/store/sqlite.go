// Package store persists completed backtest results.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratlab/backtest-backend/pkg/types"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// ResultStore persists and retrieves backtest results.
type ResultStore interface {
	SaveResult(ctx context.Context, result *types.BacktestResult) error
	GetResult(ctx context.Context, id string) (*types.BacktestResult, error)
	ListResults(ctx context.Context, symbol string, limit int) ([]types.BacktestResult, error)
	DeleteResult(ctx context.Context, id string) error
	Close() error
}

var _ ResultStore = (*SQLiteStore)(nil)

// SQLiteStore implements ResultStore backed by a SQLite database. The
// equity curve and trade log are stored as JSON blobs; the summary
// columns exist so listings never decode them.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS backtest_results (
	id                   TEXT PRIMARY KEY,
	symbol               TEXT NOT NULL,
	strategy             TEXT NOT NULL,
	start_date           TEXT NOT NULL,
	end_date             TEXT NOT NULL,
	initial_capital      TEXT NOT NULL,
	final_value          TEXT NOT NULL,
	total_return         TEXT NOT NULL,
	total_return_percent TEXT NOT NULL,
	trade_count          INTEGER NOT NULL,
	winning_trades       INTEGER NOT NULL,
	losing_trades        INTEGER NOT NULL,
	win_rate             REAL NOT NULL,
	max_drawdown         TEXT NOT NULL,
	max_drawdown_percent TEXT NOT NULL,
	sharpe_ratio         REAL NOT NULL,
	equity_curve         TEXT NOT NULL,
	trades               TEXT NOT NULL,
	created_at           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_symbol ON backtest_results(symbol, created_at);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and
// ensures the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResult inserts a result, replacing any previous row with the same ID.
func (s *SQLiteStore) SaveResult(ctx context.Context, result *types.BacktestResult) error {
	equity, err := json.Marshal(result.EquityCurve)
	if err != nil {
		return fmt.Errorf("failed to encode equity curve: %w", err)
	}
	trades, err := json.Marshal(result.Trades)
	if err != nil {
		return fmt.Errorf("failed to encode trades: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_results (
			id, symbol, strategy, start_date, end_date,
			initial_capital, final_value, total_return, total_return_percent,
			trade_count, winning_trades, losing_trades, win_rate,
			max_drawdown, max_drawdown_percent, sharpe_ratio,
			equity_curve, trades, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.Symbol, result.Strategy,
		result.StartDate.Format(time.RFC3339), result.EndDate.Format(time.RFC3339),
		result.InitialCapital.String(), result.FinalValue.String(),
		result.TotalReturn.String(), result.TotalReturnPercent.String(),
		result.TradeCount, result.WinningTrades, result.LosingTrades, result.WinRate,
		result.MaxDrawdown.String(), result.MaxDrawdownPercent.String(), result.SharpeRatio,
		string(equity), string(trades), result.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// GetResult retrieves a single result by ID, nil when absent.
func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*types.BacktestResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, strategy, start_date, end_date,
			initial_capital, final_value, total_return, total_return_percent,
			trade_count, winning_trades, losing_trades, win_rate,
			max_drawdown, max_drawdown_percent, sharpe_ratio,
			equity_curve, trades, created_at
		FROM backtest_results WHERE id = ?`, id)

	result, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return result, err
}

// ListResults returns the most recent results, newest first. An empty
// symbol matches all symbols; limit <= 0 means no limit.
func (s *SQLiteStore) ListResults(ctx context.Context, symbol string, limit int) ([]types.BacktestResult, error) {
	query := `
		SELECT id, symbol, strategy, start_date, end_date,
			initial_capital, final_value, total_return, total_return_percent,
			trade_count, winning_trades, losing_trades, win_rate,
			max_drawdown, max_drawdown_percent, sharpe_ratio,
			equity_curve, trades, created_at
		FROM backtest_results`
	var args []any
	if symbol != "" {
		query += " WHERE symbol = ?"
		args = append(args, symbol)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []types.BacktestResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}
	return results, rows.Err()
}

// DeleteResult removes a result by ID; deleting a missing ID is a no-op.
func (s *SQLiteStore) DeleteResult(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM backtest_results WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*types.BacktestResult, error) {
	var (
		result                                       types.BacktestResult
		startDate, endDate, createdAt                string
		initialCapital, finalValue                   string
		totalReturn, totalReturnPct, maxDD, maxDDPct string
		equityJSON, tradesJSON                       string
	)

	err := row.Scan(
		&result.ID, &result.Symbol, &result.Strategy, &startDate, &endDate,
		&initialCapital, &finalValue, &totalReturn, &totalReturnPct,
		&result.TradeCount, &result.WinningTrades, &result.LosingTrades, &result.WinRate,
		&maxDD, &maxDDPct, &result.SharpeRatio,
		&equityJSON, &tradesJSON, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if result.StartDate, err = time.Parse(time.RFC3339, startDate); err != nil {
		return nil, fmt.Errorf("failed to parse start date: %w", err)
	}
	if result.EndDate, err = time.Parse(time.RFC3339, endDate); err != nil {
		return nil, fmt.Errorf("failed to parse end date: %w", err)
	}
	if result.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created at: %w", err)
	}

	for _, col := range []struct {
		raw  string
		dest *decimal.Decimal
	}{
		{initialCapital, &result.InitialCapital},
		{finalValue, &result.FinalValue},
		{totalReturn, &result.TotalReturn},
		{totalReturnPct, &result.TotalReturnPercent},
		{maxDD, &result.MaxDrawdown},
		{maxDDPct, &result.MaxDrawdownPercent},
	} {
		d, err := decimal.NewFromString(col.raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse decimal column: %w", err)
		}
		*col.dest = d
	}

	if err := json.Unmarshal([]byte(equityJSON), &result.EquityCurve); err != nil {
		return nil, fmt.Errorf("failed to decode equity curve: %w", err)
	}
	if err := json.Unmarshal([]byte(tradesJSON), &result.Trades); err != nil {
		return nil, fmt.Errorf("failed to decode trades: %w", err)
	}
	return &result, nil
}
