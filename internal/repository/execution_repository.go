// Package repository отвечает за журнал сделок в PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"triarb/internal/models"
)

// Ошибки репозитория исполнений
var (
	ErrExecutionNotFound = errors.New("execution not found")
)

// ExecutionRepository - работа с таблицами executions и orders
type ExecutionRepository struct {
	db *sql.DB
}

// NewExecutionRepository создает новый экземпляр репозитория
func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// InitSchema создаёт таблицы журнала, если их ещё нет
func (r *ExecutionRepository) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS executions (
			id              SERIAL PRIMARY KEY,
			state           TEXT NOT NULL,
			abort_leg       INT NOT NULL DEFAULT 0,
			abort_reason    TEXT NOT NULL DEFAULT '',
			path            TEXT NOT NULL,
			symbols         TEXT NOT NULL,
			expected_profit DOUBLE PRECISION NOT NULL,
			initial_amount  DOUBLE PRECISION NOT NULL,
			final_amount    DOUBLE PRECISION NOT NULL,
			profit          DOUBLE PRECISION NOT NULL,
			profit_pct      DOUBLE PRECISION NOT NULL,
			total_fees      DOUBLE PRECISION NOT NULL,
			dust_usd        DOUBLE PRECISION NOT NULL,
			started_at      TIMESTAMPTZ NOT NULL,
			finished_at     TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS orders (
			id            SERIAL PRIMARY KEY,
			execution_id  INT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
			leg           INT NOT NULL,
			symbol        TEXT NOT NULL,
			side          TEXT NOT NULL,
			type          TEXT NOT NULL,
			link_id       TEXT NOT NULL,
			exchange_id   TEXT NOT NULL DEFAULT '',
			requested_qty DOUBLE PRECISION NOT NULL,
			filled_qty    DOUBLE PRECISION NOT NULL,
			filled_value  DOUBLE PRECISION NOT NULL,
			avg_price     DOUBLE PRECISION NOT NULL,
			fee           DOUBLE PRECISION NOT NULL,
			status        TEXT NOT NULL,
			submitted_at  TIMESTAMPTZ NOT NULL,
			completed_at  TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at);
		CREATE INDEX IF NOT EXISTS idx_orders_execution_id ON orders(execution_id);`

	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// SaveExecution сохраняет исполнение вместе с ордерами в одной транзакции
func (r *ExecutionRepository) SaveExecution(ctx context.Context, exec *models.TradeExecution) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO executions (state, abort_leg, abort_reason, path, symbols, expected_profit,
			initial_amount, final_amount, profit, profit_pct, total_fees, dust_usd, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	err = tx.QueryRowContext(
		ctx,
		query,
		exec.State,
		exec.AbortLeg,
		exec.AbortReason,
		exec.Opportunity.DisplayPath(),
		exec.Opportunity.DisplaySymbols(),
		exec.Opportunity.NetProfit,
		exec.InitialAmount,
		exec.FinalAmount,
		exec.Profit,
		exec.ProfitPct,
		exec.TotalFees,
		exec.DustUSD,
		exec.StartedAt,
		exec.FinishedAt,
	).Scan(&exec.ID)
	if err != nil {
		return err
	}

	orderQuery := `
		INSERT INTO orders (execution_id, leg, symbol, side, type, link_id, exchange_id,
			requested_qty, filled_qty, filled_value, avg_price, fee, status, submitted_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	for i := range exec.Orders {
		order := &exec.Orders[i]
		order.ExecutionID = exec.ID

		err = tx.QueryRowContext(
			ctx,
			orderQuery,
			order.ExecutionID,
			order.Leg,
			order.Symbol,
			order.Side,
			order.Type,
			order.LinkID,
			order.ExchangeID,
			order.RequestedQty,
			order.FilledQty,
			order.FilledValue,
			order.AvgPrice,
			order.Fee,
			order.Status,
			order.SubmittedAt,
			order.CompletedAt,
		).Scan(&order.ID)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRecent возвращает последние N исполнений с их ордерами
func (r *ExecutionRepository) GetRecent(ctx context.Context, limit int) ([]*models.TradeExecution, error) {
	query := `
		SELECT id, state, abort_leg, abort_reason, path, symbols, expected_profit,
			initial_amount, final_amount, profit, profit_pct, total_fees, dust_usd, started_at, finished_at
		FROM executions
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*models.TradeExecution
	for rows.Next() {
		exec := &models.TradeExecution{}
		var path, symbols string
		err := rows.Scan(
			&exec.ID,
			&exec.State,
			&exec.AbortLeg,
			&exec.AbortReason,
			&path,
			&symbols,
			&exec.Opportunity.NetProfit,
			&exec.InitialAmount,
			&exec.FinalAmount,
			&exec.Profit,
			&exec.ProfitPct,
			&exec.TotalFees,
			&exec.DustUSD,
			&exec.StartedAt,
			&exec.FinishedAt,
		)
		if err != nil {
			return nil, err
		}
		fillOpportunityFromColumns(exec, path, symbols)
		executions = append(executions, exec)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	for _, exec := range executions {
		orders, err := r.getOrders(ctx, exec.ID)
		if err != nil {
			return nil, err
		}
		exec.Orders = orders
	}

	return executions, nil
}

// GetByID возвращает исполнение с ордерами по ID
func (r *ExecutionRepository) GetByID(ctx context.Context, id int) (*models.TradeExecution, error) {
	query := `
		SELECT id, state, abort_leg, abort_reason, path, symbols, expected_profit,
			initial_amount, final_amount, profit, profit_pct, total_fees, dust_usd, started_at, finished_at
		FROM executions
		WHERE id = $1`

	exec := &models.TradeExecution{}
	var path, symbols string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&exec.ID,
		&exec.State,
		&exec.AbortLeg,
		&exec.AbortReason,
		&path,
		&symbols,
		&exec.Opportunity.NetProfit,
		&exec.InitialAmount,
		&exec.FinalAmount,
		&exec.Profit,
		&exec.ProfitPct,
		&exec.TotalFees,
		&exec.DustUSD,
		&exec.StartedAt,
		&exec.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	fillOpportunityFromColumns(exec, path, symbols)

	orders, err := r.getOrders(ctx, exec.ID)
	if err != nil {
		return nil, err
	}
	exec.Orders = orders

	return exec, nil
}

func (r *ExecutionRepository) getOrders(ctx context.Context, executionID int) ([]models.OrderRecord, error) {
	query := `
		SELECT id, execution_id, leg, symbol, side, type, link_id, exchange_id,
			requested_qty, filled_qty, filled_value, avg_price, fee, status, submitted_at, completed_at
		FROM orders
		WHERE execution_id = $1
		ORDER BY leg`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.OrderRecord
	for rows.Next() {
		var order models.OrderRecord
		err := rows.Scan(
			&order.ID,
			&order.ExecutionID,
			&order.Leg,
			&order.Symbol,
			&order.Side,
			&order.Type,
			&order.LinkID,
			&order.ExchangeID,
			&order.RequestedQty,
			&order.FilledQty,
			&order.FilledValue,
			&order.AvgPrice,
			&order.Fee,
			&order.Status,
			&order.SubmittedAt,
			&order.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// ExecutionStats - агрегаты журнала сделок
type ExecutionStats struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Simulated   int     `json:"simulated"`
	Aborted     int     `json:"aborted"`
	TotalProfit float64 `json:"total_profit"`
	TotalFees   float64 `json:"total_fees"`
	TotalDust   float64 `json:"total_dust"`
}

// GetStats возвращает агрегаты по всем исполнениям
func (r *ExecutionRepository) GetStats(ctx context.Context) (*ExecutionStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE state = $1),
			COUNT(*) FILTER (WHERE state = $2),
			COUNT(*) FILTER (WHERE state = $3),
			COALESCE(SUM(profit), 0),
			COALESCE(SUM(total_fees), 0),
			COALESCE(SUM(dust_usd), 0)
		FROM executions`

	stats := &ExecutionStats{}
	err := r.db.QueryRowContext(ctx, query,
		models.ExecCompleted, models.ExecSimulated, models.ExecAborted).Scan(
		&stats.Total,
		&stats.Completed,
		&stats.Simulated,
		&stats.Aborted,
		&stats.TotalProfit,
		&stats.TotalFees,
		&stats.TotalDust,
	)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// DeleteOlderThan удаляет исполнения старше указанной даты (ордера каскадом)
func (r *ExecutionRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM executions WHERE started_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// fillOpportunityFromColumns восстанавливает путь и символы из текстовых колонок
func fillOpportunityFromColumns(exec *models.TradeExecution, path, symbols string) {
	parts := strings.Split(path, " → ")
	if len(parts) == 4 {
		copy(exec.Opportunity.Path[:], parts)
	}
	legs := strings.Split(symbols, ",")
	if len(legs) == 3 {
		copy(exec.Opportunity.Symbols[:], legs)
	}
}
