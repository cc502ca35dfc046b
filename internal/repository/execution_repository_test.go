package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"triarb/internal/models"
)

func sampleExecution() *models.TradeExecution {
	started := time.Now().Add(-2 * time.Second)
	finished := time.Now()
	completed := finished

	return &models.TradeExecution{
		Opportunity: models.Opportunity{
			Path:      [4]string{"USDT", "BTC", "ETH", "USDT"},
			Symbols:   [3]string{"BTCUSDT", "ETHBTC", "ETHUSDT"},
			NetProfit: 0.0012,
		},
		State:         models.ExecCompleted,
		InitialAmount: 100,
		FinalAmount:   100.12,
		Profit:        0.12,
		ProfitPct:     0.12,
		TotalFees:     0.3,
		StartedAt:     started,
		FinishedAt:    finished,
		Orders: []models.OrderRecord{
			{
				Leg:          1,
				Symbol:       "BTCUSDT",
				Side:         "buy",
				Type:         "market",
				LinkID:       "arb_abc_1",
				ExchangeID:   "ex-1",
				RequestedQty: 100,
				FilledQty:    0.002,
				FilledValue:  100,
				AvgPrice:     50000,
				Fee:          0.000002,
				Status:       models.OrderStatusFilled,
				SubmittedAt:  started,
				CompletedAt:  &completed,
			},
		},
	}
}

func TestNewExecutionRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewExecutionRepository(db)
	if repo == nil {
		t.Fatal("NewExecutionRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestSaveExecution(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`INSERT INTO executions`).
					WithArgs(models.ExecCompleted, 0, "", "USDT → BTC → ETH → USDT",
						"BTCUSDT,ETHBTC,ETHUSDT", 0.0012,
						100.0, 100.12, 0.12, 0.12, 0.3, 0.0,
						sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
				mock.ExpectQuery(`INSERT INTO orders`).
					WithArgs(7, 1, "BTCUSDT", "buy", "market", "arb_abc_1", "ex-1",
						100.0, 0.002, 100.0, 50000.0, 0.000002,
						models.OrderStatusFilled, sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
				mock.ExpectCommit()
			},
			expectError: false,
		},
		{
			name: "execution insert fails",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`INSERT INTO executions`).
					WillReturnError(errors.New("database error"))
				mock.ExpectRollback()
			},
			expectError: true,
		},
		{
			name: "order insert fails rolls back",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`INSERT INTO executions`).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
				mock.ExpectQuery(`INSERT INTO orders`).
					WillReturnError(errors.New("database error"))
				mock.ExpectRollback()
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewExecutionRepository(db)
			exec := sampleExecution()
			err = repo.SaveExecution(context.Background(), exec)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if exec.ID != 7 {
					t.Errorf("execution ID = %d, want 7", exec.ID)
				}
				if exec.Orders[0].ID != 11 || exec.Orders[0].ExecutionID != 7 {
					t.Errorf("order not linked: %+v", exec.Orders[0])
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestGetRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	started := time.Now().Add(-time.Minute)
	finished := time.Now()

	execRows := sqlmock.NewRows([]string{
		"id", "state", "abort_leg", "abort_reason", "path", "symbols", "expected_profit",
		"initial_amount", "final_amount", "profit", "profit_pct", "total_fees", "dust_usd",
		"started_at", "finished_at",
	}).AddRow(3, models.ExecAborted, 2, models.AbortReasonTimeout,
		"USDT → BTC → ETH → USDT", "BTCUSDT,ETHBTC,ETHUSDT", 0.002,
		100.0, 0.0, -100.0, -100.0, 0.1, 0.0, started, finished)

	mock.ExpectQuery(`SELECT (.+) FROM executions`).
		WithArgs(10).
		WillReturnRows(execRows)

	orderRows := sqlmock.NewRows([]string{
		"id", "execution_id", "leg", "symbol", "side", "type", "link_id", "exchange_id",
		"requested_qty", "filled_qty", "filled_value", "avg_price", "fee", "status",
		"submitted_at", "completed_at",
	}).AddRow(5, 3, 1, "BTCUSDT", "buy", "market", "arb_x_1", "ex-5",
		100.0, 0.002, 100.0, 50000.0, 0.000002, models.OrderStatusFilled, started, finished)

	mock.ExpectQuery(`SELECT (.+) FROM orders`).
		WithArgs(3).
		WillReturnRows(orderRows)

	repo := NewExecutionRepository(db)
	executions, err := repo.GetRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(executions) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(executions))
	}
	exec := executions[0]
	if exec.AbortLeg != 2 || exec.AbortReason != models.AbortReasonTimeout {
		t.Errorf("abort info lost: leg %d reason %s", exec.AbortLeg, exec.AbortReason)
	}
	if exec.Opportunity.Path != [4]string{"USDT", "BTC", "ETH", "USDT"} {
		t.Errorf("path not restored: %v", exec.Opportunity.Path)
	}
	if exec.Opportunity.Symbols != [3]string{"BTCUSDT", "ETHBTC", "ETHUSDT"} {
		t.Errorf("symbols not restored: %v", exec.Opportunity.Symbols)
	}
	if len(exec.Orders) != 1 || exec.Orders[0].Leg != 1 {
		t.Errorf("orders not loaded: %+v", exec.Orders)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM executions`).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := NewExecutionRepository(db)
	_, err = repo.GetByID(context.Background(), 42)

	if !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("expected ErrExecutionNotFound, got %v", err)
	}
}

func TestGetStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"count", "completed", "simulated", "aborted", "profit", "fees", "dust",
	}).AddRow(12, 4, 6, 2, 1.25, 0.9, 0.05)

	mock.ExpectQuery(`SELECT`).
		WithArgs(models.ExecCompleted, models.ExecSimulated, models.ExecAborted).
		WillReturnRows(rows)

	repo := NewExecutionRepository(db)
	stats, err := repo.GetStats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Total != 12 || stats.Completed != 4 || stats.Simulated != 6 || stats.Aborted != 2 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if stats.TotalProfit != 1.25 {
		t.Errorf("total profit = %v, want 1.25", stats.TotalProfit)
	}
}
