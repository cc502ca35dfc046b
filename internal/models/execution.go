package models

import "time"

// OrderRecord представляет один ордер, отправленный на биржу (или симулированный)
type OrderRecord struct {
	ID           int        `json:"id" db:"id"`
	ExecutionID  int        `json:"execution_id" db:"execution_id"`
	Leg          int        `json:"leg" db:"leg"` // 1..3
	Symbol       string     `json:"symbol" db:"symbol"`
	Side         string     `json:"side" db:"side"` // buy, sell
	Type         string     `json:"type" db:"type"` // market (IOC)
	LinkID       string     `json:"link_id" db:"link_id"`
	ExchangeID   string     `json:"exchange_id" db:"exchange_id"`
	RequestedQty float64    `json:"requested_qty" db:"requested_qty"`
	FilledQty    float64    `json:"filled_qty" db:"filled_qty"`
	FilledValue  float64    `json:"filled_value" db:"filled_value"` // в котируемой валюте
	AvgPrice     float64    `json:"avg_price" db:"avg_price"`
	Fee          float64    `json:"fee" db:"fee"`
	Status       string     `json:"status" db:"status"`
	SubmittedAt  time.Time  `json:"submitted_at" db:"submitted_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Статусы ордера
const (
	OrderStatusPlaced    = "placed"
	OrderStatusPartial   = "partial"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusFailed    = "failed"
)

// TradeExecution представляет прогон одной возможности через три ноги
type TradeExecution struct {
	ID            int           `json:"id" db:"id"`
	Opportunity   Opportunity   `json:"opportunity"`
	Orders        []OrderRecord `json:"orders"`
	State         string        `json:"state" db:"state"`
	AbortLeg      int           `json:"abort_leg,omitempty" db:"abort_leg"`       // 1..3, 0 если не было аборта
	AbortReason   string        `json:"abort_reason,omitempty" db:"abort_reason"` // timeout, rejected, ...
	InitialAmount float64       `json:"initial_amount" db:"initial_amount"`
	FinalAmount   float64       `json:"final_amount" db:"final_amount"`
	Profit        float64       `json:"profit" db:"profit"`         // FinalAmount - InitialAmount
	ProfitPct     float64       `json:"profit_pct" db:"profit_pct"` // в процентах от InitialAmount
	TotalFees     float64       `json:"total_fees" db:"total_fees"`
	DustUSD       float64       `json:"dust_usd" db:"dust_usd"` // остатки всех ног в пересчёте на якорную валюту
	StartedAt     time.Time     `json:"started_at" db:"started_at"`
	FinishedAt    time.Time     `json:"finished_at" db:"finished_at"`
}

// Состояния исполнения (state machine)
const (
	ExecPlanned       = "PLANNED"
	ExecLeg1Submitted = "LEG1_SUBMITTED"
	ExecLeg1Filled    = "LEG1_FILLED"
	ExecLeg2Submitted = "LEG2_SUBMITTED"
	ExecLeg2Filled    = "LEG2_FILLED"
	ExecLeg3Submitted = "LEG3_SUBMITTED"
	ExecLeg3Filled    = "LEG3_FILLED"
	ExecCompleted     = "COMPLETED"
	ExecSimulated     = "SIMULATED"
	ExecAborted       = "ABORTED"
)

// Причины аборта исполнения
const (
	AbortReasonTimeout             = "timeout"
	AbortReasonRejected            = "rejected"
	AbortReasonBelowMinNotional    = "below_min_notional"
	AbortReasonInsufficientBalance = "insufficient_balance"
	AbortReasonDeadlineExceeded    = "deadline_exceeded"
	AbortReasonUnknownSymbol       = "unknown_symbol"
)

// IsTerminalExecState возвращает true для конечных состояний исполнения
func IsTerminalExecState(s string) bool {
	return s == ExecCompleted || s == ExecSimulated || s == ExecAborted
}

// LegSubmittedState возвращает состояние "нога N отправлена" (n от 1 до 3)
func LegSubmittedState(n int) string {
	switch n {
	case 1:
		return ExecLeg1Submitted
	case 2:
		return ExecLeg2Submitted
	default:
		return ExecLeg3Submitted
	}
}

// LegFilledState возвращает состояние "нога N исполнена" (n от 1 до 3)
func LegFilledState(n int) string {
	switch n {
	case 1:
		return ExecLeg1Filled
	case 2:
		return ExecLeg2Filled
	default:
		return ExecLeg3Filled
	}
}
