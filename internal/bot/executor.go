package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"triarb/internal/config"
	"triarb/internal/exchange"
	"triarb/internal/market"
	"triarb/internal/models"
	"triarb/internal/precision"
	"triarb/pkg/retry"
	"triarb/pkg/utils"
)

// ErrInsufficientBalance - на счету меньше, чем нужно для первой ноги
var ErrInsufficientBalance = errors.New("insufficient balance")

// Executor проводит одну возможность через три ноги
//
// Каждая нога: квантование, рыночный IOC ордер, опрос статуса до
// исполнения или таймаута. Фактический выход ноги (филл минус комиссия)
// становится входом следующей. В dry-run ноги исполняются синтетически
// по последним известным ценам.
type Executor struct {
	client    exchange.Exchange
	precision *precision.Manager
	store     *market.Store
	logger    *zap.Logger

	dryRun       bool
	feeRate      float64
	orderTimeout time.Duration
	execDeadline time.Duration
	pollInterval time.Duration

	retryCfg retry.Config
}

// NewExecutor создаёт исполнитель
func NewExecutor(client exchange.Exchange, pm *precision.Manager, store *market.Store, cfg *config.Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Exchange.MaxRetries
	retryCfg.InitialDelay = cfg.Exchange.RetryBackoff
	retryCfg.RetryIf = retry.IsRetryable

	return &Executor{
		client:       client,
		precision:    pm,
		store:        store,
		logger:       logger,
		dryRun:       cfg.Bot.DryRun,
		feeRate:      cfg.Bot.FeeRate,
		orderTimeout: cfg.Bot.OrderTimeout,
		execDeadline: cfg.Bot.ExecDeadline,
		pollInterval: 200 * time.Millisecond,
		retryCfg:     retryCfg,
	}
}

// Execute проводит возможность через три ноги и возвращает итог
//
// Никогда не возвращает ошибку: любой сбой фиксируется в терминальном
// состоянии ABORTED с ногой и причиной.
func (ex *Executor) Execute(ctx context.Context, opp *models.Opportunity, amount float64) *models.TradeExecution {
	exec := &models.TradeExecution{
		Opportunity:   *opp,
		State:         models.ExecPlanned,
		InitialAmount: amount,
		StartedAt:     time.Now(),
	}

	execUID := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]

	// Бюджет времени на весь треугольник: торговать на устаревших ценах
	// хуже, чем не торговать
	deadlineCtx, cancel := context.WithTimeout(ctx, ex.execDeadline)
	defer cancel()

	current := amount

	for leg := 1; leg <= 3; leg++ {
		symbol := opp.Symbols[leg-1]
		side := opp.Sides[leg-1]
		inputCurrency := opp.Path[leg-1]

		if deadlineCtx.Err() != nil {
			ex.abort(exec, leg, models.AbortReasonDeadlineExceeded)
			return exec
		}

		// Перед первой ногой сверяемся с балансом
		if leg == 1 && !ex.dryRun {
			available := ex.store.Balances().Get(inputCurrency)
			if available < current {
				ex.logger.Warn("insufficient balance",
					zap.String("currency", inputCurrency),
					zap.Float64("needed", current),
					zap.Float64("available", available))
				ex.abort(exec, leg, models.AbortReasonInsufficientBalance)
				return exec
			}
		}

		qty, err := ex.quantizeLeg(deadlineCtx, symbol, side, current)
		if err != nil {
			reason := models.AbortReasonBelowMinNotional
			if errors.Is(err, precision.ErrUnknownSymbol) {
				reason = models.AbortReasonUnknownSymbol
			}
			ex.logger.Info("leg rejected before submission",
				zap.String("symbol", symbol),
				zap.Int("leg", leg),
				zap.Error(err))
			ex.abort(exec, leg, reason)
			return exec
		}

		ex.transition(exec, models.LegSubmittedState(leg))

		linkID := fmt.Sprintf("arb_%s_%d", execUID, leg)

		var out float64
		var order *models.OrderRecord
		if ex.dryRun {
			order, out = ex.simulateLeg(symbol, side, qty, leg, linkID)
			if order == nil {
				ex.abort(exec, leg, models.AbortReasonRejected)
				return exec
			}
		} else {
			var reason string
			order, out, reason = ex.executeLeg(deadlineCtx, symbol, side, qty, leg, linkID)
			if reason != "" {
				if order != nil {
					exec.Orders = append(exec.Orders, *order)
				}
				ex.abort(exec, leg, reason)
				return exec
			}
		}

		exec.Orders = append(exec.Orders, *order)
		exec.TotalFees += order.Fee

		// Недоиспользованный вход ноги оседает пылью
		if leftover := current - qty; leftover > 0 {
			exec.DustUSD += anchorValue(opp, leg, leftover)
		}

		ex.transition(exec, models.LegFilledState(leg))

		current = out
	}

	exec.FinalAmount = current
	exec.Profit = exec.FinalAmount - exec.InitialAmount
	if exec.InitialAmount > 0 {
		exec.ProfitPct = exec.Profit / exec.InitialAmount * 100
	}
	exec.FinishedAt = time.Now()

	if ex.dryRun {
		ex.transition(exec, models.ExecSimulated)
	} else {
		ex.transition(exec, models.ExecCompleted)
	}

	ex.logger.Info("execution finished",
		zap.String("path", exec.Opportunity.DisplayPath()),
		zap.String("state", exec.State),
		zap.Float64("profit", exec.Profit),
		zap.Float64("profit_pct", exec.ProfitPct))

	return exec
}

// anchorValue переводит остаток входной валюты ноги в якорную валюту
// по курсам оставшихся ног возможности
func anchorValue(opp *models.Opportunity, leg int, amount float64) float64 {
	if leg <= 1 {
		// Вход первой ноги и есть якорная валюта
		return amount
	}
	v := amount
	for i := leg - 1; i < len(opp.Rates); i++ {
		v *= opp.Rates[i]
	}
	return v
}

// quantizeLeg готовит объём ордера ноги
//
// sell: объём в базовой валюте, усекаем до шага инструмента.
// buy: тратим котируемую валюту, проверяем минимальный notional.
func (ex *Executor) quantizeLeg(ctx context.Context, symbol, side string, input float64) (float64, error) {
	if side == exchange.SideSell {
		price := ex.legPrice(symbol, side)
		return ex.precision.Quantize(ctx, symbol, input, price)
	}

	spec, err := ex.precision.Spec(ctx, symbol)
	if err != nil {
		return 0, err
	}
	spend := utils.TruncateToDecimals(input, 8)
	if spec.MinNotional > 0 && spend < spec.MinNotional {
		return 0, fmt.Errorf("%w: %s spend %.8f below min notional %.4f",
			precision.ErrBelowMinNotional, symbol, spend, spec.MinNotional)
	}
	if spend <= 0 {
		return 0, fmt.Errorf("%w: %s zero spend", precision.ErrBelowMinNotional, symbol)
	}
	return spend, nil
}

// legPrice возвращает последнюю известную цену исполнения ноги
func (ex *Executor) legPrice(symbol, side string) float64 {
	pair := ex.store.Pairs().PairBySymbol(symbol)
	if pair == nil {
		return 0
	}
	if side == exchange.SideBuy {
		return pair.AskPrice
	}
	return pair.BidPrice
}

// simulateLeg синтетически исполняет ногу по снапшоту
func (ex *Executor) simulateLeg(symbol, side string, qty float64, leg int, linkID string) (*models.OrderRecord, float64) {
	price := ex.legPrice(symbol, side)
	if price <= 0 {
		return nil, 0
	}

	now := time.Now()
	var out, filledQty, filledValue, fee float64

	if side == exchange.SideBuy {
		// Покупаем базовую за qty котируемой по ask
		filledQty = qty / price
		filledValue = qty
		fee = filledQty * ex.feeRate
		out = filledQty - fee
	} else {
		// Продаём qty базовой по bid
		filledQty = qty
		filledValue = qty * price
		fee = filledValue * ex.feeRate
		out = filledValue - fee
	}

	completed := now
	return &models.OrderRecord{
		Leg:          leg,
		Symbol:       symbol,
		Side:         side,
		Type:         "market",
		LinkID:       linkID,
		RequestedQty: qty,
		FilledQty:    filledQty,
		FilledValue:  filledValue,
		AvgPrice:     price,
		Fee:          fee,
		Status:       models.OrderStatusFilled,
		SubmittedAt:  now,
		CompletedAt:  &completed,
	}, out
}

// executeLeg размещает ордер и ждёт исполнения
// Возвращает запись ордера, выход ноги и причину аборта (пустая = успех)
func (ex *Executor) executeLeg(ctx context.Context, symbol, side string, qty float64, leg int, linkID string) (*models.OrderRecord, float64, string) {
	submittedAt := time.Now()

	placed, err := ex.placeWithPrecisionRetry(ctx, symbol, side, qty, linkID)
	if err != nil {
		ex.logger.Warn("order rejected",
			zap.String("symbol", symbol),
			zap.Int("leg", leg),
			zap.Error(err))
		return nil, 0, models.AbortReasonRejected
	}

	record := &models.OrderRecord{
		Leg:          leg,
		Symbol:       symbol,
		Side:         side,
		Type:         "market",
		LinkID:       linkID,
		ExchangeID:   placed.ID,
		RequestedQty: qty,
		Status:       models.OrderStatusPlaced,
		SubmittedAt:  submittedAt,
	}

	final, timedOut := ex.awaitFill(ctx, symbol, linkID)
	if final != nil {
		completed := final.UpdatedAt
		record.FilledQty = final.FilledQty
		record.FilledValue = final.FilledValue
		record.AvgPrice = final.AvgFillPrice
		record.Fee = final.Fee
		record.CompletedAt = &completed
		switch final.Status {
		case exchange.OrderStatusFilled:
			record.Status = models.OrderStatusFilled
		case exchange.OrderStatusPartial:
			record.Status = models.OrderStatusPartial
		case exchange.OrderStatusCancelled:
			record.Status = models.OrderStatusCancelled
		case exchange.OrderStatusRejected:
			record.Status = models.OrderStatusFailed
		}
	}

	if timedOut {
		// Таймаут - это не повод переразмещать ордер: отменяем и фиксируем
		// частичное исполнение как есть
		cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ex.client.CancelOrder(cancelCtx, symbol, linkID); err != nil {
			ex.logger.Warn("cancel after timeout failed",
				zap.String("link_id", linkID),
				zap.Error(err))
		}
		if reconciled, err := ex.client.GetOrder(cancelCtx, symbol, linkID); err == nil {
			record.FilledQty = reconciled.FilledQty
			record.FilledValue = reconciled.FilledValue
			record.AvgPrice = reconciled.AvgFillPrice
			record.Fee = reconciled.Fee
			record.Status = models.OrderStatusCancelled
		}
		return record, 0, models.AbortReasonTimeout
	}

	if final == nil || final.Status != exchange.OrderStatusFilled {
		return record, 0, models.AbortReasonRejected
	}

	var out float64
	if side == exchange.SideBuy {
		out = final.FilledQty - final.Fee
	} else {
		out = final.FilledValue - final.Fee
	}

	return record, out, ""
}

// placeWithPrecisionRetry размещает ордер, подбирая точность при отказах
//
// Биржа отклоняет количество с лишними знаками. После отказа по точности
// пробуем с меньшим числом знаков; подобранная точность кэшируется и
// используется со старта в следующих сделках.
func (ex *Executor) placeWithPrecisionRetry(ctx context.Context, symbol, side string, qty float64, linkID string) (*exchange.Order, error) {
	decimals, err := ex.precision.StartDecimals(ctx, symbol)
	if err != nil {
		return nil, err
	}
	startDecimals := decimals

	for {
		attemptQty := utils.TruncateToDecimals(qty, decimals)
		if attemptQty <= 0 {
			return nil, fmt.Errorf("qty %.10f truncated to zero at %d decimals", qty, decimals)
		}

		order, err := retry.DoWithResult(ctx, func() (*exchange.Order, error) {
			return ex.client.PlaceMarketOrder(ctx, &exchange.OrderRequest{
				Symbol: symbol,
				Side:   side,
				Qty:    attemptQty,
				LinkID: linkID,
			})
		}, ex.retryCfg)

		if err == nil {
			if decimals < startDecimals {
				ex.precision.CacheWorkingDecimals(symbol, decimals)
			}
			return order, nil
		}

		var exErr *exchange.ExchangeError
		if errors.As(err, &exErr) && exchange.IsPrecisionError(exErr.Code) && decimals > 0 {
			decimals--
			ex.logger.Debug("precision rejected, reducing decimals",
				zap.String("symbol", symbol),
				zap.Int("decimals", decimals))
			continue
		}

		return nil, err
	}
}

// awaitFill опрашивает ордер до конечного статуса или таймаута
func (ex *Executor) awaitFill(ctx context.Context, symbol, linkID string) (order *exchange.Order, timedOut bool) {
	pollCtx, cancel := context.WithTimeout(ctx, ex.orderTimeout)
	defer cancel()

	ticker := time.NewTicker(ex.pollInterval)
	defer ticker.Stop()

	var last *exchange.Order

	for {
		select {
		case <-pollCtx.Done():
			return last, true
		case <-ticker.C:
			o, err := ex.client.GetOrder(pollCtx, symbol, linkID)
			if err != nil {
				// Временный сбой опроса не фатален, ждём следующий тик
				continue
			}
			last = o
			if o.IsFinal() {
				return o, false
			}
		}
	}
}

// transition переводит исполнение в новое состояние с проверкой допустимости
func (ex *Executor) transition(exec *models.TradeExecution, to string) {
	if !CanTransition(exec.State, to) {
		ex.logger.Error("invalid state transition",
			zap.String("from", exec.State),
			zap.String("to", to))
		return
	}
	exec.State = to
}

// abort переводит исполнение в ABORTED с ногой и причиной
func (ex *Executor) abort(exec *models.TradeExecution, leg int, reason string) {
	ex.transition(exec, models.ExecAborted)
	exec.AbortLeg = leg
	exec.AbortReason = reason
	exec.FinishedAt = time.Now()

	ex.logger.Warn("execution aborted",
		zap.String("path", exec.Opportunity.DisplayPath()),
		zap.Int("leg", leg),
		zap.String("reason", reason))
}
