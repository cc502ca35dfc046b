// Package bot содержит торговое ядро: граф цен, сканер треугольников
// и исполнитель сделок.
package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"triarb/internal/config"
	"triarb/internal/market"
	"triarb/internal/models"
	"triarb/internal/precision"
)

// ExecutionSink принимает завершённые исполнения (журнал сделок)
type ExecutionSink interface {
	SaveExecution(ctx context.Context, exec *models.TradeExecution) error
}

// Engine связывает обновление рынка, сканирование и исполнение
//
// Один цикл скан/исполнение (~100ms) плюс независимые задачи обновления.
// Ошибка любого цикла логируется и не роняет процесс.
type Engine struct {
	cfg       *config.Config
	store     *market.Store
	refresher *market.Refresher
	precision *precision.Manager
	scanner   *Scanner
	executor  *Executor
	sink      ExecutionSink // может быть nil
	logger    *zap.Logger

	activeExecs int32 // atomic, текущие исполнения
	tradesDone  int32 // atomic, завершённые сделки

	// Одна якорная валюта - одно исполнение: два треугольника не должны
	// тянуть один и тот же баланс
	claimsMu sync.Mutex
	claims   map[string]bool

	// Состояние для мониторинга
	statusMu    sync.RWMutex
	lastScanAt  time.Time
	lastOpps    []models.Opportunity
	bestAllTime float64

	done chan struct{}
}

// NewEngine создаёт движок
func NewEngine(cfg *config.Config, store *market.Store, refresher *market.Refresher,
	pm *precision.Manager, scanner *Scanner, executor *Executor,
	sink ExecutionSink, logger *zap.Logger) *Engine {

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cfg:         cfg,
		store:       store,
		refresher:   refresher,
		precision:   pm,
		scanner:     scanner,
		executor:    executor,
		sink:        sink,
		logger:      logger,
		claims:      make(map[string]bool),
		bestAllTime: -1,
		done:        make(chan struct{}),
	}
}

// Run запускает движок и блокируется до отмены контекста или лимита сделок
func (e *Engine) Run(ctx context.Context) error {
	e.precision.LoadCache()

	instruments, err := e.refresher.Bootstrap(ctx)
	if err != nil {
		return err
	}
	e.precision.Seed(instruments)

	if e.cfg.Bot.DryRun {
		e.publishSyntheticBalances()
	}

	e.refresher.Start(ctx)

	e.logger.Info("engine started",
		zap.Bool("dry_run", e.cfg.Bot.DryRun),
		zap.Float64("order_size", e.cfg.Bot.OrderSize),
		zap.Float64("min_profit", e.cfg.Bot.MinProfit),
		zap.Strings("anchors", e.cfg.Bot.Anchors))

	scanTicker := time.NewTicker(e.cfg.Bot.ScanInterval)
	defer scanTicker.Stop()

	summaryTicker := time.NewTicker(30 * time.Second)
	defer summaryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case <-e.done:
			e.shutdown()
			return nil
		case <-summaryTicker.C:
			e.logSummary()
		case <-scanTicker.C:
			e.scanCycle(ctx)
		}
	}
}

// shutdown сохраняет кэш точности перед выходом
func (e *Engine) shutdown() {
	if err := e.precision.SaveCache(); err != nil {
		e.logger.Warn("failed to save precision cache on shutdown", zap.Error(err))
	}
	e.logger.Info("engine stopped",
		zap.Int32("trades_done", atomic.LoadInt32(&e.tradesDone)))
}

// publishSyntheticBalances наполняет балансы для симуляции
func (e *Engine) publishSyntheticBalances() {
	amounts := make(map[string]float64, len(e.cfg.Bot.Anchors))
	for _, anchor := range e.cfg.Bot.Anchors {
		amounts[anchor] = e.cfg.Bot.OrderSize * 10
	}
	e.store.PublishBalances(&models.BalanceSnapshot{
		Amounts: amounts,
		TakenAt: time.Now(),
	})
}

// scanCycle выполняет один цикл: граф, скан, запуск исполнений
func (e *Engine) scanCycle(ctx context.Context) {
	snapshot := e.store.Pairs()
	if snapshot == nil || len(snapshot.Pairs) == 0 {
		return
	}

	start := time.Now()
	graph := BuildGraph(snapshot)
	result := e.scanner.Scan(graph, e.cfg.Bot.Anchors)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000

	RecordScan(result, latencyMs)
	SnapshotPairs.Set(float64(len(snapshot.Pairs)))
	SnapshotAge.Observe(float64(time.Since(snapshot.TakenAt).Milliseconds()))

	e.statusMu.Lock()
	e.lastScanAt = time.Now()
	e.lastOpps = result.Opportunities
	if result.BestNetProfit > e.bestAllTime {
		e.bestAllTime = result.BestNetProfit
	}
	e.statusMu.Unlock()

	for i := range result.Opportunities {
		e.tryExecute(ctx, &result.Opportunities[i])
	}
}

// tryExecute запускает исполнение, если позволяют лимиты и клеймы
func (e *Engine) tryExecute(ctx context.Context, opp *models.Opportunity) {
	for {
		current := atomic.LoadInt32(&e.activeExecs)
		if int(current) >= e.cfg.Bot.MaxConcurrent {
			return
		}
		if atomic.CompareAndSwapInt32(&e.activeExecs, current, current+1) {
			break
		}
	}

	anchor := opp.Anchor()
	e.claimsMu.Lock()
	if e.claims[anchor] {
		e.claimsMu.Unlock()
		atomic.AddInt32(&e.activeExecs, -1)
		return
	}
	e.claims[anchor] = true
	e.claimsMu.Unlock()

	ActiveExecutions.Set(float64(atomic.LoadInt32(&e.activeExecs)))

	e.logger.Info("opportunity triggered",
		zap.String("path", opp.DisplayPath()),
		zap.Float64("net_profit", opp.NetProfit),
		zap.Float64("gross_factor", opp.GrossFactor))

	go func() {
		defer func() {
			e.claimsMu.Lock()
			delete(e.claims, anchor)
			e.claimsMu.Unlock()
			atomic.AddInt32(&e.activeExecs, -1)
			ActiveExecutions.Set(float64(atomic.LoadInt32(&e.activeExecs)))
		}()

		start := time.Now()
		exec := e.executor.Execute(ctx, opp, e.cfg.Bot.OrderSize)
		latencyMs := float64(time.Since(start).Milliseconds())

		RecordExecution(exec.State, exec.AbortReason, exec.Profit, latencyMs)

		if e.sink != nil {
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.sink.SaveExecution(saveCtx, exec); err != nil {
				e.logger.Warn("failed to persist execution", zap.Error(err))
			}
		}

		if exec.State == models.ExecCompleted || exec.State == models.ExecSimulated {
			done := atomic.AddInt32(&e.tradesDone, 1)
			if e.cfg.Bot.MaxTrades > 0 && int(done) >= e.cfg.Bot.MaxTrades {
				e.logger.Info("trade limit reached, stopping",
					zap.Int("max_trades", e.cfg.Bot.MaxTrades))
				e.Stop()
			}
		}
	}()
}

// Stop останавливает движок
func (e *Engine) Stop() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

// Status - срез состояния движка для мониторинга
type Status struct {
	DryRun           bool                 `json:"dry_run"`
	TradesDone       int                  `json:"trades_done"`
	ActiveExecutions int                  `json:"active_executions"`
	LastScanAt       time.Time            `json:"last_scan_at"`
	SnapshotAt       time.Time            `json:"snapshot_at"`
	SnapshotPairs    int                  `json:"snapshot_pairs"`
	BestNetProfit    float64              `json:"best_net_profit"`
	Opportunities    []models.Opportunity `json:"opportunities"`
}

// Status возвращает текущее состояние движка
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()

	snapshot := e.store.Pairs()

	return Status{
		DryRun:           e.cfg.Bot.DryRun,
		TradesDone:       int(atomic.LoadInt32(&e.tradesDone)),
		ActiveExecutions: int(atomic.LoadInt32(&e.activeExecs)),
		LastScanAt:       e.lastScanAt,
		SnapshotAt:       snapshot.TakenAt,
		SnapshotPairs:    len(snapshot.Pairs),
		BestNetProfit:    e.bestAllTime,
		Opportunities:    e.lastOpps,
	}
}

// logSummary пишет периодическую сводку
func (e *Engine) logSummary() {
	e.statusMu.RLock()
	best := e.bestAllTime
	opps := len(e.lastOpps)
	e.statusMu.RUnlock()

	e.logger.Info("periodic summary",
		zap.Float64("best_net_profit", best),
		zap.Int("last_scan_opportunities", opps),
		zap.Int32("trades_done", atomic.LoadInt32(&e.tradesDone)),
		zap.Int32("active_executions", atomic.LoadInt32(&e.activeExecs)))
}
