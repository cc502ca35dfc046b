package market

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"triarb/internal/config"
	"triarb/internal/exchange"
	"triarb/internal/models"
	"triarb/pkg/retry"
	"triarb/pkg/utils"
)

// Refresher периодически обновляет снапшоты рынка и балансов
//
// Два независимых таймера: тикеры каждые ~2s, балансы каждую ~1m.
// Неудачное обновление оставляет предыдущий снапшот и логируется,
// процесс никогда не падает из-за одного сбоя.
type Refresher struct {
	client  exchange.Exchange
	store   *Store
	filters config.FilterConfig
	logger  *zap.Logger

	priceInterval   time.Duration
	balanceInterval time.Duration
	dryRun          bool

	retryCfg retry.Config

	// Описания инструментов: обновляются редко, нужны для base/quote
	instrumentsMu sync.RWMutex
	instruments   map[string]*exchange.Instrument
}

// NewRefresher создаёт планировщик обновлений
func NewRefresher(client exchange.Exchange, store *Store, cfg *config.Config, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}

	retryCfg := retry.NetworkConfig()
	retryCfg.MaxRetries = cfg.Exchange.MaxRetries
	retryCfg.InitialDelay = cfg.Exchange.RetryBackoff
	retryCfg.RetryIf = retry.IsRetryable

	r := &Refresher{
		client:          client,
		store:           store,
		filters:         cfg.Filters,
		logger:          logger,
		priceInterval:   cfg.Bot.PriceRefresh,
		balanceInterval: cfg.Bot.BalanceRefresh,
		dryRun:          cfg.Bot.DryRun,
		retryCfg:        retryCfg,
		instruments:     make(map[string]*exchange.Instrument),
	}

	// WS-тики проходят те же фильтры ликвидности, что и REST-обновления
	store.SetLiquidity(r.isLiquid)

	return r
}

// Bootstrap выполняет первичную загрузку инструментов, тикеров и балансов
// Возвращает инструменты для прогрева менеджера точности
func (r *Refresher) Bootstrap(ctx context.Context) ([]*exchange.Instrument, error) {
	instruments, err := retry.DoWithResult(ctx, func() ([]*exchange.Instrument, error) {
		return r.client.GetInstruments(ctx)
	}, r.retryCfg)
	if err != nil {
		return nil, err
	}
	r.setInstruments(instruments)

	if err := r.RefreshPairs(ctx); err != nil {
		return nil, err
	}

	if err := r.RefreshBalances(ctx); err != nil {
		// В dry-run балансы могут быть недоступны без ключей
		if !r.dryRun {
			return nil, err
		}
		r.logger.Info("balance fetch skipped in dry-run", zap.Error(err))
	}

	return instruments, nil
}

// Start запускает периодические обновления до отмены контекста
func (r *Refresher) Start(ctx context.Context) {
	go r.runLoop(ctx, "pairs", r.priceInterval, r.RefreshPairs)
	go r.runLoop(ctx, "balances", r.balanceInterval, r.RefreshBalances)
}

// runLoop крутит один таймер обновления
// Ошибка цикла логируется, следующий тик пробует снова
func (r *Refresher) runLoop(ctx context.Context, name string, interval time.Duration, refresh func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := refresh(ctx); err != nil {
				RefreshFailures.WithLabelValues(name).Inc()
				r.logger.Warn("refresh failed, keeping previous snapshot",
					zap.String("task", name),
					zap.Error(err))
			}
		}
	}
}

// RefreshPairs получает тикеры и публикует новый снапшот рынка
func (r *Refresher) RefreshPairs(ctx context.Context) error {
	tickers, err := retry.DoWithResult(ctx, func() ([]*exchange.Ticker, error) {
		return r.client.GetTickers(ctx)
	}, r.retryCfg)
	if err != nil {
		return err
	}

	snapshot := r.buildSnapshot(tickers)
	r.store.PublishPairs(snapshot)

	r.logger.Debug("market snapshot published",
		zap.Int("pairs", len(snapshot.Pairs)),
		zap.Int("tickers", len(tickers)))

	return nil
}

// RefreshBalances получает балансы и публикует новый снапшот
func (r *Refresher) RefreshBalances(ctx context.Context) error {
	balances, err := retry.DoWithResult(ctx, func() (map[string]float64, error) {
		return r.client.GetBalances(ctx)
	}, r.retryCfg)
	if err != nil {
		return err
	}

	r.store.PublishBalances(&models.BalanceSnapshot{
		Amounts: balances,
		TakenAt: time.Now(),
	})

	return nil
}

// RefreshInstruments обновляет описания инструментов
// Вызывается редко: шаги и минимумы меняются раз в месяцы
func (r *Refresher) RefreshInstruments(ctx context.Context) ([]*exchange.Instrument, error) {
	instruments, err := retry.DoWithResult(ctx, func() ([]*exchange.Instrument, error) {
		return r.client.GetInstruments(ctx)
	}, r.retryCfg)
	if err != nil {
		return nil, err
	}
	r.setInstruments(instruments)
	return instruments, nil
}

func (r *Refresher) setInstruments(instruments []*exchange.Instrument) {
	m := make(map[string]*exchange.Instrument, len(instruments))
	for _, inst := range instruments {
		m[inst.Symbol] = inst
	}
	r.instrumentsMu.Lock()
	r.instruments = m
	r.instrumentsMu.Unlock()
}

// buildSnapshot собирает снапшот рынка из тикеров
//
// Отбрасываются: пары без описания инструмента, неторгуемые,
// с исключёнными валютами, с нулевыми или скрещёнными ценами.
func (r *Refresher) buildSnapshot(tickers []*exchange.Ticker) *models.Snapshot {
	r.instrumentsMu.RLock()
	instruments := r.instruments
	r.instrumentsMu.RUnlock()

	pairs := make([]models.MarketPair, 0, len(tickers))
	for _, t := range tickers {
		inst, ok := instruments[t.Symbol]
		if !ok || !inst.Active {
			continue
		}

		if r.filters.IsExcluded(inst.BaseCoin) || r.filters.IsExcluded(inst.QuoteCoin) {
			continue
		}

		if t.BidPrice <= 0 || t.AskPrice <= 0 || t.AskPrice < t.BidPrice {
			continue
		}

		spread := utils.SpreadPercent(t.BidPrice, t.AskPrice)

		pair := models.MarketPair{
			Symbol:        t.Symbol,
			Base:          inst.BaseCoin,
			Quote:         inst.QuoteCoin,
			BidPrice:      t.BidPrice,
			AskPrice:      t.AskPrice,
			BidSize:       t.BidSize,
			AskSize:       t.AskSize,
			Volume24h:     t.Volume24h,
			Volume24hUSD:  t.Turnover24h,
			SpreadPercent: spread,
			IsActive:      true,
		}
		pair.IsLiquid = r.isLiquid(&pair)

		pairs = append(pairs, pair)
	}

	return &models.Snapshot{
		Pairs:   pairs,
		TakenAt: time.Now(),
	}
}

// isLiquid проверяет фильтры ликвидности пары
func (r *Refresher) isLiquid(p *models.MarketPair) bool {
	if p.Volume24hUSD < r.filters.MinVolume24hUSD {
		return false
	}
	if p.SpreadPercent > r.filters.MaxSpreadPercent {
		return false
	}
	if p.BidSize*p.BidPrice < r.filters.MinBidSizeUSD {
		return false
	}
	if p.AskSize*p.AskPrice < r.filters.MinAskSizeUSD {
		return false
	}
	return true
}
