package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"triarb/internal/config"
	"triarb/internal/exchange"
)

// fakeExchange - биржа для тестов обновления снапшотов
type fakeExchange struct {
	instruments []*exchange.Instrument
	tickers     []*exchange.Ticker
	balances    map[string]float64

	tickersErr  error
	balancesErr error
}

func (f *fakeExchange) GetName() string { return "fake" }

func (f *fakeExchange) GetBalances(ctx context.Context) (map[string]float64, error) {
	if f.balancesErr != nil {
		return nil, f.balancesErr
	}
	return f.balances, nil
}

func (f *fakeExchange) GetInstruments(ctx context.Context) ([]*exchange.Instrument, error) {
	return f.instruments, nil
}

func (f *fakeExchange) GetInstrument(ctx context.Context, symbol string) (*exchange.Instrument, error) {
	for _, inst := range f.instruments {
		if inst.Symbol == symbol {
			return inst, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeExchange) GetTickers(ctx context.Context) ([]*exchange.Ticker, error) {
	if f.tickersErr != nil {
		return nil, f.tickersErr
	}
	return f.tickers, nil
}

func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeExchange) GetOrder(ctx context.Context, symbol, linkID string) (*exchange.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, linkID string) error {
	return errors.New("not implemented")
}

func (f *fakeExchange) SubscribeTickers(symbols []string, callback func(*exchange.Ticker)) error {
	return nil
}

func (f *fakeExchange) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Exchange: config.ExchangeConfig{
			MaxRetries:   1,
			RetryBackoff: time.Millisecond,
		},
		Bot: config.BotConfig{
			DryRun:         true,
			PriceRefresh:   time.Second,
			BalanceRefresh: time.Minute,
		},
		Filters: config.FilterConfig{
			MinVolume24hUSD:  10000,
			MaxSpreadPercent: 1.0,
			MinBidSizeUSD:    100,
			MinAskSizeUSD:    100,
			ExcludedAssets:   []string{"LUNA"},
		},
	}
}

func instrument(symbol, base, quote string, active bool) *exchange.Instrument {
	return &exchange.Instrument{
		Symbol: symbol, BaseCoin: base, QuoteCoin: quote,
		QtyStep: 0.001, MinOrderQty: 0.001, MinNotional: 5, Active: active,
	}
}

func TestRefreshPairs_FiltersAndPublishes(t *testing.T) {
	client := &fakeExchange{
		instruments: []*exchange.Instrument{
			instrument("BTCUSDT", "BTC", "USDT", true),
			instrument("LUNAUSDT", "LUNA", "USDT", true),  // исключённая валюта
			instrument("OLDUSDT", "OLD", "USDT", false),   // не торгуется
			instrument("ETHUSDT", "ETH", "USDT", true),    // будет со скрещённым стаканом
			instrument("XRPUSDT", "XRP", "USDT", true),    // неликвидная, но остаётся
		},
		tickers: []*exchange.Ticker{
			{Symbol: "BTCUSDT", BidPrice: 50000, AskPrice: 50010, BidSize: 1, AskSize: 1, Turnover24h: 1_000_000},
			{Symbol: "LUNAUSDT", BidPrice: 1, AskPrice: 1.01, BidSize: 1000, AskSize: 1000, Turnover24h: 500_000},
			{Symbol: "OLDUSDT", BidPrice: 1, AskPrice: 1.01, BidSize: 1000, AskSize: 1000, Turnover24h: 500_000},
			{Symbol: "ETHUSDT", BidPrice: 3001, AskPrice: 3000, BidSize: 1, AskSize: 1, Turnover24h: 1_000_000},
			{Symbol: "XRPUSDT", BidPrice: 0.5, AskPrice: 0.5005, BidSize: 10, AskSize: 10, Turnover24h: 100},
			{Symbol: "GHOSTUSDT", BidPrice: 1, AskPrice: 1.01}, // без инструмента
		},
	}

	store := NewStore()
	r := NewRefresher(client, store, testConfig(), nil)
	if _, err := r.RefreshInstruments(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := r.RefreshPairs(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := store.Pairs()
	if len(snap.Pairs) != 2 {
		t.Fatalf("expected 2 pairs (BTCUSDT, XRPUSDT), got %d: %+v", len(snap.Pairs), snap.Pairs)
	}

	btc := snap.PairBySymbol("BTCUSDT")
	if btc == nil {
		t.Fatal("BTCUSDT missing")
	}
	if !btc.IsLiquid {
		t.Error("BTCUSDT should pass liquidity filters")
	}

	xrp := snap.PairBySymbol("XRPUSDT")
	if xrp == nil {
		t.Fatal("XRPUSDT missing")
	}
	if xrp.IsLiquid {
		t.Error("XRPUSDT with tiny turnover must not be liquid")
	}
}

func TestRefreshPairs_FailureKeepsPreviousSnapshot(t *testing.T) {
	client := &fakeExchange{
		instruments: []*exchange.Instrument{instrument("BTCUSDT", "BTC", "USDT", true)},
		tickers: []*exchange.Ticker{
			{Symbol: "BTCUSDT", BidPrice: 50000, AskPrice: 50010, BidSize: 1, AskSize: 1, Turnover24h: 1_000_000},
		},
	}

	store := NewStore()
	r := NewRefresher(client, store, testConfig(), nil)
	if _, err := r.RefreshInstruments(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.RefreshPairs(context.Background()); err != nil {
		t.Fatal(err)
	}
	previous := store.Pairs()

	client.tickersErr = &exchange.ExchangeError{Exchange: "fake", Message: "down", Transient: true}
	if err := r.RefreshPairs(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	if store.Pairs() != previous {
		t.Error("failed refresh must keep the previous snapshot")
	}
}

func TestRefresher_WiresLiquidityIntoStore(t *testing.T) {
	client := &fakeExchange{
		instruments: []*exchange.Instrument{instrument("BTCUSDT", "BTC", "USDT", true)},
		tickers: []*exchange.Ticker{
			{Symbol: "BTCUSDT", BidPrice: 50000, AskPrice: 50010, BidSize: 1, AskSize: 1, Turnover24h: 1_000_000},
		},
	}

	store := NewStore()
	r := NewRefresher(client, store, testConfig(), nil)
	if _, err := r.RefreshInstruments(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.RefreshPairs(context.Background()); err != nil {
		t.Fatal(err)
	}

	if p := store.Pairs().PairBySymbol("BTCUSDT"); p == nil || !p.IsLiquid {
		t.Fatal("pair must start liquid")
	}

	// WS-тик со спредом 4% при лимите 1%: фильтры Refresher применяются и к тикам
	store.ApplyTicker(&exchange.Ticker{Symbol: "BTCUSDT", BidPrice: 50000, AskPrice: 52000, BidSize: 1, AskSize: 1})

	p := store.Pairs().PairBySymbol("BTCUSDT")
	if p == nil {
		t.Fatal("BTCUSDT missing")
	}
	if p.IsLiquid {
		t.Errorf("ticker pushed spread to %.2f%%, pair must lose the liquid flag", p.SpreadPercent)
	}
}

func TestRefreshBalances(t *testing.T) {
	client := &fakeExchange{
		balances: map[string]float64{"USDT": 1500, "BTC": 0.5},
	}

	store := NewStore()
	r := NewRefresher(client, store, testConfig(), nil)

	if err := r.RefreshBalances(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := store.Balances().Get("USDT"); got != 1500 {
		t.Errorf("expected 1500 USDT, got %v", got)
	}
}

func TestBootstrap_DryRunToleratesBalanceFailure(t *testing.T) {
	client := &fakeExchange{
		instruments: []*exchange.Instrument{instrument("BTCUSDT", "BTC", "USDT", true)},
		tickers: []*exchange.Ticker{
			{Symbol: "BTCUSDT", BidPrice: 50000, AskPrice: 50010, BidSize: 1, AskSize: 1, Turnover24h: 1_000_000},
		},
		balancesErr: &exchange.ExchangeError{Exchange: "fake", Message: "no api key"},
	}

	store := NewStore()
	r := NewRefresher(client, store, testConfig(), nil)

	instruments, err := r.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("bootstrap must tolerate balance failure in dry-run: %v", err)
	}
	if len(instruments) != 1 {
		t.Errorf("expected instruments returned, got %d", len(instruments))
	}
	if len(store.Pairs().Pairs) != 1 {
		t.Error("pairs snapshot not published during bootstrap")
	}
}
