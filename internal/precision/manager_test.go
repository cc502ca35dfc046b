package precision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"triarb/internal/exchange"
)

// fakeSource - источник инструментов для тестов
type fakeSource struct {
	instruments map[string]*exchange.Instrument
	calls       int
}

func (f *fakeSource) GetInstrument(ctx context.Context, symbol string) (*exchange.Instrument, error) {
	f.calls++
	inst, ok := f.instruments[symbol]
	if !ok {
		return nil, errors.New("symbol not found")
	}
	return inst, nil
}

func btcInstrument() *exchange.Instrument {
	return &exchange.Instrument{
		Symbol:      "BTCUSDT",
		BaseCoin:    "BTC",
		QuoteCoin:   "USDT",
		QtyStep:     0.000001,
		PriceStep:   0.01,
		MinOrderQty: 0.000048,
		MinNotional: 5.0,
		Active:      true,
	}
}

func newTestManager(t *testing.T, source InstrumentSource) *Manager {
	t.Helper()
	cachePath := filepath.Join(t.TempDir(), "precision_cache.json")
	return NewManager(source, cachePath, nil)
}

// ============================================================
// Тесты Spec
// ============================================================

func TestSpec_LazyFetch(t *testing.T) {
	source := &fakeSource{instruments: map[string]*exchange.Instrument{
		"BTCUSDT": btcInstrument(),
	}}
	m := newTestManager(t, source)

	spec, err := m.Spec(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.BaseCoin != "BTC" || spec.QuoteCoin != "USDT" {
		t.Errorf("unexpected coins: %s/%s", spec.BaseCoin, spec.QuoteCoin)
	}
	if source.calls != 1 {
		t.Errorf("expected 1 fetch, got %d", source.calls)
	}

	// Повторный запрос идёт из кэша
	if _, err := m.Spec(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.calls != 1 {
		t.Errorf("expected cached spec, got %d fetches", source.calls)
	}
}

func TestSpec_UnknownSymbol(t *testing.T) {
	m := newTestManager(t, &fakeSource{instruments: map[string]*exchange.Instrument{}})

	_, err := m.Spec(context.Background(), "NOPEUSDT")
	if !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestSpec_NilSource(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.Spec(context.Background(), "BTCUSDT")
	if !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("expected ErrUnknownSymbol, got %v", err)
	}
}

// ============================================================
// Тесты Quantize
// ============================================================

func TestQuantize_Truncation(t *testing.T) {
	source := &fakeSource{instruments: map[string]*exchange.Instrument{
		"BTCUSDT": btcInstrument(),
	}}
	m := newTestManager(t, source)
	ctx := context.Background()

	qty, err := m.Quantize(ctx, "BTCUSDT", 0.123456789, 50000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qty != 0.123456 {
		t.Errorf("expected 0.123456, got %.10f", qty)
	}
}

func TestQuantize_Idempotent(t *testing.T) {
	source := &fakeSource{instruments: map[string]*exchange.Instrument{
		"BTCUSDT": btcInstrument(),
	}}
	m := newTestManager(t, source)
	ctx := context.Background()

	once, err := m.Quantize(ctx, "BTCUSDT", 0.987654321, 50000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	twice, err := m.Quantize(ctx, "BTCUSDT", once, 50000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if once != twice {
		t.Errorf("quantize not idempotent: %.10f != %.10f", once, twice)
	}
}

func TestQuantize_BelowMinNotional(t *testing.T) {
	source := &fakeSource{instruments: map[string]*exchange.Instrument{
		"BTCUSDT": btcInstrument(),
	}}
	m := newTestManager(t, source)

	// 0.00005 BTC * 50000 = 2.5 USDT < 5 USDT минимума
	_, err := m.Quantize(context.Background(), "BTCUSDT", 0.00005, 50000)
	if !errors.Is(err, ErrBelowMinNotional) {
		t.Fatalf("expected ErrBelowMinNotional, got %v", err)
	}
}

func TestQuantize_BelowMinQty(t *testing.T) {
	source := &fakeSource{instruments: map[string]*exchange.Instrument{
		"BTCUSDT": btcInstrument(),
	}}
	m := newTestManager(t, source)

	_, err := m.Quantize(context.Background(), "BTCUSDT", 0.00000009, 50000)
	if !errors.Is(err, ErrBelowMinNotional) {
		t.Fatalf("expected ErrBelowMinNotional, got %v", err)
	}
}

func TestQuantize_WorkingDecimalsApplied(t *testing.T) {
	source := &fakeSource{instruments: map[string]*exchange.Instrument{
		"BTCUSDT": btcInstrument(),
	}}
	m := newTestManager(t, source)
	ctx := context.Background()

	// Прогреваем кэш и запоминаем рабочую точность в 3 знака
	if _, err := m.Spec(ctx, "BTCUSDT"); err != nil {
		t.Fatal(err)
	}
	m.CacheWorkingDecimals("BTCUSDT", 3)

	qty, err := m.Quantize(ctx, "BTCUSDT", 0.123456789, 50000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qty != 0.123 {
		t.Errorf("expected 0.123 with 3 working decimals, got %.10f", qty)
	}
}

// ============================================================
// Тесты кэша
// ============================================================

func TestCache_Roundtrip(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "precision_cache.json")
	source := &fakeSource{instruments: map[string]*exchange.Instrument{
		"BTCUSDT": btcInstrument(),
	}}

	m1 := NewManager(source, cachePath, nil)
	if _, err := m1.Spec(context.Background(), "BTCUSDT"); err != nil {
		t.Fatal(err)
	}
	m1.CacheWorkingDecimals("BTCUSDT", 4)

	// Второй менеджер без источника читает всё с диска
	m2 := NewManager(nil, cachePath, nil)
	m2.LoadCache()

	spec, err := m2.Spec(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("expected spec from cache, got %v", err)
	}
	if spec.WorkingDecimals != 4 {
		t.Errorf("working decimals lost in cache: got %d", spec.WorkingDecimals)
	}
}

func TestCache_MissingFileNotFatal(t *testing.T) {
	m := NewManager(nil, filepath.Join(t.TempDir(), "missing.json"), nil)
	m.LoadCache() // не должно паниковать
}

func TestCache_CorruptFileNotFatal(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(cachePath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(nil, cachePath, nil)
	m.LoadCache() // не должно паниковать

	if _, err := m.Spec(context.Background(), "BTCUSDT"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("expected empty cache after corrupt file, got %v", err)
	}
}

// ============================================================
// Тесты конкурентного доступа
// ============================================================

func TestSpec_ReturnsIndependentCopy(t *testing.T) {
	m := newTestManager(t, nil)
	m.Seed([]*exchange.Instrument{btcInstrument()})

	spec, err := m.Spec(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}

	// Мутация возвращённого значения не должна просачиваться в кэш
	spec.WorkingDecimals = 1
	if got := m.WorkingDecimals("BTCUSDT"); got != -1 {
		t.Errorf("manager state changed through returned spec: got %d", got)
	}

	// И наоборот: обновление кэша не трогает уже выданную копию
	m.CacheWorkingDecimals("BTCUSDT", 3)
	if spec.WorkingDecimals != 1 {
		t.Errorf("returned spec mutated by cache update: got %d", spec.WorkingDecimals)
	}
}

// Одновременные квантования и подбор точности по одному символу:
// типичная картина при нескольких параллельных исполнениях
func TestConcurrentQuantizeAndLearning(t *testing.T) {
	m := newTestManager(t, nil)
	m.Seed([]*exchange.Instrument{btcInstrument()})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if _, err := m.Quantize(ctx, "BTCUSDT", 0.123456789, 50000); err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if _, err := m.StartDecimals(ctx, "BTCUSDT"); err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for d := 6; d >= 2; d-- {
			m.CacheWorkingDecimals("BTCUSDT", d)
		}
	}()

	wg.Wait()

	if got := m.WorkingDecimals("BTCUSDT"); got != 2 {
		t.Errorf("working decimals = %d, want 2", got)
	}
}

// ============================================================
// Тесты Seed
// ============================================================

func TestSeed_PreservesWorkingDecimals(t *testing.T) {
	m := newTestManager(t, nil)

	m.Seed([]*exchange.Instrument{btcInstrument()})
	m.CacheWorkingDecimals("BTCUSDT", 5)

	// Повторный Seed (обновление инструментов) не должен терять точность
	m.Seed([]*exchange.Instrument{btcInstrument()})

	if got := m.WorkingDecimals("BTCUSDT"); got != 5 {
		t.Errorf("working decimals lost after reseed: got %d", got)
	}
}

func TestStartDecimals(t *testing.T) {
	m := newTestManager(t, nil)
	m.Seed([]*exchange.Instrument{btcInstrument()})

	// Без подбора - точность шага инструмента (0.000001 = 6 знаков)
	decimals, err := m.StartDecimals(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if decimals != 6 {
		t.Errorf("expected 6 decimals from qty step, got %d", decimals)
	}

	m.CacheWorkingDecimals("BTCUSDT", 2)
	decimals, err = m.StartDecimals(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if decimals != 2 {
		t.Errorf("expected cached working decimals 2, got %d", decimals)
	}
}
