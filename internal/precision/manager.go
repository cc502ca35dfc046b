// Package precision управляет торговыми параметрами символов:
// шаги количества, минимальные объёмы и подобранная рабочая точность.
package precision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"triarb/internal/exchange"
	"triarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ошибки квантования
var (
	// ErrUnknownSymbol - символ не встречался и биржа его не знает
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrBelowMinNotional - после усечения ордер меньше минимально допустимого
	ErrBelowMinNotional = errors.New("order below minimum notional")
)

// Spec - торговые параметры одного символа
type Spec struct {
	Symbol      string  `json:"symbol"`
	BaseCoin    string  `json:"base_coin"`
	QuoteCoin   string  `json:"quote_coin"`
	QtyStep     float64 `json:"qty_step"`
	PriceStep   float64 `json:"price_step"`
	MinOrderQty float64 `json:"min_order_qty"`
	MinNotional float64 `json:"min_notional"`

	// WorkingDecimals - подобранное число знаков, принятое биржей
	// после отказа по точности. -1 = не подбиралось
	WorkingDecimals int `json:"working_decimals"`
}

// InstrumentSource - способность получить описание инструмента с биржи
type InstrumentSource interface {
	GetInstrument(ctx context.Context, symbol string) (*exchange.Instrument, error)
}

// Manager хранит спецификации символов с ленивой подгрузкой и дисковым кэшем
//
// Кэш переживает перезапуск: подобранная рабочая точность не теряется,
// и первый цикл после старта не ходит на биржу за каждым символом.
type Manager struct {
	mu    sync.RWMutex
	specs map[string]*Spec

	source    InstrumentSource
	cachePath string
	logger    *zap.Logger
}

// NewManager создаёт менеджер точности
// source может быть nil: тогда неизвестные символы сразу дают ErrUnknownSymbol
func NewManager(source InstrumentSource, cachePath string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		specs:     make(map[string]*Spec),
		source:    source,
		cachePath: cachePath,
		logger:    logger,
	}
}

// LoadCache загружает кэш с диска
// Отсутствующий или повреждённый файл не ошибка: начинаем с пустого кэша
func (m *Manager) LoadCache() {
	data, err := os.ReadFile(m.cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("failed to read precision cache", zap.Error(err))
		}
		return
	}

	var specs map[string]*Spec
	if err := json.Unmarshal(data, &specs); err != nil {
		m.logger.Warn("precision cache corrupted, starting fresh", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.specs = specs
	m.mu.Unlock()

	m.logger.Info("precision cache loaded",
		zap.String("path", m.cachePath),
		zap.Int("symbols", len(specs)))
}

// SaveCache сохраняет кэш на диск
func (m *Manager) SaveCache() error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m.specs, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal precision cache: %w", err)
	}

	if err := os.WriteFile(m.cachePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write precision cache: %w", err)
	}
	return nil
}

// Seed массово загружает спецификации из описаний инструментов
// Вызывается при старте после GetInstruments, чтобы не дёргать биржу по одному
func (m *Manager) Seed(instruments []*exchange.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, inst := range instruments {
		existing, ok := m.specs[inst.Symbol]
		spec := specFromInstrument(inst)
		if ok {
			// Рабочая точность подобрана опытным путём, её не перетираем
			spec.WorkingDecimals = existing.WorkingDecimals
		}
		m.specs[inst.Symbol] = spec
	}
}

func specFromInstrument(inst *exchange.Instrument) *Spec {
	return &Spec{
		Symbol:          inst.Symbol,
		BaseCoin:        inst.BaseCoin,
		QuoteCoin:       inst.QuoteCoin,
		QtyStep:         inst.QtyStep,
		PriceStep:       inst.PriceStep,
		MinOrderQty:     inst.MinOrderQty,
		MinNotional:     inst.MinNotional,
		WorkingDecimals: -1,
	}
}

// Spec возвращает параметры символа, лениво запрашивая биржу при первом обращении
//
// Возвращается копия: CacheWorkingDecimals конкурентно обновляет записи
// в кэше, и наружу не должен утекать указатель на защищённые данные.
func (m *Manager) Spec(ctx context.Context, symbol string) (*Spec, error) {
	m.mu.RLock()
	spec, ok := m.specs[symbol]
	if ok {
		copied := *spec
		m.mu.RUnlock()
		return &copied, nil
	}
	m.mu.RUnlock()

	if m.source == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	inst, err := m.source.GetInstrument(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownSymbol, symbol, err)
	}

	spec = specFromInstrument(inst)

	m.mu.Lock()
	m.specs[symbol] = spec
	m.mu.Unlock()

	// Новый символ сразу попадает на диск
	if err := m.SaveCache(); err != nil {
		m.logger.Warn("failed to persist precision cache", zap.Error(err))
	}

	copied := *spec
	return &copied, nil
}

// Quantize усекает объём вниз до шага символа и проверяет минимумы
//
// price - текущая цена для проверки минимального notional.
// Идемпотентна: повторное квантование уже усечённого объёма его не меняет.
func (m *Manager) Quantize(ctx context.Context, symbol string, rawQty, price float64) (float64, error) {
	spec, err := m.Spec(ctx, symbol)
	if err != nil {
		return 0, err
	}

	qty := utils.TruncateToStep(rawQty, spec.QtyStep)

	// Подобранная рабочая точность строже шага инструмента
	if spec.WorkingDecimals >= 0 {
		qty = utils.TruncateToDecimals(qty, spec.WorkingDecimals)
	}

	if qty <= 0 {
		return 0, fmt.Errorf("%w: %s qty %.10f truncated to zero", ErrBelowMinNotional, symbol, rawQty)
	}

	if spec.MinOrderQty > 0 && qty < spec.MinOrderQty {
		return 0, fmt.Errorf("%w: %s qty %.10f below min qty %.10f",
			ErrBelowMinNotional, symbol, qty, spec.MinOrderQty)
	}

	if spec.MinNotional > 0 && price > 0 && qty*price < spec.MinNotional {
		return 0, fmt.Errorf("%w: %s notional %.4f below min %.4f",
			ErrBelowMinNotional, symbol, qty*price, spec.MinNotional)
	}

	return qty, nil
}

// WorkingDecimals возвращает подобранную точность символа (-1 если не подбиралась)
func (m *Manager) WorkingDecimals(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if spec, ok := m.specs[symbol]; ok {
		return spec.WorkingDecimals
	}
	return -1
}

// CacheWorkingDecimals запоминает точность, принятую биржей
// Вызывается после успешного ордера, которому предшествовал отказ по точности
func (m *Manager) CacheWorkingDecimals(symbol string, decimals int) {
	m.mu.Lock()
	spec, ok := m.specs[symbol]
	if ok {
		spec.WorkingDecimals = decimals
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	if err := m.SaveCache(); err != nil {
		m.logger.Warn("failed to persist precision cache", zap.Error(err))
	}

	m.logger.Info("cached working decimals",
		zap.String("symbol", symbol),
		zap.Int("decimals", decimals))
}

// StartDecimals возвращает число знаков для первой попытки ордера:
// подобранная точность, иначе точность шага инструмента
func (m *Manager) StartDecimals(ctx context.Context, symbol string) (int, error) {
	spec, err := m.Spec(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if spec.WorkingDecimals >= 0 {
		return spec.WorkingDecimals, nil
	}
	return utils.StepDecimals(spec.QtyStep), nil
}
