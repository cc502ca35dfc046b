package exchange

import (
	"context"
	"time"
)

// Exchange определяет интерфейс спот-биржи, достаточный для треугольного арбитража
type Exchange interface {
	// GetName возвращает имя биржи
	GetName() string

	// GetBalances получает доступные балансы спот-аккаунта (валюта -> объём)
	GetBalances(ctx context.Context) (map[string]float64, error)

	// GetInstruments получает описания всех активных спот-пар
	// (шаги количества/цены, минимальный ордер, минимальный notional)
	GetInstruments(ctx context.Context) ([]*Instrument, error)

	// GetInstrument получает описание одной пары
	GetInstrument(ctx context.Context, symbol string) (*Instrument, error)

	// GetTickers получает тикеры всех спот-пар одним запросом
	GetTickers(ctx context.Context) ([]*Ticker, error)

	// PlaceMarketOrder размещает рыночный IOC ордер
	// qty: для buy - сумма в котируемой валюте, для sell - объём в базовой
	PlaceMarketOrder(ctx context.Context, req *OrderRequest) (*Order, error)

	// GetOrder получает текущее состояние ордера по client link ID
	GetOrder(ctx context.Context, symbol, linkID string) (*Order, error)

	// CancelOrder отменяет ордер по client link ID
	CancelOrder(ctx context.Context, symbol, linkID string) error

	// SubscribeTickers подписывается на поток тикеров через WebSocket
	SubscribeTickers(symbols []string, callback func(*Ticker)) error

	// Close закрывает соединения с биржей
	Close() error
}

// Ticker содержит рыночные данные одной пары
type Ticker struct {
	Symbol       string    `json:"symbol"`
	BidPrice     float64   `json:"bid_price"` // лучшая цена покупки
	AskPrice     float64   `json:"ask_price"` // лучшая цена продажи
	BidSize      float64   `json:"bid_size"`  // объём на лучшем bid, в базовой валюте
	AskSize      float64   `json:"ask_size"`  // объём на лучшем ask, в базовой валюте
	LastPrice    float64   `json:"last_price"`
	Volume24h    float64   `json:"volume_24h"`     // объём за 24ч в базовой валюте
	Turnover24h  float64   `json:"turnover_24h"`   // оборот за 24ч в котируемой валюте
	Timestamp    time.Time `json:"timestamp"`
}

// Instrument описывает торговые параметры спот-пары
type Instrument struct {
	Symbol      string  `json:"symbol"`        // BTCUSDT
	BaseCoin    string  `json:"base_coin"`     // BTC
	QuoteCoin   string  `json:"quote_coin"`    // USDT
	QtyStep     float64 `json:"qty_step"`      // шаг количества (lot size)
	PriceStep   float64 `json:"price_step"`    // шаг цены (tick size)
	MinOrderQty float64 `json:"min_order_qty"` // минимальный объём ордера в базовой валюте
	MinNotional float64 `json:"min_notional"`  // минимальная сумма ордера в котируемой валюте
	Active      bool    `json:"active"`        // торгуется ли пара
}

// OrderRequest - параметры размещаемого ордера
type OrderRequest struct {
	Symbol string
	Side   string  // buy, sell
	Qty    float64 // buy: в котируемой валюте, sell: в базовой
	LinkID string  // client order ID для идемпотентности и последующих запросов
}

// Order представляет ордер на бирже
type Order struct {
	ID           string    `json:"id"`      // exchange order ID
	LinkID       string    `json:"link_id"` // client order ID
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"` // buy, sell
	Type         string    `json:"type"` // market
	Quantity     float64   `json:"quantity"`
	FilledQty    float64   `json:"filled_qty"`   // в базовой валюте
	FilledValue  float64   `json:"filled_value"` // в котируемой валюте
	AvgFillPrice float64   `json:"avg_fill_price"`
	Fee          float64   `json:"fee"` // в валюте получения
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsFinal возвращает true для конечных статусов ордера
func (o *Order) IsFinal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange  string
	Code      string
	Message   string
	Transient bool // сетевые сбои и rate limit можно повторить
	Original  error
}

func (e *ExchangeError) Error() string {
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// Retryable сообщает retry-слою, можно ли повторить запрос
func (e *ExchangeError) Retryable() bool {
	return e.Transient
}

// Side constants for orders
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order status constants
const (
	OrderStatusNew       = "new"
	OrderStatusPartial   = "partial"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

// Коды ошибок точности Bybit: биржа отклоняет ордер, когда количество
// содержит больше знаков, чем допускает инструмент
const (
	CodeQtyInvalid       = "170137"
	CodeQtyTooManyDigits = "170148"
	CodeOrderValueLow    = "170131"
)

// IsPrecisionError определяет отказ из-за точности количества
// После такого отказа имеет смысл повторить с меньшим числом знаков
func IsPrecisionError(code string) bool {
	return code == CodeQtyInvalid || code == CodeQtyTooManyDigits
}
