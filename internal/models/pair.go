package models

import "time"

// MarketPair представляет торговую пару спот-рынка с актуальными ценами
type MarketPair struct {
	Symbol        string  `json:"symbol"` // BTCUSDT
	Base          string  `json:"base"`   // BTC
	Quote         string  `json:"quote"`  // USDT
	BidPrice      float64 `json:"bid_price"`
	AskPrice      float64 `json:"ask_price"`
	BidSize       float64 `json:"bid_size"`
	AskSize       float64 `json:"ask_size"`
	Volume24h     float64 `json:"volume_24h"`     // объём в базовой валюте
	Volume24hUSD  float64 `json:"volume_24h_usd"` // оборот в USD (turnover)
	SpreadPercent float64 `json:"spread_percent"`
	IsActive      bool    `json:"is_active"`
	IsLiquid      bool    `json:"is_liquid"`
}

// Snapshot - неизменяемый срез рынка на момент времени
//
// Заменяется целиком при каждом обновлении (atomic swap), никогда не
// мутируется по частям. Читатели всегда видят согласованный набор цен.
type Snapshot struct {
	Pairs   []MarketPair
	TakenAt time.Time
}

// PairBySymbol возвращает пару по символу (линейный поиск по срезу снапшота)
func (s *Snapshot) PairBySymbol(symbol string) *MarketPair {
	for i := range s.Pairs {
		if s.Pairs[i].Symbol == symbol {
			return &s.Pairs[i]
		}
	}
	return nil
}

// BalanceSnapshot - неизменяемый срез балансов аккаунта
type BalanceSnapshot struct {
	Amounts map[string]float64 // валюта -> доступный объём
	TakenAt time.Time
}

// Get возвращает доступный баланс валюты (0 если валюты нет)
func (b *BalanceSnapshot) Get(currency string) float64 {
	if b == nil || b.Amounts == nil {
		return 0
	}
	return b.Amounts[currency]
}
