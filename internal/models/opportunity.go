package models

import (
	"strings"
	"time"
)

// Opportunity представляет найденную треугольную арбитражную возможность
//
// Неизменяема после создания. Устаревает, как только снапшот, по которому
// она рассчитана, заменён более свежим.
type Opportunity struct {
	Path           [4]string  `json:"path"`    // [USDT, BTC, ETH, USDT]
	Symbols        [3]string  `json:"symbols"` // символы пар каждой ноги
	Sides          [3]string  `json:"sides"`   // buy/sell каждой ноги
	Rates          [3]float64 `json:"rates"`   // эффективный курс каждой ноги
	FeeRate        float64    `json:"fee_rate"`
	GrossFactor    float64    `json:"gross_factor"`    // произведение курсов без комиссий
	NetProfit      float64    `json:"net_profit"`      // чистая доля прибыли после комиссий и slippage
	Slippage       float64    `json:"slippage"`        // оценка slippage, уже вычтенная из NetProfit
	LiquidityScore float64    `json:"liquidity_score"` // минимальный 24h оборот среди ног, USD
	SnapshotAt     time.Time  `json:"snapshot_at"`
}

// Anchor возвращает стартовую (якорную) валюту треугольника
func (o *Opportunity) Anchor() string {
	return o.Path[0]
}

// DisplayPath возвращает путь в виде "USDT → BTC → ETH → USDT"
func (o *Opportunity) DisplayPath() string {
	return strings.Join(o.Path[:], " → ")
}

// DisplaySymbols возвращает символы ног в виде "BTCUSDT,ETHBTC,ETHUSDT"
func (o *Opportunity) DisplaySymbols() string {
	return strings.Join(o.Symbols[:], ",")
}

// CurrencyTriple возвращает тройку валют для детерминированного tie-break
func (o *Opportunity) CurrencyTriple() string {
	return o.Path[0] + "/" + o.Path[1] + "/" + o.Path[2]
}
