// Package market хранит и обновляет снапшоты рынка и балансов.
package market

import (
	"sync/atomic"
	"time"

	"triarb/internal/exchange"
	"triarb/internal/models"
)

// Store публикует неизменяемые снапшоты через atomic pointer
//
// Читатели (сканер, исполнитель) берут указатель и работают с
// согласованным срезом цен; писатель (Refresher, WS поток) собирает
// новый снапшот целиком и заменяет указатель одной операцией.
// Блокировок нет ни у читателей, ни у писателя.
type Store struct {
	pairs    atomic.Pointer[models.Snapshot]
	balances atomic.Pointer[models.BalanceSnapshot]

	// Предикат ликвидности для WS-обновлений: тик меняет спред и оборот,
	// флаг IsLiquid обязан пересчитываться вместе с ними
	isLiquid func(*models.MarketPair) bool
}

// NewStore создаёт хранилище с пустыми снапшотами
func NewStore() *Store {
	s := &Store{}
	s.pairs.Store(&models.Snapshot{TakenAt: time.Time{}})
	s.balances.Store(&models.BalanceSnapshot{Amounts: map[string]float64{}})
	return s
}

// SetLiquidity задаёт предикат ликвидности для ApplyTicker
// Вызывается один раз при сборке, до запуска потоков обновления
func (s *Store) SetLiquidity(fn func(*models.MarketPair) bool) {
	s.isLiquid = fn
}

// Pairs возвращает текущий снапшот рынка
func (s *Store) Pairs() *models.Snapshot {
	return s.pairs.Load()
}

// Balances возвращает текущий снапшот балансов
func (s *Store) Balances() *models.BalanceSnapshot {
	return s.balances.Load()
}

// PublishPairs атомарно заменяет снапшот рынка
func (s *Store) PublishPairs(snapshot *models.Snapshot) {
	s.pairs.Store(snapshot)
}

// PublishBalances атомарно заменяет снапшот балансов
func (s *Store) PublishBalances(snapshot *models.BalanceSnapshot) {
	s.balances.Store(snapshot)
}

// ApplyTicker вливает одно WS-обновление тикера
//
// Copy-on-write: текущий снапшот не мутируется, собирается новый срез
// с обновлённой парой. Конкурентные читатели продолжают видеть старый.
func (s *Store) ApplyTicker(t *exchange.Ticker) {
	current := s.pairs.Load()
	if current == nil || len(current.Pairs) == 0 {
		return
	}

	idx := -1
	for i := range current.Pairs {
		if current.Pairs[i].Symbol == t.Symbol {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Пары нет в снапшоте (отфильтрована или неизвестна) - игнорируем
		return
	}

	if t.BidPrice <= 0 || t.AskPrice <= 0 || t.AskPrice < t.BidPrice {
		return
	}

	pairs := make([]models.MarketPair, len(current.Pairs))
	copy(pairs, current.Pairs)

	p := &pairs[idx]
	p.BidPrice = t.BidPrice
	p.AskPrice = t.AskPrice
	if t.BidSize > 0 {
		p.BidSize = t.BidSize
	}
	if t.AskSize > 0 {
		p.AskSize = t.AskSize
	}
	if t.Volume24h > 0 {
		p.Volume24h = t.Volume24h
	}
	if t.Turnover24h > 0 {
		p.Volume24hUSD = t.Turnover24h
	}
	p.SpreadPercent = (t.AskPrice - t.BidPrice) / t.BidPrice * 100
	if s.isLiquid != nil {
		p.IsLiquid = s.isLiquid(p)
	}

	s.pairs.Store(&models.Snapshot{
		Pairs:   pairs,
		TakenAt: time.Now(),
	})
}
