package bot

import (
	"sort"

	"triarb/internal/exchange"
	"triarb/internal/models"
)

// Edge - направленное ребро ценового графа: конвертация одной валюты в другую
// через одну пару рыночным ордером
type Edge struct {
	From    string  // исходная валюта
	To      string  // валюта назначения
	Symbol  string  // символ пары
	Side    string  // buy/sell с точки зрения пары
	Rate    float64 // эффективный курс конвертации без комиссии
	PairIdx int     // индекс пары в снапшоте для проверок ликвидности
}

// PriceGraph - ценовой граф, построенный из одного снапшота
//
// Чистая функция снапшота: одинаковый снапшот даёт байт-в-байт одинаковый
// граф. Списки смежности отсортированы по валюте назначения, затем символу.
type PriceGraph struct {
	Edges    map[string][]Edge
	Snapshot *models.Snapshot
}

// BuildGraph строит ценовой граф из снапшота рынка
//
// Каждая валидная пара даёт два ребра:
// base -> quote: продажа базовой по bid, курс = bid
// quote -> base: покупка базовой по ask, курс = 1/ask
func BuildGraph(snapshot *models.Snapshot) *PriceGraph {
	g := &PriceGraph{
		Edges:    make(map[string][]Edge),
		Snapshot: snapshot,
	}
	if snapshot == nil {
		return g
	}

	for i := range snapshot.Pairs {
		p := &snapshot.Pairs[i]
		if !p.IsActive || p.BidPrice <= 0 || p.AskPrice <= 0 || p.AskPrice < p.BidPrice {
			continue
		}

		g.Edges[p.Base] = append(g.Edges[p.Base], Edge{
			From:    p.Base,
			To:      p.Quote,
			Symbol:  p.Symbol,
			Side:    exchange.SideSell,
			Rate:    p.BidPrice,
			PairIdx: i,
		})
		g.Edges[p.Quote] = append(g.Edges[p.Quote], Edge{
			From:    p.Quote,
			To:      p.Base,
			Symbol:  p.Symbol,
			Side:    exchange.SideBuy,
			Rate:    1 / p.AskPrice,
			PairIdx: i,
		})
	}

	// Детерминированный порядок обхода
	for from := range g.Edges {
		edges := g.Edges[from]
		sort.Slice(edges, func(a, b int) bool {
			if edges[a].To != edges[b].To {
				return edges[a].To < edges[b].To
			}
			return edges[a].Symbol < edges[b].Symbol
		})
	}

	return g
}

// EdgesFrom возвращает рёбра из валюты
func (g *PriceGraph) EdgesFrom(currency string) []Edge {
	return g.Edges[currency]
}

// Pair возвращает пару ребра
func (g *PriceGraph) Pair(e Edge) *models.MarketPair {
	if g.Snapshot == nil || e.PairIdx < 0 || e.PairIdx >= len(g.Snapshot.Pairs) {
		return nil
	}
	return &g.Snapshot.Pairs[e.PairIdx]
}
