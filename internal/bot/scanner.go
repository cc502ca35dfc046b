package bot

import (
	"sort"

	"triarb/internal/exchange"
	"triarb/internal/models"
)

// Scanner перебирает треугольники ценового графа и находит прибыльные циклы
//
// Детерминирован: один и тот же граф с одними параметрами даёт один и тот
// же отсортированный список возможностей.
type Scanner struct {
	feeRate      float64
	minProfit    float64
	orderSize    float64 // размер сделки в якорной валюте
	maxTriangles int     // лимит треугольников на якорь
	slippageFn   SlippageFn
}

// NewScanner создаёт сканер
func NewScanner(feeRate, minProfit, orderSize float64, maxTriangles int, slippageFn SlippageFn) *Scanner {
	if slippageFn == nil {
		slippageFn = LinearSlippage
	}
	return &Scanner{
		feeRate:      feeRate,
		minProfit:    minProfit,
		orderSize:    orderSize,
		maxTriangles: maxTriangles,
		slippageFn:   slippageFn,
	}
}

// ScanResult - итог одного скана
type ScanResult struct {
	Opportunities     []models.Opportunity
	TrianglesScanned  int
	BestNetProfit     float64 // лучший нетто-результат, даже если ниже порога
	BestedByThreshold int     // треугольники с положительным гроссом, не прошедшие порог
}

// Scan перебирает циклы anchor -> X -> Y -> anchor для каждого якоря
//
// Возможности отсортированы по убыванию чистой прибыли; при равенстве -
// по убыванию ликвидности, затем лексикографически по тройке валют.
func (s *Scanner) Scan(graph *PriceGraph, anchors []string) *ScanResult {
	result := &ScanResult{BestNetProfit: -1}

	for _, anchor := range anchors {
		scanned := 0

		for _, e1 := range graph.EdgesFrom(anchor) {
			if e1.To == anchor {
				continue
			}
			p1 := graph.Pair(e1)
			if p1 == nil || !p1.IsLiquid {
				continue
			}

			for _, e2 := range graph.EdgesFrom(e1.To) {
				if e2.To == anchor || e2.To == e1.To || e2.Symbol == e1.Symbol {
					continue
				}
				p2 := graph.Pair(e2)
				if p2 == nil || !p2.IsLiquid {
					continue
				}

				for _, e3 := range graph.EdgesFrom(e2.To) {
					if e3.To != anchor || e3.Symbol == e1.Symbol || e3.Symbol == e2.Symbol {
						continue
					}
					p3 := graph.Pair(e3)
					if p3 == nil || !p3.IsLiquid {
						continue
					}

					if scanned >= s.maxTriangles {
						goto nextAnchor
					}
					scanned++

					opp := s.evaluate(graph, anchor, e1, e2, e3)

					if opp.NetProfit > result.BestNetProfit {
						result.BestNetProfit = opp.NetProfit
					}

					if opp.NetProfit >= s.minProfit {
						result.Opportunities = append(result.Opportunities, opp)
					} else if opp.GrossFactor > 1 {
						result.BestedByThreshold++
					}
				}
			}
		}

	nextAnchor:
		result.TrianglesScanned += scanned
	}

	sortOpportunities(result.Opportunities)
	return result
}

// evaluate считает экономику одного треугольника
func (s *Scanner) evaluate(graph *PriceGraph, anchor string, e1, e2, e3 Edge) models.Opportunity {
	gross := e1.Rate * e2.Rate * e3.Rate

	feeFactor := 1 - s.feeRate
	net := gross * feeFactor * feeFactor * feeFactor

	slippage := s.legSlippage(graph, e1) + s.legSlippage(graph, e2) + s.legSlippage(graph, e3)

	netProfit := net - 1 - slippage

	liquidity := minTurnover(graph, e1, e2, e3)

	snapAt := graph.Snapshot.TakenAt

	return models.Opportunity{
		Path:           [4]string{anchor, e1.To, e2.To, anchor},
		Symbols:        [3]string{e1.Symbol, e2.Symbol, e3.Symbol},
		Sides:          [3]string{e1.Side, e2.Side, e3.Side},
		Rates:          [3]float64{e1.Rate, e2.Rate, e3.Rate},
		FeeRate:        s.feeRate,
		GrossFactor:    gross,
		NetProfit:      netProfit,
		Slippage:       slippage,
		LiquidityScore: liquidity,
		SnapshotAt:     snapAt,
	}
}

// legSlippage оценивает проскальзывание одной ноги
// Размер ноги приближаем размером сделки в якорной валюте
func (s *Scanner) legSlippage(graph *PriceGraph, e Edge) float64 {
	p := graph.Pair(e)
	if p == nil {
		return 0
	}

	var depthUSD float64
	if e.Side == exchange.SideBuy {
		depthUSD = p.AskSize * p.AskPrice
	} else {
		depthUSD = p.BidSize * p.BidPrice
	}

	return s.slippageFn(s.orderSize, depthUSD)
}

// minTurnover возвращает минимальный 24h оборот среди трёх ног
func minTurnover(graph *PriceGraph, edges ...Edge) float64 {
	min := -1.0
	for _, e := range edges {
		p := graph.Pair(e)
		if p == nil {
			continue
		}
		if min < 0 || p.Volume24hUSD < min {
			min = p.Volume24hUSD
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// sortOpportunities упорядочивает возможности детерминированно
func sortOpportunities(opps []models.Opportunity) {
	sort.Slice(opps, func(i, j int) bool {
		if opps[i].NetProfit != opps[j].NetProfit {
			return opps[i].NetProfit > opps[j].NetProfit
		}
		if opps[i].LiquidityScore != opps[j].LiquidityScore {
			return opps[i].LiquidityScore > opps[j].LiquidityScore
		}
		return opps[i].CurrencyTriple() < opps[j].CurrencyTriple()
	})
}
