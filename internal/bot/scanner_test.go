package bot

import (
	"math"
	"testing"

	"triarb/internal/exchange"
	"triarb/internal/models"
)

func zeroSlippage(_, _ float64) float64 { return 0 }

func newTestScanner(minProfit float64) *Scanner {
	return NewScanner(0.001, minProfit, 100, 2000, zeroSlippage)
}

// Снапшот testSnapshot даёт один прибыльный цикл:
// USDT -buy-> BTC (ask 50000) -buy-> ETH (ask 0.05) -sell-> USDT (bid 2600)
// gross = (1/50000) * (1/0.05) * 2600 = 1.04
func TestScanFindsProfitableTriangle(t *testing.T) {
	graph := BuildGraph(testSnapshot())
	scanner := newTestScanner(0.0005)

	result := scanner.Scan(graph, []string{"USDT"})

	if len(result.Opportunities) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(result.Opportunities))
	}
	opp := result.Opportunities[0]

	wantPath := [4]string{"USDT", "BTC", "ETH", "USDT"}
	if opp.Path != wantPath {
		t.Errorf("path = %v, want %v", opp.Path, wantPath)
	}
	wantSides := [3]string{exchange.SideBuy, exchange.SideBuy, exchange.SideSell}
	if opp.Sides != wantSides {
		t.Errorf("sides = %v, want %v", opp.Sides, wantSides)
	}

	wantGross := (1.0 / 50000) * (1.0 / 0.05) * 2600
	if math.Abs(opp.GrossFactor-wantGross) > 1e-9 {
		t.Errorf("gross = %v, want %v", opp.GrossFactor, wantGross)
	}

	feeFactor := 1 - 0.001
	wantNet := wantGross*feeFactor*feeFactor*feeFactor - 1
	if math.Abs(opp.NetProfit-wantNet) > 1e-9 {
		t.Errorf("net profit = %v, want %v", opp.NetProfit, wantNet)
	}

	if result.BestNetProfit < wantNet-1e-9 {
		t.Errorf("best net profit = %v, want at least %v", result.BestNetProfit, wantNet)
	}
	if result.TrianglesScanned == 0 {
		t.Error("expected triangles to be counted")
	}
}

// Положительный гросс, не проходящий порог: возможность не публикуется,
// но учитывается в статистике скана
func TestScanBelowThreshold(t *testing.T) {
	snap := testSnapshot()
	// gross = (1/50000) * (1/0.05) * 2501 = 1.0004, net отрицательный
	snap.PairBySymbol("ETHUSDT").BidPrice = 2501

	graph := BuildGraph(snap)
	scanner := newTestScanner(0.0005)

	result := scanner.Scan(graph, []string{"USDT"})

	if len(result.Opportunities) != 0 {
		t.Fatalf("expected no opportunities, got %d", len(result.Opportunities))
	}
	if result.BestedByThreshold == 0 {
		t.Error("expected gross-positive triangle to be counted as bested by threshold")
	}
	if result.BestNetProfit >= 0.0005 {
		t.Errorf("best net profit %v should be below threshold", result.BestNetProfit)
	}
}

func TestScanSkipsIlliquidLeg(t *testing.T) {
	snap := testSnapshot()
	snap.PairBySymbol("ETHBTC").IsLiquid = false

	graph := BuildGraph(snap)
	result := newTestScanner(0.0005).Scan(graph, []string{"USDT"})

	if len(result.Opportunities) != 0 {
		t.Fatalf("expected no opportunities through illiquid leg, got %d", len(result.Opportunities))
	}
}

func TestScanDeterministic(t *testing.T) {
	graph := BuildGraph(testSnapshot())
	scanner := newTestScanner(-1) // пропускаем всё, важен только порядок

	r1 := scanner.Scan(graph, []string{"USDT", "BTC", "ETH"})
	r2 := scanner.Scan(graph, []string{"USDT", "BTC", "ETH"})

	if len(r1.Opportunities) != len(r2.Opportunities) {
		t.Fatalf("opportunity count differs: %d vs %d", len(r1.Opportunities), len(r2.Opportunities))
	}
	for i := range r1.Opportunities {
		if r1.Opportunities[i].CurrencyTriple() != r2.Opportunities[i].CurrencyTriple() ||
			r1.Opportunities[i].NetProfit != r2.Opportunities[i].NetProfit {
			t.Errorf("opportunity %d differs between scans", i)
		}
	}
}

func TestScanMaxTrianglesCap(t *testing.T) {
	graph := BuildGraph(testSnapshot())
	scanner := NewScanner(0.001, 0.0005, 100, 0, zeroSlippage)

	result := scanner.Scan(graph, []string{"USDT"})

	if result.TrianglesScanned != 0 {
		t.Errorf("expected 0 triangles with zero cap, got %d", result.TrianglesScanned)
	}
	if len(result.Opportunities) != 0 {
		t.Errorf("expected no opportunities with zero cap, got %d", len(result.Opportunities))
	}
}

func TestScanSlippageReducesProfit(t *testing.T) {
	graph := BuildGraph(testSnapshot())

	flat := func(_, _ float64) float64 { return 0.005 }
	withSlippage := NewScanner(0.001, -1, 100, 2000, flat).Scan(graph, []string{"USDT"})
	without := newTestScanner(-1).Scan(graph, []string{"USDT"})

	if len(withSlippage.Opportunities) == 0 || len(without.Opportunities) == 0 {
		t.Fatal("expected opportunities in both scans")
	}

	diff := without.Opportunities[0].NetProfit - withSlippage.Opportunities[0].NetProfit
	if math.Abs(diff-0.015) > 1e-9 {
		t.Errorf("slippage delta = %v, want 0.015 (3 legs x 0.005)", diff)
	}
}

func TestSortOpportunitiesRanking(t *testing.T) {
	opps := []models.Opportunity{
		{Path: [4]string{"USDT", "XRP", "BTC", "USDT"}, NetProfit: 0.001, LiquidityScore: 100},
		{Path: [4]string{"USDT", "BTC", "ETH", "USDT"}, NetProfit: 0.003, LiquidityScore: 100},
		{Path: [4]string{"USDT", "ETH", "BTC", "USDT"}, NetProfit: 0.001, LiquidityScore: 500},
		{Path: [4]string{"USDT", "ADA", "BTC", "USDT"}, NetProfit: 0.001, LiquidityScore: 100},
	}

	sortOpportunities(opps)

	wantOrder := []string{
		"USDT/BTC/ETH", // высшая прибыль
		"USDT/ETH/BTC", // равная прибыль, выше ликвидность
		"USDT/ADA/BTC", // лексикографический tie-break
		"USDT/XRP/BTC",
	}
	for i, want := range wantOrder {
		if got := opps[i].CurrencyTriple(); got != want {
			t.Errorf("position %d: got %s, want %s", i, got, want)
		}
	}
}

func TestLinearSlippage(t *testing.T) {
	tests := []struct {
		name  string
		size  float64
		depth float64
		want  float64
	}{
		{"zero size", 0, 1000, 0},
		{"negative size", -10, 1000, 0},
		{"unknown depth worst case", 100, 0, slippageMaxFraction},
		{"small impact", 100, 100000, 0.0001},
		{"capped impact", 100000, 1000, slippageMaxFraction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LinearSlippage(tt.size, tt.depth)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("LinearSlippage(%v, %v) = %v, want %v", tt.size, tt.depth, got, tt.want)
			}
		})
	}
}
