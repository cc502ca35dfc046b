package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации
// - Alertmanager для уведомлений о проблемах

// ============ Метрики сканера ============

// ScanLatency - время одного полного скана графа
var ScanLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "triarb",
		Subsystem: "scanner",
		Name:      "scan_latency_ms",
		Help:      "Time for one full graph scan in milliseconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250},
	},
)

// TrianglesScanned - количество рассмотренных треугольников
var TrianglesScanned = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "triarb",
		Subsystem: "scanner",
		Name:      "triangles_scanned_total",
		Help:      "Total number of triangles evaluated",
	},
)

// OpportunitiesDetected - возможности, прошедшие порог прибыли
var OpportunitiesDetected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "triarb",
		Subsystem: "scanner",
		Name:      "opportunities_detected_total",
		Help:      "Number of opportunities above the profit threshold",
	},
	[]string{"anchor"},
)

// BestNetProfit - лучший нетто-результат последнего скана
var BestNetProfit = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "triarb",
		Subsystem: "scanner",
		Name:      "best_net_profit_fraction",
		Help:      "Best net profit fraction seen in the last scan",
	},
)

// ============ Метрики исполнения ============

// ExecutionsTotal - исполнения по результату
var ExecutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "triarb",
		Subsystem: "executor",
		Name:      "executions_total",
		Help:      "Total number of executions by terminal state",
	},
	[]string{"state", "abort_reason"},
)

// ExecutionLatency - время полного прогона трёх ног
var ExecutionLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "triarb",
		Subsystem: "executor",
		Name:      "execution_latency_ms",
		Help:      "Time for a full three-leg execution in milliseconds",
		Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000},
	},
)

// RealizedProfit - суммарная реализованная прибыль в якорной валюте
var RealizedProfit = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "triarb",
		Subsystem: "executor",
		Name:      "realized_profit_total",
		Help:      "Total realized profit in anchor currency units",
	},
)

// ActiveExecutions - текущее количество исполнений в полёте
var ActiveExecutions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "triarb",
		Subsystem: "executor",
		Name:      "active_executions",
		Help:      "Current number of in-flight executions",
	},
)

// ============ Метрики рынка ============

// SnapshotPairs - количество пар в текущем снапшоте
var SnapshotPairs = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "triarb",
		Subsystem: "market",
		Name:      "snapshot_pairs",
		Help:      "Number of pairs in the current market snapshot",
	},
)

// SnapshotAge - возраст снапшота на момент скана
var SnapshotAge = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "triarb",
		Subsystem: "market",
		Name:      "snapshot_age_ms",
		Help:      "Age of the market snapshot at scan time in milliseconds",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
	},
)

// ============ Вспомогательные функции ============

// RecordScan записывает итог одного скана
func RecordScan(result *ScanResult, latencyMs float64) {
	ScanLatency.Observe(latencyMs)
	TrianglesScanned.Add(float64(result.TrianglesScanned))
	BestNetProfit.Set(result.BestNetProfit)

	for _, opp := range result.Opportunities {
		OpportunitiesDetected.WithLabelValues(opp.Anchor()).Inc()
	}
}

// RecordExecution записывает итог исполнения
func RecordExecution(state, abortReason string, profit, latencyMs float64) {
	ExecutionsTotal.WithLabelValues(state, abortReason).Inc()
	ExecutionLatency.Observe(latencyMs)
	if profit > 0 {
		RealizedProfit.Add(profit)
	}
}
