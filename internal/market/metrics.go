package market

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RefreshFailures - неудачные обновления снапшотов по задачам
var RefreshFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "triarb",
		Subsystem: "market",
		Name:      "refresh_failures_total",
		Help:      "Number of failed snapshot refreshes",
	},
	[]string{"task"},
)
