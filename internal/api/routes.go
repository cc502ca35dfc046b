// Package api собирает HTTP сервер мониторинга: статус движка,
// возможности, журнал сделок и метрики Prometheus.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"triarb/internal/api/handlers"
	"triarb/internal/api/middleware"
)

// Dependencies содержит зависимости API handlers
// Executions может быть nil: персистентность опциональна
type Dependencies struct {
	Engine     handlers.StatusSource
	Executions handlers.ExecutionStore
	Logger     *zap.Logger
}

// SetupRoutes настраивает HTTP маршруты сервера мониторинга
//
// /health                    - liveness
// /metrics                   - Prometheus метрики
// /api/v1/status             - состояние движка
// /api/v1/opportunities      - возможности последнего скана
// /api/v1/executions         - журнал сделок (при включённой БД)
// /api/v1/executions/stats   - агрегаты журнала
// /api/v1/executions/{id}    - одно исполнение с ордерами
func SetupRoutes(deps *Dependencies) *mux.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	if deps.Engine != nil {
		statusHandler := handlers.NewStatusHandler(deps.Engine)
		api.HandleFunc("/status", statusHandler.GetStatus).Methods("GET")
		api.HandleFunc("/opportunities", statusHandler.GetOpportunities).Methods("GET")
	}

	if deps.Executions != nil {
		executionHandler := handlers.NewExecutionHandler(deps.Executions)
		api.HandleFunc("/executions", executionHandler.GetExecutions).Methods("GET")
		api.HandleFunc("/executions/stats", executionHandler.GetStats).Methods("GET")
		api.HandleFunc("/executions/{id:[0-9]+}", executionHandler.GetExecution).Methods("GET")
	}

	return router
}
