package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"triarb/internal/models"
	"triarb/internal/repository"
)

// ExecutionStore - доступ к журналу сделок
type ExecutionStore interface {
	GetRecent(ctx context.Context, limit int) ([]*models.TradeExecution, error)
	GetByID(ctx context.Context, id int) (*models.TradeExecution, error)
	GetStats(ctx context.Context) (*repository.ExecutionStats, error)
}

// ExecutionHandler - история исполнений из журнала сделок
type ExecutionHandler struct {
	store ExecutionStore
}

// NewExecutionHandler создает новый экземпляр handler'а
func NewExecutionHandler(store ExecutionStore) *ExecutionHandler {
	return &ExecutionHandler{store: store}
}

// GetExecutions возвращает последние исполнения
// GET /api/v1/executions?limit=N
func (h *ExecutionHandler) GetExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	executions, err := h.store.GetRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load executions")
		return
	}
	if executions == nil {
		executions = []*models.TradeExecution{}
	}

	writeJSON(w, http.StatusOK, executions)
}

// GetExecution возвращает одно исполнение с ордерами
// GET /api/v1/executions/{id}
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution id")
		return
	}

	exec, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrExecutionNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load execution")
		return
	}

	writeJSON(w, http.StatusOK, exec)
}

// GetStats возвращает агрегаты журнала сделок
// GET /api/v1/executions/stats
func (h *ExecutionHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
