package handlers

import (
	"net/http"
	"strconv"

	"triarb/internal/bot"
	"triarb/internal/models"
)

// StatusSource отдаёт текущее состояние движка
type StatusSource interface {
	Status() bot.Status
}

// StatusHandler - состояние движка и возможности последнего скана
type StatusHandler struct {
	engine StatusSource
}

// NewStatusHandler создает новый экземпляр handler'а
func NewStatusHandler(engine StatusSource) *StatusHandler {
	return &StatusHandler{engine: engine}
}

// GetStatus возвращает состояние движка
// GET /api/v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.engine.Status()
	status.Opportunities = nil // возможности отдаёт отдельный endpoint
	writeJSON(w, http.StatusOK, status)
}

// GetOpportunities возвращает возможности последнего скана
// GET /api/v1/opportunities?limit=N
func (h *StatusHandler) GetOpportunities(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	opps := h.engine.Status().Opportunities
	if len(opps) > limit {
		opps = opps[:limit]
	}
	if opps == nil {
		opps = []models.Opportunity{}
	}

	writeJSON(w, http.StatusOK, opps)
}
