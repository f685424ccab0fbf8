package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"gymble/internal/engine"
	mw "gymble/internal/middleware"
)

type DashboardHandler struct {
	engine *engine.Engine
	log    *zap.Logger
}

func NewDashboardHandler(e *engine.Engine, log *zap.Logger) *DashboardHandler {
	return &DashboardHandler{engine: e, log: log.Named("dashboard")}
}

// Get godoc
// @Summary Home view for the caller
// @Description Streak, trophies, rank, debt and the current weekly challenge with its seven days.
// @Tags dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} engine.Dashboard
// @Router /dashboard [get]
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, _ := mw.IdentityFrom(r.Context())
	d, err := h.engine.Dashboard(r.Context(), id.UserID)
	if err != nil {
		writeEngineError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Leaderboard lists users by trophies. ?limit caps the list (default 50).
func (h *DashboardHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.engine.Leaderboard(r.Context(), limit)
	if err != nil {
		writeEngineError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": rows})
}
