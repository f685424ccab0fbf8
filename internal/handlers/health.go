package handlers

import (
	"net/http"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"gymble/internal/civil"
	"gymble/internal/settings"
)

type HealthHandler struct {
	db       *sqlx.DB
	settings *settings.Store
	log      *zap.Logger
}

func NewHealthHandler(db *sqlx.DB, st *settings.Store, log *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, settings: st, log: log.Named("health")}
}

// Health pings the database.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		h.log.Error("database ping failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "timezone": civil.Zone})
}

// MaintenanceStatus is public so clients can show a banner.
func (h *HealthHandler) MaintenanceStatus(w http.ResponseWriter, r *http.Request) {
	on, err := h.settings.Maintenance(r.Context())
	if err != nil {
		h.log.Warn("maintenance lookup failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": on})
}
