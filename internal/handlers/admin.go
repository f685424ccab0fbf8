package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"gymble/internal/engine"
	"gymble/internal/services"
	"gymble/internal/settings"
	"gymble/internal/verification"
)

type AdminHandler struct {
	engine   *engine.Engine
	trophies *services.TrophyService
	uploads  *services.UploadService
	settings *settings.Store
	log      *zap.Logger
}

func NewAdminHandler(e *engine.Engine, trophies *services.TrophyService, uploads *services.UploadService,
	st *settings.Store, log *zap.Logger) *AdminHandler {
	return &AdminHandler{engine: e, trophies: trophies, uploads: uploads, settings: st, log: log.Named("admin")}
}

type verifyRequest struct {
	UploadID int64  `json:"uploadId" validate:"required,gt=0"`
	Status   string `json:"status" validate:"required,oneof=pending approved rejected"`
}

// VerifyUpload godoc
// @Summary Approve, reject or reset an upload
// @Description Any status may be set any number of times; trophies, streak and the weekly bonus follow.
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} engine.VerificationResult
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /admin/verify-upload [post]
func (h *AdminHandler) VerifyUpload(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decode(w, r, &req) {
		return
	}
	status, err := verification.ParseStatus(req.Status)
	if err != nil {
		writeEngineError(w, h.log, err)
		return
	}
	res, err := h.engine.SetVerification(r.Context(), req.UploadID, status)
	if err != nil {
		writeEngineError(w, h.log, err)
		return
	}
	if err := h.uploads.Open(&res.Upload); err != nil {
		h.log.Warn("open upload metadata", zap.Int64("upload_id", res.Upload.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

// PendingUploads godoc
// @Summary Review queue
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Router /admin/pending-uploads [get]
func (h *AdminHandler) PendingUploads(w http.ResponseWriter, r *http.Request) {
	rows, err := h.engine.PendingUploads(r.Context())
	if err != nil {
		writeEngineError(w, h.log, err)
		return
	}
	for i := range rows {
		if err := h.uploads.Open(&rows[i].DailyUpload); err != nil {
			h.log.Warn("open upload metadata", zap.Int64("upload_id", rows[i].ID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": rows})
}

type setTrophiesRequest struct {
	UserID   int64 `json:"userId" validate:"required,gt=0"`
	Trophies int64 `json:"trophies"`
}

// SetTrophies overwrites a user's balance.
func (h *AdminHandler) SetTrophies(w http.ResponseWriter, r *http.Request) {
	var req setTrophiesRequest
	if !decode(w, r, &req) {
		return
	}
	eff, err := h.trophies.AdminSetTrophies(r.Context(), req.UserID, req.Trophies)
	if err != nil {
		writeEngineError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "effect": eff})
}

type userRequest struct {
	UserID int64 `json:"userId" validate:"gte=0"`
}

// Rebuild replays derived state for one user, or for everyone when userId
// is omitted.
func (h *AdminHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	ids := []int64{req.UserID}
	if req.UserID == 0 {
		var err error
		if ids, err = h.engine.UserIDs(r.Context()); err != nil {
			writeEngineError(w, h.log, err)
			return
		}
	}
	reports := make([]*engine.RebuildReport, 0, len(ids))
	for _, id := range ids {
		rep, err := h.trophies.RebuildUser(r.Context(), id)
		if err != nil {
			writeEngineError(w, h.log, err)
			return
		}
		reports = append(reports, rep)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "reports": reports})
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Stats(r.Context())
	if err != nil {
		writeEngineError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *AdminHandler) ResetDebt(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.ResetDebt(r.Context())
	if err != nil {
		writeEngineError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": n})
}

func (h *AdminHandler) ResetUserDebt(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.ResetUserDebt(r.Context(), req.UserID); err != nil {
		writeEngineError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type maintenanceRequest struct {
	Enabled bool `json:"enabled"`
}

// Maintenance reports maintenance mode on GET and sets it on POST.
func (h *AdminHandler) Maintenance(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req maintenanceRequest
		if !decode(w, r, &req) {
			return
		}
		if err := h.settings.SetMaintenance(r.Context(), req.Enabled); err != nil {
			writeEngineError(w, h.log, err)
			return
		}
		h.log.Info("maintenance mode changed", zap.Bool("enabled", req.Enabled))
	}
	on, err := h.settings.Maintenance(r.Context())
	if err != nil {
		writeEngineError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": on})
}
