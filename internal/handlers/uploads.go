package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"gymble/internal/engine"
	mw "gymble/internal/middleware"
	"gymble/internal/services"
)

type UploadHandler struct {
	engine  *engine.Engine
	uploads *services.UploadService
	log     *zap.Logger
}

func NewUploadHandler(e *engine.Engine, uploads *services.UploadService, log *zap.Logger) *UploadHandler {
	return &UploadHandler{engine: e, uploads: uploads, log: log.Named("uploads")}
}

type uploadRequest struct {
	Date        string `json:"date"`
	ChallengeID int64  `json:"challenge_id"`
	FileRef     string `json:"file_ref"`
	Metadata    string `json:"metadata"`
}

// Upload godoc
// @Summary Submit today's proof photo
// @Description Stores a pending upload for the date (defaults to today in the server zone).
// @Tags uploads
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} models.DailyUpload
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /upload [post]
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id, _ := mw.IdentityFrom(r.Context())
	var req uploadRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Date == "" {
		req.Date = h.engine.Today()
	}
	up, err := h.uploads.Record(r.Context(), services.UploadRequest{
		UserID:      id.UserID,
		ChallengeID: req.ChallengeID,
		Date:        req.Date,
		FileRef:     req.FileRef,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeEngineError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "upload": up})
}

type restDayRequest struct {
	Date string `json:"date"`
}

// RestDay godoc
// @Summary Use the week's rest day
// @Tags uploads
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]bool
// @Failure 409 {object} map[string]string
// @Router /rest-day [post]
func (h *UploadHandler) RestDay(w http.ResponseWriter, r *http.Request) {
	id, _ := mw.IdentityFrom(r.Context())
	var req restDayRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Date == "" {
		req.Date = h.engine.Today()
	}
	res, err := h.engine.UseRestDay(r.Context(), id.UserID, req.Date)
	if err != nil {
		writeEngineError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rest_day": res.RestDay, "progress": res.Progress})
}
