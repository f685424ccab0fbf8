package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"gymble/internal/civil"
	mw "gymble/internal/middleware"
	"gymble/internal/models"
	"gymble/internal/ranks"
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,30}$`)

const sessionTTL = 7 * 24 * time.Hour

type AuthHandler struct {
	db   *sqlx.DB
	auth *mw.AuthMiddleware
	log  *zap.Logger
	now  func() time.Time
}

func NewAuthHandler(db *sqlx.DB, auth *mw.AuthMiddleware, log *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, auth: auth, log: log.Named("auth"), now: time.Now}
}

type credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Trophies int64  `json:"trophies"`
	Rank     string `json:"rank"`
	Debt     int64  `json:"debt"`
	IsAdmin  bool   `json:"is_admin"`
}

type sessionResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func (h *AuthHandler) toResponse(u models.User) userResponse {
	return userResponse{
		ID:       u.ID,
		Username: u.Username,
		Trophies: u.Trophies,
		Rank:     ranks.For(u.Trophies),
		Debt:     u.Credits,
		IsAdmin:  h.auth.IsAdmin(u.Username),
	}
}

// Signup godoc
// @Summary Create an account
// @Tags auth
// @Accept json
// @Produce json
// @Success 201 {object} sessionResponse
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /auth/signup [post]
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if !decode(w, r, &c) {
		return
	}
	c.Username = strings.TrimSpace(c.Username)
	if !usernameRe.MatchString(c.Username) {
		writeError(w, http.StatusBadRequest, "Username must be 3-30 letters, digits or underscores")
		return
	}
	if len(c.Password) < 6 {
		writeError(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(c.Password), bcrypt.DefaultCost)
	if err != nil {
		h.log.Error("hash password", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	var taken int
	if err := h.db.GetContext(r.Context(), &taken, h.db.Rebind(`SELECT COUNT(*) FROM users WHERE username = ?`), c.Username); err != nil {
		h.log.Error("check username", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if taken > 0 {
		writeError(w, http.StatusConflict, "Username already taken")
		return
	}

	var user models.User
	err = h.db.QueryRowxContext(r.Context(), h.db.Rebind(`
		INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)
		RETURNING id, username, password_hash, trophies, credits, profile_picture, created_at`),
		c.Username, string(hashed), civil.DateTime(h.now())).StructScan(&user)
	if err != nil {
		h.log.Error("create user", zap.Error(err))
		writeError(w, http.StatusConflict, "Username already taken")
		return
	}
	h.log.Info("user signed up", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	h.startSession(w, user, http.StatusCreated)
}

// Login godoc
// @Summary Log in with username and password
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} sessionResponse
// @Failure 401 {object} map[string]string
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if !decode(w, r, &c) {
		return
	}
	c.Username = strings.TrimSpace(c.Username)
	if c.Username == "" || c.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	var user models.User
	err := h.db.GetContext(r.Context(), &user, h.db.Rebind(`
		SELECT id, username, password_hash, trophies, credits, profile_picture, created_at
		FROM users WHERE username = ?`), c.Username)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		h.log.Error("load user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(c.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	h.startSession(w, user, http.StatusOK)
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: mw.TokenCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me returns the caller's account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := mw.IdentityFrom(r.Context())
	var user models.User
	err := h.db.GetContext(r.Context(), &user, h.db.Rebind(`
		SELECT id, username, password_hash, trophies, credits, profile_picture, created_at
		FROM users WHERE id = ?`), id.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err != nil {
		h.log.Error("load user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": h.toResponse(user)})
}

func (h *AuthHandler) startSession(w http.ResponseWriter, user models.User, status int) {
	token, err := h.auth.Issue(user.ID, user.Username, h.now())
	if err != nil {
		h.log.Error("issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     mw.TokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, sessionResponse{Token: token, User: h.toResponse(user)})
}
