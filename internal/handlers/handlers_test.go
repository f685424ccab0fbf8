package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gymble/internal/config"
	"gymble/internal/db"
	"gymble/internal/engine"
	"gymble/internal/services"
	"gymble/internal/settings"
)

type apiClient struct {
	t *testing.T
	h http.Handler
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	conn, err := db.Open(context.Background(), "sqlite", "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// 2025-06-04 12:00 in Belgrade.
	now := func() time.Time { return time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC) }
	eng := engine.New(conn, engine.Options{Now: now})
	uploads, err := services.NewUploadService(eng, nil, nil)
	require.NoError(t, err)

	h := NewRouter(Deps{
		DB:       conn,
		Engine:   eng,
		Uploads:  uploads,
		Trophies: services.NewTrophyService(eng),
		Settings: settings.NewStore(conn),
		Config: config.Config{
			JWTSecret:          "test-secret",
			AdminUsernames:     []string{"root"},
			AllowedOrigins:     []string{"*"},
			RateLimitPerMinute: 10000,
		},
		Logger: zap.NewNop(),
	})
	return &apiClient{t: t, h: h}
}

func (c *apiClient) do(method, path, token string, body any) (int, map[string]any) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func (c *apiClient) signup(name string) string {
	c.t.Helper()
	code, body := c.do(http.MethodPost, "/api/auth/signup", "", map[string]string{"username": name, "password": "hunter22"})
	require.Equal(c.t, http.StatusCreated, code, body)
	return body["token"].(string)
}

func TestAuthFlow(t *testing.T) {
	api := newAPI(t)
	token := api.signup("ana")

	code, body := api.do(http.MethodPost, "/api/auth/signup", "", map[string]string{"username": "ana", "password": "hunter22"})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "Username already taken", body["error"])

	code, _ = api.do(http.MethodPost, "/api/auth/signup", "", map[string]string{"username": "a!", "password": "hunter22"})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = api.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "ana", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, code)

	code, body = api.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "ana", "password": "hunter22"})
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, body["token"])

	code, body = api.do(http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, code)
	user := body["user"].(map[string]any)
	require.Equal(t, "ana", user["username"])
	require.Equal(t, "Bronze", user["rank"])
	require.Equal(t, false, user["is_admin"])

	code, _ = api.do(http.MethodGet, "/api/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestUploadVerifyDashboard(t *testing.T) {
	api := newAPI(t)
	ana := api.signup("ana")
	root := api.signup("root")

	code, body := api.do(http.MethodPost, "/api/upload", ana, map[string]string{"file_ref": "photos/1.jpg", "metadata": "{}"})
	require.Equal(t, http.StatusCreated, code, body)
	upload := body["upload"].(map[string]any)
	require.Equal(t, "2025-06-04", upload["upload_date"])
	require.Equal(t, "pending", upload["verification_status"])
	uploadID := upload["id"].(float64)

	code, body = api.do(http.MethodPost, "/api/upload", ana, map[string]string{"file_ref": "photos/2.jpg"})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, engine.ReasonUploadExists, body["error"])

	code, body = api.do(http.MethodPost, "/api/rest-day", ana, map[string]string{"date": "2025-06-04"})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, engine.ReasonUploadExists, body["error"])

	code, body = api.do(http.MethodPost, "/api/rest-day", ana, map[string]string{"date": "2025-06-03"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["success"])

	code, body = api.do(http.MethodPost, "/api/upload", ana, map[string]string{"date": "2025-06-03", "file_ref": "photos/3.jpg"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Rest day already used for this date", body["error"])

	code, _ = api.do(http.MethodPost, "/api/admin/verify-upload", ana, map[string]any{"uploadId": uploadID, "status": "approved"})
	require.Equal(t, http.StatusForbidden, code)

	code, body = api.do(http.MethodGet, "/api/admin/pending-uploads", root, nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["uploads"], 1)

	code, body = api.do(http.MethodPost, "/api/admin/verify-upload", root, map[string]any{"uploadId": uploadID, "status": "maybe"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "status must be one of: pending approved rejected", body["error"])

	code, body = api.do(http.MethodPost, "/api/admin/verify-upload", root, map[string]any{"status": "approved"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "uploadId is required", body["error"])

	code, body = api.do(http.MethodPost, "/api/admin/verify-upload", root, map[string]any{"uploadId": 999, "status": "approved"})
	require.Equal(t, http.StatusNotFound, code)

	code, body = api.do(http.MethodPost, "/api/admin/verify-upload", root, map[string]any{"uploadId": uploadID, "status": "approved"})
	require.Equal(t, http.StatusOK, code, body)
	result := body["result"].(map[string]any)
	require.Equal(t, float64(10), result["trophy_delta"])

	code, body = api.do(http.MethodGet, "/api/dashboard", ana, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "2025-06-04", body["server_serbia_today"])
	require.Equal(t, float64(10), body["trophies"])
	require.NotZero(t, body["challenge"].(map[string]any)["id"])
	require.Len(t, body["progress"].(map[string]any)["days"], 7)
	require.Equal(t, float64(1), body["streak"].(map[string]any)["current_streak"])

	code, body = api.do(http.MethodGet, "/api/leaderboard", ana, nil)
	require.Equal(t, http.StatusOK, code)
	first := body["leaderboard"].([]any)[0].(map[string]any)
	require.Equal(t, "ana", first["username"])
}

func TestAdminOperations(t *testing.T) {
	api := newAPI(t)
	ana := api.signup("ana")
	root := api.signup("root")

	code, body := api.do(http.MethodPost, "/api/admin/set-trophies", root, map[string]any{"userId": 1, "trophies": 250})
	require.Equal(t, http.StatusOK, code, body)

	code, body = api.do(http.MethodGet, "/api/auth/me", ana, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Gold", body["user"].(map[string]any)["rank"])

	code, body = api.do(http.MethodPost, "/api/admin/set-trophies", root, map[string]any{"userId": 1, "trophies": -3})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, engine.ReasonNegativeBalance, body["error"])

	code, body = api.do(http.MethodPost, "/api/admin/rebuild", root, nil)
	require.Equal(t, http.StatusOK, code, body)
	require.Len(t, body["reports"], 2)

	code, body = api.do(http.MethodGet, "/api/admin/stats", root, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(2), body["totalUsers"])

	code, _ = api.do(http.MethodPost, "/api/admin/reset-debt", root, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = api.do(http.MethodPost, "/api/admin/reset-user-debt", root, map[string]any{"userId": 99})
	require.Equal(t, http.StatusNotFound, code)
}

func TestMaintenanceMode(t *testing.T) {
	api := newAPI(t)
	ana := api.signup("ana")
	root := api.signup("root")

	code, body := api.do(http.MethodPost, "/api/admin/maintenance", root, map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["enabled"])

	code, _ = api.do(http.MethodGet, "/api/dashboard", ana, nil)
	require.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = api.do(http.MethodGet, "/api/dashboard", root, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = api.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "ana", "password": "hunter22"})
	require.Equal(t, http.StatusOK, code)

	code, body = api.do(http.MethodGet, "/api/maintenance/status", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["enabled"])

	code, _ = api.do(http.MethodPost, "/api/admin/maintenance", root, map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, code)
	code, _ = api.do(http.MethodGet, "/api/dashboard", ana, nil)
	require.Equal(t, http.StatusOK, code)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newAPI(t)
	code, body := api.do(http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])

	code, _ = api.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, code)
}
