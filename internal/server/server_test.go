package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tryhardly/apiserver/config"
	"github.com/tryhardly/apiserver/internal/store/memory"
)

func testConfig() config.Config {
	return config.Config{
		Env:         "test",
		StoreDriver: config.StoreDriverMemory,
		Auth: config.AuthConfig{
			JWTSecret:       "0123456789abcdef0123456789abcdef",
			JWTIssuer:       "tryhardly-test",
			TokenTTL:        time.Hour,
			Argon2Time:      1,
			Argon2MemoryKiB: 8 * 1024,
			Argon2Threads:   1,
			HashWorkers:     2,
		},
	}
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	router, err := NewRouter(testConfig(), memory.NewUserRepository(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return router
}

func do(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterAuthFlowUnderAPIPrefix(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/auth/register", map[string]string{
		"email":       "a@b.com",
		"username":    "hero1",
		"displayName": "Hero",
		"password":    "Secr3t!",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var registered struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))

	rec = do(t, router, http.MethodGet, "/auth/me", nil, registered.Token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/auth/login", map[string]string{
		"email":    "A@B.com",
		"password": "Secr3t!",
	}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterSurface(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/healthz", "/health", "/api/health"} {
		rec := do(t, router, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), `"environment":"test"`, path)
	}

	rec := do(t, router, http.MethodGet, "/", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = do(t, router, http.MethodGet, "/quests", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not Found","message":"Route GET /quests not found"}`, rec.Body.String())
}

func TestNewRouterRejectsWeakSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "short"

	_, err := NewRouter(cfg, memory.NewUserRepository(), nil)
	assert.Error(t, err)
}
