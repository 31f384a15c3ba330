package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lab_key_tracker/app"
	"lab_key_tracker/auth"
	"lab_key_tracker/checkout"
	"lab_key_tracker/config"
	"lab_key_tracker/db/dbtest"
	"lab_key_tracker/models"
	"lab_key_tracker/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	r   *gin.Engine
	a   *app.App
	pub *checkout.MemoryPublisher
}

func newHarness(t *testing.T, kioskRate int) *harness {
	t.Helper()
	return buildHarness(t, kioskRate, nil)
}

// buildHarness wires the real router over an in-memory store. A nil sessions
// leaves the operator routes unregistered.
func buildHarness(t *testing.T, kioskRate int, sessions session.Store) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := dbtest.New(t)
	dbtest.SeedKeys(t, repo, "K01", "K02")
	dbtest.SeedTeachers(t, repo, "T001", "T002")

	hash, err := auth.HashPassword("secret1")
	require.NoError(t, err)
	require.NoError(t, repo.SetTeacherPassword(context.Background(), "T001", hash))

	pub := &checkout.MemoryPublisher{}
	a := &app.App{
		Router:   gin.New(),
		Config:   config.Config{KioskRatePerMinute: kioskRate},
		Log:      zap.NewNop(),
		Repo:     repo,
		Checkout: checkout.New(repo, pub, nil, checkout.Options{Timeout: 2 * time.Second}),
		Tokens:   auth.NewTokens("test-secret", time.Hour),
		Sessions: sessions,
	}
	RegisterRoutes(a.Router, a)
	return &harness{r: a.Router, a: a, pub: pub}
}

func (h *harness) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)

	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestKioskFlowAndErrorMapping(t *testing.T) {
	h := newHarness(t, 100)

	w, body := h.do(t, http.MethodPost, "/api/kiosk/borrow", app.H{"keyId": "K01", "teacherId": "T001", "purpose": "lab cleaning"}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "K01", body["keyId"])

	w, body = h.do(t, http.MethodPost, "/api/kiosk/borrow", app.H{"keyId": "K01", "teacherId": "T002"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "key already borrowed", body["error"])

	w, _ = h.do(t, http.MethodPost, "/api/kiosk/return", app.H{"keyId": "K01", "teacherId": "T002"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = h.do(t, http.MethodPost, "/api/kiosk/borrow", app.H{"keyId": "NOPE", "teacherId": "T001"}, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "key not found", body["error"])

	w, _ = h.do(t, http.MethodPost, "/api/kiosk/borrow", app.H{"keyId": "K02", "teacherId": "ghost"}, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = h.do(t, http.MethodPost, "/api/kiosk/borrow", app.H{"keyId": "K02"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = h.do(t, http.MethodGet, "/api/kiosk/keys?status=borrowed", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	items, _ := body["items"].([]any)
	require.Len(t, items, 1)
	out, _ := items[0].(map[string]any)
	assert.Equal(t, "K01", out["keyId"])
	assert.Equal(t, "Teacher T001", out["borrowerName"])
	assert.NotContains(t, out, "borrowerId", "the kiosk must not reveal who can return a key")
	assert.NotContains(t, out, "mine")

	w, body = h.do(t, http.MethodPost, "/api/kiosk/return", app.H{"keyId": "K01", "teacherId": "T001", "remarks": "ok"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotNil(t, body["returnDate"])

	w, body = h.do(t, http.MethodGet, "/api/kiosk/keys?status=available", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["total"])

	assert.Len(t, h.pub.Events(), 2)
}

func TestTeacherLoginAndSelfService(t *testing.T) {
	h := newHarness(t, 100)

	w, _ := h.do(t, http.MethodPost, "/api/auth/teacher/login", app.H{"teacherId": "T001", "password": "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = h.do(t, http.MethodPost, "/api/auth/teacher/login", app.H{"teacherId": "T002", "password": "secret1"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code, "teachers without a password cannot sign in")

	w, body := h.do(t, http.MethodPost, "/api/auth/teacher/login", app.H{"teacherId": "T001", "password": "secret1"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	teacher, _ := body["teacher"].(map[string]any)
	assert.NotContains(t, teacher, "passwordHash")

	w, _ = h.do(t, http.MethodGet, "/api/me/borrows", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = h.do(t, http.MethodPost, "/api/keys/K02/borrow", app.H{"purpose": "exam prep"}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, body = h.do(t, http.MethodGet, "/api/keys?status=borrowed", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	keys, _ := body["items"].([]any)
	require.Len(t, keys, 1)
	held, _ := keys[0].(map[string]any)
	assert.Equal(t, true, held["mine"])
	assert.NotContains(t, held, "borrowerId")

	w, body = h.do(t, http.MethodGet, "/api/me/borrows", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	items, _ := body["items"].([]any)
	require.Len(t, items, 1)
	first, _ := items[0].(map[string]any)
	assert.Equal(t, "K02", first["keyId"])
	assert.Equal(t, false, first["overdue"])

	w, _ = h.do(t, http.MethodPost, "/api/keys/K02/return", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body = h.do(t, http.MethodGet, "/api/me/history", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total"])

	k, err := h.a.Repo.FindKey(context.Background(), "K02")
	require.NoError(t, err)
	assert.Equal(t, models.KeyAvailable, k.Status)
}

func TestKioskIsRateLimited(t *testing.T) {
	h := newHarness(t, 2)
	for i := 0; i < 2; i++ {
		w, _ := h.do(t, http.MethodGet, "/api/kiosk/keys", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, _ := h.do(t, http.MethodGet, "/api/kiosk/keys", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, 100)
	w, body := h.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])

	_, _ = h.do(t, http.MethodPost, "/api/kiosk/borrow", app.H{"keyId": "K01", "teacherId": "T001"}, "")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "labkeys_checkout_operations_total")
}
