package httpapi

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dialer-platform/internal/auth"
	"dialer-platform/internal/config"
	"dialer-platform/internal/transfer"

	"github.com/gin-gonic/gin"
)

func init() { gin.SetMode(gin.TestMode) }

func TestLogin_IssuesPairForKnownRoles(t *testing.T) {
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	h := Handlers{Auth: m}

	r := gin.New()
	r.POST("/login", h.Login)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"user_id":"u1","role":"operator"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "access_token") {
		t.Fatalf("missing access token: %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"user_id":"u1","role":"superhero"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown role accepted: %d", w.Code)
	}
}

func TestPoolEndpoints(t *testing.T) {
	pool := transfer.NewPool([]transfer.Resource{
		{ID: "r1", Key: "1", URI: "sip:agent1@pbx", Priority: 1, Capacity: 1},
	}, slog.Default())
	if _, err := pool.Acquire("1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	h := Handlers{Pool: pool}
	r := gin.New()
	r.GET("/pool/:key/diagnose", h.DiagnosePool)
	r.POST("/admin/pool/:key/reset", h.ResetPool)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pool/1/diagnose", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"in_use":1`) {
		t.Fatalf("diagnose: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/pool/1/reset", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"slots_cleared":1`) {
		t.Fatalf("reset: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pool/9/diagnose", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown key, got %d", w.Code)
	}
}
