package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func adminRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	admin := router.Group("/admin", RequireAdmin(secret))
	admin.GET("/ping", func(c *gin.Context) {
		c.String(200, "pong")
	})
	return router
}

func TestRequireAdmin(t *testing.T) {
	router := adminRouter("s3cret")

	req := httptest.NewRequest("GET", "/admin/ping", nil)
	req.Header.Set("X-Admin-Secret", "s3cret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid secret: expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/admin/ping", nil)
	req.Header.Set("X-Admin-Secret", "wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad secret: expected 401, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/admin/ping", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing secret: expected 401, got %d", w.Code)
	}
}

func TestRequireAdmin_Unconfigured(t *testing.T) {
	router := adminRouter("")

	req := httptest.NewRequest("GET", "/admin/ping", nil)
	req.Header.Set("X-Admin-Secret", "anything")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("unconfigured admin: expected 403, got %d", w.Code)
	}
}
