package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pulsaku/voucher_backend/utils"
)

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware())
	r.GET("/read", RequireUser(), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.DELETE("/write", RequireUser(), RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/internal", InternalKeyMiddleware(), func(c *gin.Context) {
		name, _ := utils.GetUserNameFromContext(c.Request.Context())
		c.String(http.StatusOK, name)
	})
	return r
}

func doRequest(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_Roles(t *testing.T) {
	r := newAuthRouter()

	if w := doRequest(r, http.MethodGet, "/read", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous read: %d", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/read", map[string]string{"Authorization": "Bearer junk"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", w.Code)
	}

	operator, err := utils.JwtGenerate(2, "ops", "O")
	if err != nil {
		t.Fatal(err)
	}
	admin, err := utils.JwtGenerate(1, "root", "A")
	if err != nil {
		t.Fatal(err)
	}
	if w := doRequest(r, http.MethodGet, "/read", map[string]string{"Authorization": "Bearer " + operator}); w.Code != http.StatusOK {
		t.Fatalf("operator read: %d", w.Code)
	}
	if w := doRequest(r, http.MethodDelete, "/write", map[string]string{"Authorization": "Bearer " + operator}); w.Code != http.StatusForbidden {
		t.Fatalf("operator write: %d", w.Code)
	}
	if w := doRequest(r, http.MethodDelete, "/write", map[string]string{"Authorization": "Bearer " + admin}); w.Code != http.StatusOK {
		t.Fatalf("admin write: %d", w.Code)
	}
}

func TestInternalKeyMiddleware(t *testing.T) {
	r := newAuthRouter()

	t.Setenv("INTERNAL_API_KEY", "")
	if w := doRequest(r, http.MethodPost, "/internal", map[string]string{"X-Internal-Key": ""}); w.Code != http.StatusUnauthorized {
		t.Fatalf("unset key must close the route: %d", w.Code)
	}

	t.Setenv("INTERNAL_API_KEY", "s3cret")
	if w := doRequest(r, http.MethodPost, "/internal", map[string]string{"X-Internal-Key": "nope"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: %d", w.Code)
	}
	w := doRequest(r, http.MethodPost, "/internal", map[string]string{"X-Internal-Key": "s3cret"})
	if w.Code != http.StatusOK || w.Body.String() != "Orchestrator" {
		t.Fatalf("right key: %d %q", w.Code, w.Body.String())
	}
}
