package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(t *testing.T, origins []string, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(origins))
	r.GET("/api/v1/sessions", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(method, "/api/v1/sessions", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestTenantSubdomainWildcard(t *testing.T) {
	origins := []string{"https://*.driveschool.test", "https://admin.example.com/"}

	cases := map[string]bool{
		"https://acme.driveschool.test":     true,
		"https://ACME.driveschool.test":     true,
		"https://driveschool.test":          false,
		"https://a.b.driveschool.test":      false,
		"http://acme.driveschool.test":      false,
		"https://admin.example.com":         true,
		"https://evil-driveschool.test":     false,
		"https://acme.driveschool.test.evil": false,
	}
	for origin, allowed := range cases {
		rec := serve(t, origins, http.MethodGet, origin)
		assert.Equal(t, http.StatusOK, rec.Code)
		if allowed {
			assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"), origin)
		} else {
			assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), origin)
		}
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	rec := serve(t, nil, http.MethodOptions, "https://acme.driveschool.test")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Tenant")
	assert.Equal(t, "https://acme.driveschool.test", rec.Header().Get("Access-Control-Allow-Origin"))
}
