package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/drive-school-api/internal/service"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
	"github.com/noah-isme/drive-school-api/pkg/response"
)

func scrape(t *testing.T, svc *service.MetricsService) string {
	t.Helper()
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestMetricsCountsErrorCodesAndSkipsProbes(t *testing.T) {
	svc := service.NewMetricsService()
	r := newRouter(Metrics(svc, "/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/enrollments", func(c *gin.Context) { response.Error(c, appErrors.ErrConflict) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/enrollments", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	body := scrape(t, svc)
	assert.Contains(t, body, `driveschool_api_errors_total{code="CONFLICT"} 1`)
	assert.Contains(t, body, `driveschool_http_requests_total{method="POST",path="/enrollments",status="409"} 1`)
	assert.Contains(t, body, `driveschool_http_requests_total{method="GET",path="unmatched",status="404"} 1`)
	assert.NotContains(t, body, `path="/health"`)
	assert.Contains(t, body, "driveschool_http_requests_in_flight 0")
}
