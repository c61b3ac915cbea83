package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/drive-school-api/internal/models"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
	"github.com/noah-isme/drive-school-api/pkg/logger"
	reqid "github.com/noah-isme/drive-school-api/pkg/middleware/requestid"
)

type stubResolver map[string]*models.Tenant

func (s stubResolver) Resolve(_ context.Context, slug string) (*models.Tenant, error) {
	if t, ok := s[slug]; ok {
		return t, nil
	}
	return nil, appErrors.ErrTenantNotFound
}

type stubValidator map[string]*models.JWTClaims

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type recordedAudit struct {
	logs []*models.AuditLog
}

func (r *recordedAudit) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	r.logs = append(r.logs, log)
	return nil
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	return r
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestTenantSlug(t *testing.T) {
	cases := []struct {
		header, host, want string
	}{
		{"Acme", "ignored.example.com", "acme"},
		{"", "acme.drive.example.com", "acme"},
		{"", "ACME.drive.example.com:8080", "acme"},
		{"", "localhost:8080", "localhost"},
		{"", "127.0.0.1:8080", ""},
		{"", "", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TenantSlug(tc.header, tc.host), tc.host)
	}
}

var (
	acme   = &models.Tenant{ID: "t1", Slug: "acme", Active: true}
	tokens = stubValidator{
		"acme-admin":  {UserID: "u1", TenantID: "t1", Role: models.RoleCompanyAdmin},
		"acme-tutor":  {UserID: "u2", TenantID: "t1", Role: models.RoleTrainer},
		"other-admin": {UserID: "u9", TenantID: "t2", Role: models.RoleCompanyAdmin},
	}
)

func TestTenantAndJWTChain(t *testing.T) {
	r := newRouter(Tenant(stubResolver{"acme": acme}), JWT(tokens))
	r.GET("/me", func(c *gin.Context) {
		actor, ok := ActorFromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"tenant": c.GetString(logger.TenantKey), "user": actor.UserID})
	})

	do := func(tenant, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Host = "api.example.com"
		if tenant != "" {
			req.Header.Set(TenantHeader, tenant)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do("acme", "acme-admin")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tenant":"t1","user":"u1"}`, rec.Body.String())

	rec = do("acme", "other-admin")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, appErrors.ErrTenantNotFound.Code, errorCode(t, rec))

	rec = do("ghost", "acme-admin")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do("acme", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do("acme", "forged")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRBAC(t *testing.T) {
	r := newRouter(JWT(tokens))
	r.GET("/admin", AdminOnly(), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/staff", Staff(), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/users/:id", RBAC(string(models.RoleCompanyAdmin), RoleSelf), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(path, token string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("/admin", "acme-admin"))
	assert.Equal(t, http.StatusForbidden, do("/admin", "acme-tutor"))
	assert.Equal(t, http.StatusOK, do("/staff", "acme-tutor"))
	assert.Equal(t, http.StatusOK, do("/users/u2", "acme-tutor"))
	assert.Equal(t, http.StatusForbidden, do("/users/u1", "acme-tutor"))
}

func TestAuditRecordsSuccessfulWritesOnly(t *testing.T) {
	recorder := &recordedAudit{}
	r := newRouter(JWT(tokens))
	r.POST("/vehicles/:id", Audit(recorder, nil, models.AuditActionVehicleWrite, "vehicles"), func(c *gin.Context) {
		if c.Query("fail") != "" {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	for _, path := range []string{"/vehicles/v1", "/vehicles/v1?fail=1"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Authorization", "Bearer acme-admin")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Len(t, recorder.logs, 1)
	log := recorder.logs[0]
	assert.Equal(t, "t1", *log.TenantID)
	assert.Equal(t, "u1", *log.UserID)
	assert.Equal(t, "v1", *log.ResourceID)
	assert.Equal(t, models.AuditActionVehicleWrite, log.Action)
}

type ctxCheckingAudit struct {
	recordedAudit
	ctxErr error
}

func (r *ctxCheckingAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.ctxErr = ctx.Err()
	return r.recordedAudit.CreateAuditLog(ctx, log)
}

func TestAuditPrefersHandlerTargetAndSurvivesHangup(t *testing.T) {
	recorder := &ctxCheckingAudit{}
	r := newRouter(reqid.Middleware(), JWT(tokens))
	r.POST("/enrollments/:id/payments", Audit(recorder, nil, models.AuditActionPaymentRecord, "payments"), func(c *gin.Context) {
		SetAuditTarget(c, "pay-9")
		c.Status(http.StatusCreated)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/enrollments/e1/payments", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer acme-admin")
	req.Header.Set("X-Request-ID", "req-42")
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, recorder.logs, 1)
	assert.NoError(t, recorder.ctxErr)
	log := recorder.logs[0]
	assert.Equal(t, "pay-9", *log.ResourceID)

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(log.NewValues, &details))
	assert.Equal(t, "e1", details["parent_id"])
	assert.Equal(t, "req-42", details["request_id"])
	assert.Equal(t, "/enrollments/:id/payments", details["route"])
}

func TestResponseMetaCarriesCacheHit(t *testing.T) {
	r := newRouter(WithResponseMeta())
	r.GET("/view", func(c *gin.Context) {
		SetCacheHit(c, true)
		c.JSON(http.StatusOK, ExtractMeta(c))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/view", nil))
	assert.JSONEq(t, `{"cache_hit":true}`, rec.Body.String())
}
