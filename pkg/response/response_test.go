package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/drive-school-api/internal/models"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
	"github.com/noah-isme/drive-school-api/pkg/middleware/requestid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, h gin.HandlerFunc) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	r := gin.New()
	r.Use(requestid.Middleware())
	r.GET("/", h)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestJSONWritesEnvelope(t *testing.T) {
	rec, body := serve(t, func(c *gin.Context) {
		JSON(c, http.StatusOK, []string{"a"}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, map[string]interface{}{"cache_hit": true})
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `["a"]`, string(body["data"]))
	assert.JSONEq(t, `{"cache_hit":true}`, string(body["meta"]))
	assert.NotContains(t, body, "error")
}

func TestErrorHidesInternalCause(t *testing.T) {
	rec, body := serve(t, func(c *gin.Context) {
		Error(c, errors.New("pq: connection reset"))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, string(body["error"]), "pq:")
	assert.JSONEq(t, `{"request_id":"req-42"}`, string(body["meta"]))
}

func TestErrorSurfacesValidationFields(t *testing.T) {
	type payload struct {
		PlanDays int `validate:"min=1"`
	}
	verr := validator.New().Struct(payload{})
	require.Error(t, verr)

	rec, body := serve(t, func(c *gin.Context) {
		Error(c, appErrors.Wrap(verr, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload"))
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var out appErrors.Error
	require.NoError(t, json.Unmarshal(body["error"], &out))
	assert.Equal(t, "invalid enrollment payload", out.Message)
	assert.Equal(t, []interface{}{map[string]interface{}{"field": "PlanDays", "rule": "min", "param": "1"}}, out.Details)
}

func TestErrorDoesNotMutateSentinel(t *testing.T) {
	serve(t, func(c *gin.Context) {
		Error(c, appErrors.Wrap(models.NewSessionConflictError(models.SessionConflict{Resource: models.ResourceVehicle, ResourceID: "v-1"}), appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "busy"))
	})
	assert.Nil(t, appErrors.ErrConflict.Details)
}
