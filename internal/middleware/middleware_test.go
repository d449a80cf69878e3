package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edu-billing-api/internal/models"
	appErrors "github.com/noah-isme/edu-billing-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return s.claims, nil
}

type cashierOnly struct{}

func (cashierOnly) Can(actor models.Actor, action models.Action, resource string) bool {
	return actor.Role == models.RoleCashier && action == models.ActionRegisterPayment
}

type recordingAudit struct {
	logs []models.AuditLog
}

func (r *recordingAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.logs = append(r.logs, *log)
	return nil
}

type recordingObserver struct {
	paths    []string
	statuses []int
}

func (r *recordingObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	r.paths = append(r.paths, path)
	r.statuses = append(r.statuses, status)
}

func newRouter(claims *models.JWTClaims, mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWT(stubValidator{claims: claims}))
	handlers := append(mw, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/payments/:id", handlers...)
	return router
}

func call(router http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/payments/p-1", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestJWTRejectsMissingAndMalformedTokens(t *testing.T) {
	router := newRouter(&models.JWTClaims{UserID: "u-1", Role: models.RoleCashier})

	assert.Equal(t, http.StatusUnauthorized, call(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(router, "Token good").Code)
	assert.Equal(t, http.StatusUnauthorized, call(router, "Bearer bad").Code)
	assert.Equal(t, http.StatusNoContent, call(router, "Bearer good").Code)
}

func TestRequireRoles(t *testing.T) {
	router := newRouter(&models.JWTClaims{UserID: "u-1", Role: models.RoleCashier}, RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusForbidden, call(router, "Bearer good").Code)

	router = newRouter(&models.JWTClaims{UserID: "u-1", Role: models.RoleAdmin}, RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusNoContent, call(router, "Bearer good").Code)
}

func TestRequireAction(t *testing.T) {
	guard := RequireAction(cashierOnly{}, models.ActionRegisterPayment, models.ResourcePayment)

	router := newRouter(&models.JWTClaims{UserID: "u-1", Role: models.RoleCashier}, guard)
	assert.Equal(t, http.StatusNoContent, call(router, "Bearer good").Code)

	router = newRouter(&models.JWTClaims{UserID: "u-2", Role: models.RoleAccountant}, guard)
	assert.Equal(t, http.StatusForbidden, call(router, "Bearer good").Code)
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	repo := &recordingAudit{}
	router := newRouter(&models.JWTClaims{UserID: "u-1", Role: models.RoleAdmin}, Audit(repo, nil, models.AuditActionExport, models.ResourceReport))

	call(router, "Bearer good")
	call(router, "Bearer bad")

	require.Len(t, repo.logs, 1)
	assert.Equal(t, "u-1", repo.logs[0].ActorID)
	assert.Equal(t, models.AuditActionExport, repo.logs[0].Action)
	require.NotNil(t, repo.logs[0].NewValues)
	assert.Contains(t, *repo.logs[0].NewValues, "/payments/:id")
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &recordingObserver{}
	router := gin.New()
	router.Use(Metrics(observer))
	router.GET("/payments/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	call(router, "")
	req := httptest.NewRequest(http.MethodGet, "/nowhere/42", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, []string{"/payments/:id", "unmatched"}, observer.paths)
	assert.Equal(t, []int{http.StatusOK, http.StatusNotFound}, observer.statuses)
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var meta map[string]interface{}
	router := gin.New()
	router.Use(WithResponseMeta())
	router.GET("/", func(c *gin.Context) {
		SetMeta(c, "as_of", "2024-01-31")
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "2024-01-31", meta["as_of"])
	assert.Contains(t, meta, "processing_time_ms")
	assert.NotContains(t, meta, "started_at")
}
