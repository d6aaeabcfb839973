package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/paideia-lms/Paideia-sub010/internal/handler"
	"github.com/paideia-lms/Paideia-sub010/internal/models"
	"github.com/paideia-lms/Paideia-sub010/internal/service"
	"github.com/paideia-lms/Paideia-sub010/pkg/config"
	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

type rejectAllTokens struct{}

func (rejectAllTokens) ValidateToken(string) (*models.ActorClaims, error) {
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

func testRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return newRouter(routerDeps{
		cfg:        cfg,
		logger:     zap.NewNop(),
		metrics:    service.NewMetricsService(),
		tokens:     rejectAllTokens{},
		gradebooks: handler.NewGradebookHandler(nil, nil),
		grades:     handler.NewGradeHandler(nil),
		reports:    handler.NewReportHandler(nil, nil),
		probes:     handler.NewMetricsHandler(service.NewMetricsService(), nil),
	})
}

func routeSet(r *gin.Engine) map[string]bool {
	routes := map[string]bool{}
	for _, route := range r.Routes() {
		routes[route.Method+" "+route.Path] = true
	}
	return routes
}

func TestRouterRegistersGradebookSurface(t *testing.T) {
	routes := routeSet(testRouter(&config.Config{Env: config.EnvDevelopment, APIPrefix: "/api/v1", Exports: config.ExportsConfig{Enabled: true}}))

	for _, want := range []string{
		"POST /api/v1/gradebooks",
		"GET /api/v1/gradebooks/:id",
		"DELETE /api/v1/gradebooks/:id",
		"GET /api/v1/courses/:courseId/gradebook",
		"POST /api/v1/gradebooks/:id/hierarchy",
		"PUT /api/v1/gradebooks/:id/categories/:categoryId",
		"DELETE /api/v1/gradebooks/:id/items/:itemId",
		"PUT /api/v1/gradebooks/:id/order",
		"POST /api/v1/grades/release",
		"POST /api/v1/grades/:id/adjustments/:adjustmentId/toggle",
		"GET /api/v1/gradebooks/:id/enrollments/:enrollmentId/final-grade",
		"GET /api/v1/gradebooks/:id/report",
		"POST /api/v1/gradebooks/:id/exports",
		"GET /api/v1/exports/:token",
		"GET /metrics",
		"GET /docs/*any",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}
}

func TestRouterHidesExportsAndDocs(t *testing.T) {
	routes := routeSet(testRouter(&config.Config{Env: config.EnvProduction, APIPrefix: "/api/v1"}))

	assert.False(t, routes["POST /api/v1/gradebooks/:id/exports"])
	assert.False(t, routes["GET /api/v1/exports/:token"])
	assert.False(t, routes["GET /docs/*any"])
}

func TestRouterRequiresTokenWhenConfigured(t *testing.T) {
	r := testRouter(&config.Config{Env: config.EnvDevelopment, APIPrefix: "/api/v1", JWT: config.JWTConfig{Required: true}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/grades/rec-1", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
