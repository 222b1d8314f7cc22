package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ConceptGuard/internal/application/extraction"
	"github.com/turtacn/ConceptGuard/internal/config"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/ConceptGuard/internal/intelligence/rules"
	"github.com/turtacn/ConceptGuard/internal/intelligence/validation"
	"github.com/turtacn/ConceptGuard/internal/interfaces/http/handlers"
	"github.com/turtacn/ConceptGuard/internal/interfaces/http/middleware"
)

type stubService struct {
	extraction.Service
	sawDeadline bool
}

func (s *stubService) Extract(ctx context.Context, _ *extraction.ExtractInput) (*validation.Result, error) {
	_, s.sawDeadline = ctx.Deadline()
	return &validation.Result{}, nil
}

func (s *stubService) RulesInfo(context.Context) rules.Info {
	return rules.Info{Concepts: 1}
}

func newRouter(t *testing.T, server config.ServerConfig) (*gin.Engine, *stubService, prometheus.MetricsCollector) {
	t.Helper()
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "conceptguard"}, nil)
	require.NoError(t, err)
	svc := &stubService{}
	server.Mode = gin.TestMode
	r := NewRouter(RouterConfig{
		ExtractionHandler: handlers.NewExtractionHandler(svc),
		RulesHandler:      handlers.NewRulesHandler(svc, nil),
		HealthHandler:     handlers.NewHealthHandler("test"),
		Server:            server,
		Metrics:           prometheus.NewAppMetrics(collector),
		MetricsCollector:  collector,
	})
	return r, svc, collector
}

func request(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_RoutesAndRequestID(t *testing.T) {
	r, svc, _ := newRouter(t, config.ServerConfig{RequestTimeout: time.Second})

	w := request(r, http.MethodPost, "/api/v1/extract", `{"text":"heart rate 72"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
	assert.True(t, svc.sawDeadline)

	w = request(r, http.MethodGet, "/api/v1/rules", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = request(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = request(r, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_RateLimitSparesProbes(t *testing.T) {
	r, _, _ := newRouter(t, config.ServerConfig{RateLimitRPS: 1, RateLimitBurst: 1})

	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/api/v1/rules", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, request(r, http.MethodGet, "/api/v1/rules", "").Code)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/healthz", "").Code)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	r, _, _ := newRouter(t, config.ServerConfig{})
	request(r, http.MethodGet, "/api/v1/rules", "")

	w := request(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `conceptguard_http_requests_total{method="GET",path="/api/v1/rules",status_code="200"} 1`)
}

func TestRouter_BodyLimit(t *testing.T) {
	r, _, _ := newRouter(t, config.ServerConfig{MaxBodySize: 32})
	w := request(r, http.MethodPost, "/api/v1/extract", `{"text":"`+strings.Repeat("x", 100)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRouter_CORS(t *testing.T) {
	r, _, _ := newRouter(t, config.ServerConfig{CORSOrigins: []string{"https://ui.example.com"}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	req.Header.Set("Origin", "https://ui.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://ui.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}
