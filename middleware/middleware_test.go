package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront-service/middleware"
	awspkg "storefront-service/pkg/aws"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})
	return r
}

func get(r *gin.Engine, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	r := newEngine(middleware.RequestID())

	w := get(r, nil)
	rid := w.Header().Get(middleware.RequestIDHeader)
	assert.NotEmpty(t, rid)
	assert.Equal(t, rid, w.Body.String())

	w = get(r, map[string]string{middleware.RequestIDHeader: "req-123"})
	assert.Equal(t, "req-123", w.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, "req-123", w.Body.String())
}

func TestRateLimit_RejectsAfterBurst(t *testing.T) {
	limiter := middleware.NewRateLimiter(rate.Every(time.Hour), 2, time.Minute)
	r := newEngine(middleware.RateLimit(limiter))

	assert.Equal(t, http.StatusOK, get(r, nil).Code)
	assert.Equal(t, http.StatusOK, get(r, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, nil).Code)
}

func TestRateLimit_InfiniteRateNeverRejects(t *testing.T) {
	limiter := middleware.NewRateLimiter(rate.Inf, 0, time.Minute)
	r := newEngine(middleware.RateLimit(limiter))
	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, get(r, nil).Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	w := get(newEngine(middleware.SecurityHeaders()), nil)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestRequestLoggerAndDisabledMetricsPassThrough(t *testing.T) {
	metrics := awspkg.NewMetricsClient(sdkaws.Config{}, "test", false)
	r := newEngine(
		middleware.RequestID(),
		middleware.RequestLogger(zap.NewNop()),
		middleware.Metrics(metrics, "storefront-service"),
		middleware.Timeout(time.Second),
	)
	assert.Equal(t, http.StatusOK, get(r, nil).Code)
}
