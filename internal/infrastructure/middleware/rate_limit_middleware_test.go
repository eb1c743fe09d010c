package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"vidrelay/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// Test that when rate limiting is disabled, middleware lets all requests through.
func TestHTTPRateLimitMiddleware_Disabled_AllowsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.Monitoring.RateLimiting.Enabled = false

	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		assert.Equal(t, http.StatusOK, serve(router, req).Code)
	}
}

// Test basic per-IP rate limiting behaviour.
func TestHTTPRateLimitMiddleware_Enabled_RateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.Monitoring.RateLimiting.Enabled = true
	cfg.Monitoring.RateLimiting.RequestsPerSecond = 1
	cfg.Monitoring.RateLimiting.Burst = 1
	cfg.Monitoring.RateLimiting.MaxConcurrent = 0

	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req1, _ := http.NewRequest(http.MethodGet, "/test", nil)
	assert.Equal(t, http.StatusOK, serve(router, req1).Code)

	// Second immediate request from same "IP" should be limited.
	req2, _ := http.NewRequest(http.MethodGet, "/test", nil)
	assert.Equal(t, http.StatusTooManyRequests, serve(router, req2).Code)

	// A different client has its own bucket.
	req3, _ := http.NewRequest(http.MethodGet, "/test", nil)
	req3.Header.Set("X-Forwarded-For", "10.1.2.3, 192.168.0.1")
	assert.Equal(t, http.StatusOK, serve(router, req3).Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))
}
