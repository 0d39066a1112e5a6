package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/mmdatafocus/txsummary/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReadinessGate(t *testing.T) {
	var ready Readiness
	r := gin.New()
	r.Use(ready.Gate("/healthz"))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusNoContent, serve(r, "/healthz", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, "/ping", nil).Code)

	ready.MarkReady()
	assert.True(t, ready.IsReady())
	assert.Equal(t, http.StatusOK, serve(r, "/ping", nil).Code)
}

func TestCorrelationId(t *testing.T) {
	var seen string
	r := gin.New()
	r.Use(CorrelationId())
	r.GET("/", func(c *gin.Context) {
		seen, _ = utils.GetCorrelationIdFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := serve(r, "/", http.Header{"X-Correlation-Id": {"abc"}})
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", w.Header().Get(CorrelationIdHeader))

	w = serve(r, "/", nil)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(CorrelationIdHeader))
}

func TestLocalRateLimiter(t *testing.T) {
	r := gin.New()
	r.Use(NewLocalRateLimiter(2, time.Hour).Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, "/", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, "/", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, "/", nil).Code)
}

func TestRedisRateLimiter_UsesAttachedClient(t *testing.T) {
	rl := NewRedisRateLimiter(1, time.Hour)
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	// no client yet: in-process limiting
	assert.Equal(t, http.StatusOK, serve(r, "/", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, "/", nil).Code)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	rl.UseClient(client)

	// the attached client is unreachable, so the request fails instead of
	// being counted locally
	assert.Equal(t, http.StatusInternalServerError, serve(r, "/", nil).Code)
}
