package middlewares

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// Readiness lets the server listen before its dependencies are connected.
type Readiness struct {
	ready atomic.Bool
}

func (r *Readiness) MarkReady() {
	r.ready.Store(true)
}

func (r *Readiness) IsReady() bool {
	return r.ready.Load()
}

// Gate answers 503 for everything but the health probe until MarkReady.
func (r *Readiness) Gate(healthPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == healthPath {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if !r.IsReady() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "service is starting",
				"code":  "store_unavailable",
			})
			return
		}
		c.Next()
	}
}
