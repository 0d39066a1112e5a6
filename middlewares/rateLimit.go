package middlewares

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RedisRateLimiter is a fixed window counter per client IP shared by all
// instances. Until a client is attached it limits in-process.
type RedisRateLimiter struct {
	client   atomic.Pointer[redis.Client]
	fallback *LocalRateLimiter
	limit    int64
	window   time.Duration
}

func NewRedisRateLimiter(limit int64, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		fallback: NewLocalRateLimiter(limit, window),
		limit:    limit,
		window:   window,
	}
}

// UseClient attaches the process redis client once it is connected. The
// limiter does not own it.
func (rl *RedisRateLimiter) UseClient(client *redis.Client) {
	rl.client.Store(client)
}

func (rl *RedisRateLimiter) Middleware() gin.HandlerFunc {
	local := rl.fallback.Middleware()
	return func(c *gin.Context) {
		client := rl.client.Load()
		if client == nil {
			local(c)
			return
		}
		key := "ratelimit:" + c.ClientIP()
		ctx := c.Request.Context()

		count, err := client.Incr(ctx, key).Result()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		if count == 1 {
			if err := client.Expire(ctx, key, rl.window).Err(); err != nil {
				c.AbortWithError(http.StatusInternalServerError, err)
				return
			}
		}
		if count > rl.limit {
			tooManyRequests(c, rl.window)
			return
		}
		c.Next()
	}
}

// LocalRateLimiter is the in-process token bucket used when redis is not configured.
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	burst    int
	window   time.Duration
}

func NewLocalRateLimiter(limit int64, window time.Duration) *LocalRateLimiter {
	if limit < 1 {
		limit = 1
	}
	return &LocalRateLimiter{
		limiters: map[string]*rate.Limiter{},
		every:    rate.Every(window / time.Duration(limit)),
		burst:    int(limit),
		window:   window,
	}
}

func (rl *LocalRateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.every, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

func (rl *LocalRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.limiter(c.ClientIP()).Allow() {
			tooManyRequests(c, rl.window)
			return
		}
		c.Next()
	}
}

func tooManyRequests(c *gin.Context, window time.Duration) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(window.Seconds())),
		"code":  "rate_limited",
	})
}
