package httpapi

import (
	"net/http"
	"sync"

	"prank-platform/internal/auth"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// maxTrackedCallers bounds the limiter map; idle limiters are evicted past it.
const maxTrackedCallers = 10000

// RateLimiter throttles ops API calls per user (per client IP before auth).
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(float64(requestsPerMinute) / 60.0),
		b:        burst,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[key]
	if ok {
		return l
	}
	if len(rl.limiters) >= maxTrackedCallers {
		for k, idle := range rl.limiters {
			if idle.Tokens() >= float64(rl.b) {
				delete(rl.limiters, k)
			}
		}
	}
	l = rate.NewLimiter(rl.r, rl.b)
	rl.limiters[key] = l
	return l
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if uid, err := auth.UserID(c.Request.Context()); err == nil {
			key = "user:" + uid
		}
		if !rl.limiter(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
