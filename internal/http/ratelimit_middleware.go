package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"crm-auth/internal/metrics"
	"crm-auth/internal/service"
)

// RateLimitMiddleware aplica un techo de peticiones por scope e IP de cliente.
func RateLimitMiddleware(limiter service.RateLimiter, scope string, window time.Duration, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		allowed, wait := limiter.Allow(c.Request.Context(), scope+":"+c.ClientIP())
		if allowed {
			c.Next()
			return
		}
		m.Limited(scope)
		c.Header("Retry-After", retryAfterSeconds(wait, window))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": service.ErrRateLimited.Message,
			"code":  service.KindRateLimited,
		})
	}
}

// retryAfterSeconds redondea hacia arriba; nunca devuelve menos de 1.
func retryAfterSeconds(wait, window time.Duration) string {
	if wait <= 0 {
		wait = window
	}
	seconds := int64((wait + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}
