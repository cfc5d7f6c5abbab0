package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"crm-auth/internal/metrics"
	"crm-auth/internal/service"
)

// RouterDeps agrupa lo que necesita el router; todo se construye una vez en main.
type RouterDeps struct {
	Logger          *zap.Logger
	Auth            *AuthHandler
	TwoFactor       *TwoFactorHandler
	JWT             *service.JWTService
	DenyList        service.AccessDenyList
	Limiter         service.RateLimiter
	RateLimitWindow time.Duration
	Metrics         *metrics.Metrics
	Gatherer        prometheus.Gatherer
}

// NewRouter configura el router de Gin con middlewares y rutas de /auth.
func NewRouter(deps RouterDeps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	limit := func(scope string) gin.HandlerFunc {
		return RateLimitMiddleware(deps.Limiter, scope, deps.RateLimitWindow, deps.Metrics)
	}
	requireAuth := JWTAuthMiddleware(logger, deps.JWT, deps.DenyList)

	auth := r.Group("/auth")
	auth.POST("/register", limit("register"), deps.Auth.Register)
	auth.POST("/login", limit("login"), deps.Auth.Login)
	auth.POST("/login/2fa", limit("login_2fa"), deps.TwoFactor.Verify)
	auth.POST("/verify-email", limit("verify_email"), deps.Auth.VerifyEmail)
	auth.POST("/resend-verification", limit("resend_verification"), deps.Auth.ResendVerification)
	auth.POST("/refresh", limit("refresh"), deps.Auth.Refresh)
	auth.POST("/forgot-password", limit("forgot_password"), deps.Auth.ForgotPassword)
	auth.POST("/reset-password", limit("reset_password"), deps.Auth.ResetPassword)
	auth.GET("/google", deps.Auth.GoogleStart)
	auth.GET("/google/callback", limit("oauth_callback"), deps.Auth.GoogleCallback)

	twoFactor := auth.Group("/2fa")
	twoFactor.POST("/verify", limit("login_2fa"), deps.TwoFactor.Verify)
	twoFactor.POST("/recover", limit("recover_2fa"), deps.TwoFactor.Recover)

	protected := auth.Group("", requireAuth)
	protected.GET("/me", deps.Auth.Me)
	protected.POST("/change-password", deps.Auth.ChangePassword)
	protected.POST("/logout", deps.Auth.Logout)
	protected.GET("/sessions", deps.Auth.ListSessions)
	protected.DELETE("/sessions", deps.Auth.RevokeAllSessions)
	protected.DELETE("/sessions/:id", deps.Auth.RevokeSession)
	protected.POST("/2fa/setup", deps.TwoFactor.Setup)
	protected.POST("/2fa/enable", deps.TwoFactor.Enable)
	protected.POST("/2fa/disable", deps.TwoFactor.Disable)
	protected.POST("/2fa/backup-codes", deps.TwoFactor.RegenerateBackupCodes)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
