package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crm-auth/internal/service"
)

var kindStatus = map[service.Kind]int{
	service.KindValidation:   http.StatusBadRequest,
	service.KindConflict:     http.StatusConflict,
	service.KindUnauthorized: http.StatusUnauthorized,
	service.KindForbidden:    http.StatusUnauthorized,
	service.KindInvalid:      http.StatusBadRequest,
	service.KindNotFound:     http.StatusNotFound,
	service.KindRateLimited:  http.StatusTooManyRequests,
	service.KindUnavailable:  http.StatusServiceUnavailable,
}

// writeError traduce un error de servicio a status HTTP y cuerpo {"error","code"}.
func writeError(c *gin.Context, logger *zap.Logger, op string, err error) {
	kind := service.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		logger.Error(op+" failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "code": service.KindInternal})
		return
	}
	if status == http.StatusServiceUnavailable {
		logger.Warn(op+" unavailable", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": service.MessageOf(err), "code": kind})
}

func writeBadRequest(c *gin.Context, logger *zap.Logger, op string, err error) {
	logger.Warn("invalid "+op+" request", zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "code": service.KindValidation})
}

func writeMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{"message": message})
}

func tokenBody(pair service.TokenPair) gin.H {
	return gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_in":    pair.ExpiresIn,
	}
}

func deviceFrom(c *gin.Context) service.Device {
	return service.Device{
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	}
}
