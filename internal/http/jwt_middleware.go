package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crm-auth/internal/service"
)

const authClaimsKey = "auth_claims"

// JWTAuthMiddleware valida access tokens, consulta la deny-list y guarda claims en el contexto.
func JWTAuthMiddleware(logger *zap.Logger, jwtSvc *service.JWTService, denyList service.AccessDenyList) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtSvc == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "jwt not configured", "code": service.KindInternal})
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token", "code": service.KindUnauthorized})
			return
		}

		claims, err := jwtSvc.ParseAccessToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": service.MessageOf(err), "code": service.KindUnauthorized})
			return
		}

		if denyList != nil {
			revoked, err := denyList.IsRevoked(c.Request.Context(), claims.ID)
			if err != nil {
				logger.Warn("deny-list lookup failed", zap.Error(err))
			}
			if revoked {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": service.ErrTokenRevoked.Message, "code": service.KindUnauthorized})
				return
			}
		}

		c.Set(authClaimsKey, claims)
		c.Next()
	}
}

// GetAuthClaims obtiene claims de JWT desde el contexto.
func GetAuthClaims(c *gin.Context) (service.Claims, bool) {
	val, ok := c.Get(authClaimsKey)
	if !ok {
		return service.Claims{}, false
	}
	claims, ok := val.(service.Claims)
	return claims, ok
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	return token, token != ""
}
