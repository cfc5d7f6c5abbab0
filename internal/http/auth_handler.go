package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crm-auth/internal/service"
)

// AuthHandler expone el orquestador de autenticacion bajo /auth.
type AuthHandler struct {
	logger *zap.Logger
	auth   *service.AuthService
}

func NewAuthHandler(logger *zap.Logger, auth *service.AuthService) *AuthHandler {
	return &AuthHandler{
		logger: logger,
		auth:   auth,
	}
}

// Register maneja POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email         string `json:"email" binding:"required"`
		Password      string `json:"password" binding:"required"`
		DisplayName   string `json:"display_name"`
		WorkspaceName string `json:"workspace_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, h.logger, "register", err)
		return
	}

	result, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Email:         req.Email,
		Password:      req.Password,
		DisplayName:   req.DisplayName,
		WorkspaceName: req.WorkspaceName,
	}, deviceFrom(c))
	if err != nil {
		writeError(c, h.logger, "register", err)
		return
	}

	body := tokenBody(result.Tokens)
	body["user"] = result.User
	body["workspace"] = result.Workspace
	c.JSON(http.StatusCreated, body)
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, h.logger, "login", err)
		return
	}

	result, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, deviceFrom(c))
	if err != nil {
		writeError(c, h.logger, "login", err)
		return
	}
	writeLoginResult(c, result)
}

func writeLoginResult(c *gin.Context, result service.LoginResult) {
	if result.RequiresTwoFactor {
		c.JSON(http.StatusOK, gin.H{
			"requires_two_factor": true,
			"temp_token":          result.TempToken,
		})
		return
	}
	body := tokenBody(result.Tokens)
	body["user"] = result.User
	c.JSON(http.StatusOK, body)
}

// VerifyEmail maneja POST /auth/verify-email.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, h.logger, "verify email", err)
		return
	}
	if err := h.auth.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		writeError(c, h.logger, "verify email", err)
		return
	}
	writeMessage(c, service.MsgEmailVerified)
}

// ResendVerification maneja POST /auth/resend-verification.
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, h.logger, "resend verification", err)
		return
	}
	if err := h.auth.ResendVerification(c.Request.Context(), req.Email); err != nil {
		writeError(c, h.logger, "resend verification", err)
		return
	}
	writeMessage(c, service.MsgVerificationSent)
}

// Refresh maneja POST /auth/refresh. Acepta el refresh token como bearer o en el cuerpo.
func (h *AuthHandler) Refresh(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		var req struct {
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBadRequest(c, h.logger, "refresh", err)
			return
		}
		token = req.RefreshToken
	}

	pair, err := h.auth.Refresh(c.Request.Context(), token)
	if err != nil {
		writeError(c, h.logger, "refresh", err)
		return
	}
	c.JSON(http.StatusOK, tokenBody(pair))
}

// ForgotPassword maneja POST /auth/forgot-password; la respuesta no depende de que el email exista.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, h.logger, "forgot password", err)
		return
	}
	writeMessage(c, h.auth.RequestPasswordReset(c.Request.Context(), req.Email))
}

// ResetPassword maneja POST /auth/reset-password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Token    string `json:"token" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, h.logger, "reset password", err)
		return
	}
	if err := h.auth.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		writeError(c, h.logger, "reset password", err)
		return
	}
	writeMessage(c, service.MsgPasswordReset)
}

// ChangePassword maneja POST /auth/change-password.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password" binding:"required"`
		NewPassword     string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, h.logger, "change password", err)
		return
	}
	if err := h.auth.ChangePassword(c.Request.Context(), claims, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(c, h.logger, "change password", err)
		return
	}
	writeMessage(c, service.MsgPasswordChanged)
}

// Me maneja GET /auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	profile, err := h.auth.Me(c.Request.Context(), claims.UserID)
	if err != nil {
		writeError(c, h.logger, "me", err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// ListSessions maneja GET /auth/sessions.
func (h *AuthHandler) ListSessions(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	sessions, err := h.auth.ListSessions(c.Request.Context(), claims)
	if err != nil {
		writeError(c, h.logger, "list sessions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// RevokeAllSessions maneja DELETE /auth/sessions.
func (h *AuthHandler) RevokeAllSessions(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	n, err := h.auth.RevokeAllSessions(c.Request.Context(), claims)
	if err != nil {
		writeError(c, h.logger, "revoke sessions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": service.MsgSessionsRevoked, "revoked": n})
}

// RevokeSession maneja DELETE /auth/sessions/:id.
func (h *AuthHandler) RevokeSession(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	if err := h.auth.RevokeSession(c.Request.Context(), claims, c.Param("id")); err != nil {
		writeError(c, h.logger, "revoke session", err)
		return
	}
	writeMessage(c, service.MsgSessionRevoked)
}

// Logout maneja POST /auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	h.auth.Logout(c.Request.Context(), claims)
	writeMessage(c, service.MsgLoggedOut)
}

// GoogleStart maneja GET /auth/google.
func (h *AuthHandler) GoogleStart(c *gin.Context) {
	redirectURL, err := h.auth.OAuthStart(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "oauth start", err)
		return
	}
	c.Redirect(http.StatusFound, redirectURL)
}

// GoogleCallback maneja GET /auth/google/callback.
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	if providerErr := strings.TrimSpace(c.Query("error")); providerErr != "" {
		h.logger.Warn("oauth provider returned error", zap.String("error", providerErr))
		writeError(c, h.logger, "oauth callback", service.ErrOAuthInvalid)
		return
	}
	result, err := h.auth.OAuthCallback(c.Request.Context(), c.Query("state"), c.Query("code"), deviceFrom(c))
	if err != nil {
		writeError(c, h.logger, "oauth callback", err)
		return
	}
	writeLoginResult(c, result)
}

func requireClaims(c *gin.Context) (service.Claims, bool) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token", "code": service.KindUnauthorized})
	}
	return claims, ok
}
