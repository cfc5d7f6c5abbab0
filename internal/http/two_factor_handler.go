package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crm-auth/internal/service"
)

type TwoFactorHandler struct {
	logger    *zap.Logger
	twoFactor *service.TwoFactorService
}

func NewTwoFactorHandler(logger *zap.Logger, twoFactor *service.TwoFactorService) *TwoFactorHandler {
	return &TwoFactorHandler{
		logger:    logger,
		twoFactor: twoFactor,
	}
}

// Setup maneja POST /auth/2fa/setup.
func (h *TwoFactorHandler) Setup(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, h.logger, "2fa setup", err)
		return
	}
	setup, err := h.twoFactor.Setup(c.Request.Context(), claims.UserID, req.Password)
	if err != nil {
		writeError(c, h.logger, "2fa setup", err)
		return
	}
	c.JSON(http.StatusOK, setup)
}

// Enable maneja POST /auth/2fa/enable.
func (h *TwoFactorHandler) Enable(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, h.logger, "2fa enable", err)
		return
	}
	if err := h.twoFactor.Enable(c.Request.Context(), claims.UserID, req.Token); err != nil {
		writeError(c, h.logger, "2fa enable", err)
		return
	}
	writeMessage(c, "Two-factor authentication enabled")
}

// Verify maneja POST /auth/login/2fa y su alias POST /auth/2fa/verify.
func (h *TwoFactorHandler) Verify(c *gin.Context) {
	var req struct {
		TempToken string `json:"temp_token" binding:"required"`
		Email     string `json:"email"`
		Token     string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, h.logger, "2fa verify", err)
		return
	}
	pair, err := h.twoFactor.VerifyLogin(c.Request.Context(), req.TempToken, req.Email, req.Token, deviceFrom(c))
	if err != nil {
		writeError(c, h.logger, "2fa verify", err)
		return
	}
	c.JSON(http.StatusOK, tokenBody(pair))
}

// Recover maneja POST /auth/2fa/recover.
func (h *TwoFactorHandler) Recover(c *gin.Context) {
	var req struct {
		TempToken  string `json:"temp_token" binding:"required"`
		BackupCode string `json:"backup_code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, h.logger, "2fa recover", err)
		return
	}
	pair, remaining, err := h.twoFactor.Recover(c.Request.Context(), req.TempToken, req.BackupCode, deviceFrom(c))
	if err != nil {
		writeError(c, h.logger, "2fa recover", err)
		return
	}
	body := tokenBody(pair)
	body["message"] = "Backup code accepted"
	body["remaining_backup_codes"] = remaining
	c.JSON(http.StatusOK, body)
}

// Disable maneja POST /auth/2fa/disable.
func (h *TwoFactorHandler) Disable(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req struct {
		Password string `json:"password" binding:"required"`
		Token    string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, h.logger, "2fa disable", err)
		return
	}
	if err := h.twoFactor.Disable(c.Request.Context(), claims.UserID, req.Password, req.Token); err != nil {
		writeError(c, h.logger, "2fa disable", err)
		return
	}
	writeMessage(c, "Two-factor authentication disabled")
}

// RegenerateBackupCodes maneja POST /auth/2fa/backup-codes.
func (h *TwoFactorHandler) RegenerateBackupCodes(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, h.logger, "2fa backup codes", err)
		return
	}
	codes, err := h.twoFactor.RegenerateBackupCodes(c.Request.Context(), claims.UserID, req.Token)
	if err != nil {
		writeError(c, h.logger, "2fa backup codes", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backup_codes": codes})
}
