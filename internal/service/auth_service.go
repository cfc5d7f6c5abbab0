package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"crm-auth/internal/domain"
	"crm-auth/internal/email"
	"crm-auth/internal/metrics"
	"crm-auth/internal/repository"
)

const (
	MsgEmailVerified          = "Email verified successfully"
	MsgVerificationSent       = "If the account exists and is pending verification, a new verification email has been sent"
	MsgPasswordResetRequested = "If an account exists for that email, a password reset link has been sent"
	MsgPasswordReset          = "Password has been reset successfully"
	MsgPasswordChanged        = "Password changed successfully"
	MsgLoggedOut              = "Logged out successfully"
	MsgSessionsRevoked        = "All sessions have been revoked"
	MsgSessionRevoked         = "Session revoked"

	maxSlugAttempts  = 5
	maxSlugLength    = 48
	maxPasswordBytes = 72
)

// AuthConfig agrupa los parametros de negocio del orquestador.
type AuthConfig struct {
	AppBaseURL        string
	PasswordMinLength int
	VerificationTTL   time.Duration
	ResetTTL          time.Duration
}

// AuthServiceDeps son las dependencias que se inyectan al construir AuthService.
type AuthServiceDeps struct {
	Users        repository.UserRepository
	Workspaces   repository.WorkspaceRepository
	Tokens       repository.TokenRepository
	Sessions     *SessionService
	JWT          *JWTService
	Email        email.Sender
	DenyList     AccessDenyList
	EmailLimiter RateLimiter
	OAuth        OAuthProvider
	OAuthStates  OAuthStateStore
	Metrics      *metrics.Metrics
}

// AuthService coordina registro, login, verificacion, recuperacion y sesiones.
type AuthService struct {
	logger       *zap.Logger
	cfg          AuthConfig
	users        repository.UserRepository
	workspaces   repository.WorkspaceRepository
	tokens       repository.TokenRepository
	sessions     *SessionService
	jwt          *JWTService
	emailSender  email.Sender
	denyList     AccessDenyList
	emailLimiter RateLimiter
	oauth        OAuthProvider
	oauthStates  OAuthStateStore
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewAuthService(logger *zap.Logger, cfg AuthConfig, deps AuthServiceDeps) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PasswordMinLength <= 0 {
		cfg.PasswordMinLength = 8
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	cfg.AppBaseURL = strings.TrimRight(cfg.AppBaseURL, "/")
	if deps.EmailLimiter == nil {
		deps.EmailLimiter = NewMemoryRateLimiter(15*time.Minute, 3)
	}
	if deps.DenyList == nil {
		deps.DenyList = NewMemoryDenyList()
	}
	if deps.OAuthStates == nil {
		deps.OAuthStates = NewMemoryStateStore()
	}
	if deps.Email == nil {
		deps.Email = email.NewDisabledSender("email sender not configured")
	}
	return &AuthService{
		logger:       logger,
		cfg:          cfg,
		users:        deps.Users,
		workspaces:   deps.Workspaces,
		tokens:       deps.Tokens,
		sessions:     deps.Sessions,
		jwt:          deps.JWT,
		emailSender:  deps.Email,
		denyList:     deps.DenyList,
		emailLimiter: deps.EmailLimiter,
		oauth:        deps.OAuth,
		oauthStates:  deps.OAuthStates,
		metrics:      deps.Metrics,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type RegisterInput struct {
	Email         string
	Password      string
	DisplayName   string
	WorkspaceName string
}

type AuthResult struct {
	User      domain.User      `json:"user"`
	Workspace domain.Workspace `json:"workspace"`
	Tokens    TokenPair        `json:"tokens"`
}

// LoginResult lleva tokens o, si la cuenta tiene 2FA, el token temporal del desafio.
type LoginResult struct {
	User              domain.User
	Tokens            TokenPair
	RequiresTwoFactor bool
	TempToken         string
}

type Profile struct {
	User       domain.User        `json:"user"`
	Workspaces []domain.Workspace `json:"workspaces"`
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput, device Device) (AuthResult, error) {
	emailAddr, err := validateEmail(input.Email)
	if err != nil {
		return AuthResult{}, err
	}
	if err := s.validatePassword(input.Password); err != nil {
		return AuthResult{}, err
	}

	if _, err := s.users.GetByEmail(ctx, emailAddr); err == nil {
		return AuthResult{}, ErrEmailTaken
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return AuthResult{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	displayName := strings.TrimSpace(input.DisplayName)
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        emailAddr,
		DisplayName:  displayName,
		Status:       domain.UserStatusPending,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	workspace, err := s.createWithWorkspace(ctx, user, workspaceName(input.WorkspaceName, displayName, emailAddr))
	if err != nil {
		return AuthResult{}, err
	}

	s.sendVerification(ctx, user)

	_, pair, err := s.sessions.Create(ctx, user, workspace.ID, device)
	if err != nil {
		return AuthResult{}, err
	}
	s.metrics.Registered()
	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("workspace_id", workspace.ID))
	return AuthResult{User: user, Workspace: workspace, Tokens: pair}, nil
}

// createWithWorkspace inserta usuario, workspace y membresia; reintenta con sufijo si el slug esta tomado.
func (s *AuthService) createWithWorkspace(ctx context.Context, user domain.User, name string) (domain.Workspace, error) {
	base := slugify(name)
	slug := base
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		workspace := domain.Workspace{
			ID:        uuid.NewString(),
			Name:      name,
			Slug:      slug,
			CreatedAt: user.CreatedAt,
		}
		err := s.users.Create(ctx, user, workspace)
		switch {
		case err == nil:
			return workspace, nil
		case errors.Is(err, repository.ErrDuplicateEmail):
			return domain.Workspace{}, ErrEmailTaken
		case errors.Is(err, repository.ErrDuplicateSlug):
			suffix, sErr := randomHex(3)
			if sErr != nil {
				return domain.Workspace{}, sErr
			}
			slug = base + "-" + suffix
		default:
			return domain.Workspace{}, fmt.Errorf("create user: %w", err)
		}
	}
	return domain.Workspace{}, fmt.Errorf("create user: could not allocate a workspace slug for %q", base)
}

func (s *AuthService) Login(ctx context.Context, emailAddr, password string, device Device) (LoginResult, error) {
	user, err := s.authenticate(ctx, emailAddr, password)
	if err != nil {
		s.metrics.Login("invalid_credentials")
		return LoginResult{}, err
	}
	if err := checkStatus(user); err != nil {
		s.metrics.Login("blocked")
		return LoginResult{}, err
	}
	result, err := s.startSession(ctx, user, device)
	if err != nil {
		return LoginResult{}, err
	}
	if result.RequiresTwoFactor {
		s.metrics.Login("two_factor_required")
	} else {
		s.metrics.Login("success")
	}
	return result, nil
}

func (s *AuthService) authenticate(ctx context.Context, emailAddr, password string) (domain.User, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" || password == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !user.HasPassword() {
		return domain.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// startSession emite tokens, o el desafio 2FA si la cuenta lo tiene activo.
func (s *AuthService) startSession(ctx context.Context, user domain.User, device Device) (LoginResult, error) {
	workspaceID, err := s.primaryWorkspace(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	if user.TwoFactorEnabled {
		temp, err := s.jwt.GenerateTwoFactorToken(TokenSubject{
			UserID:      user.ID,
			Email:       user.Email,
			WorkspaceID: workspaceID,
		})
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{User: user, RequiresTwoFactor: true, TempToken: temp}, nil
	}
	_, pair, err := s.sessions.Create(ctx, user, workspaceID, device)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user, Tokens: pair}, nil
}

func (s *AuthService) primaryWorkspace(ctx context.Context, userID string) (string, error) {
	workspaces, err := s.workspaces.ListByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("list workspaces: %w", err)
	}
	if len(workspaces) == 0 {
		return "", nil
	}
	return workspaces[0].ID, nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, rawToken string) error {
	token, err := s.consumeToken(ctx, rawToken, domain.TokenTypeEmailVerification)
	if err != nil {
		return err
	}
	if err := s.users.MarkVerified(ctx, token.UserID, s.now()); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("mark verified: %w", err)
	}
	s.logger.Info("email verified", zap.String("user_id", token.UserID))
	return nil
}

// ResendVerification emite un token nuevo y deja sin efecto los anteriores.
// Un email desconocido recibe la misma respuesta que uno pendiente.
func (s *AuthService) ResendVerification(ctx context.Context, emailAddr string) error {
	emailAddr, err := validateEmail(emailAddr)
	if err != nil {
		return err
	}
	if ok, _ := s.emailLimiter.Allow(ctx, "verify:"+emailAddr); !ok {
		return ErrRateLimited
	}
	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	switch user.Status {
	case domain.UserStatusActive:
		return ErrAlreadyVerified
	case domain.UserStatusDisabled:
		return nil
	}

	raw, expiresAt, err := s.issueToken(ctx, user.ID, domain.TokenTypeEmailVerification, s.cfg.VerificationTTL)
	if err != nil {
		return err
	}
	if err := s.emailSender.SendVerificationEmail(ctx, user.Email, s.link("/verify-email", raw), expiresAt); err != nil {
		s.logger.Warn("send verification email failed", zap.Error(err), zap.String("user_id", user.ID))
		return ErrEmailSendFailure
	}
	return nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.jwt.ParseRefreshToken(refreshToken)
	if err != nil {
		s.metrics.Refresh("invalid")
		return TokenPair{}, ErrRefreshInvalid
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.metrics.Refresh("invalid")
			return TokenPair{}, ErrRefreshInvalid
		}
		return TokenPair{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.Status == domain.UserStatusDisabled {
		s.metrics.Refresh("blocked")
		return TokenPair{}, ErrAccountDisabled
	}
	pair, err := s.sessions.Rotate(ctx, claims, user.Email)
	switch {
	case err == nil:
		s.metrics.Refresh("success")
	case errors.Is(err, ErrRefreshReused):
		s.metrics.Refresh("reused")
	default:
		s.metrics.Refresh("invalid")
	}
	return pair, err
}

// RequestPasswordReset responde siempre lo mismo, exista o no la cuenta.
func (s *AuthService) RequestPasswordReset(ctx context.Context, emailAddr string) string {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return MsgPasswordResetRequested
	}
	if ok, _ := s.emailLimiter.Allow(ctx, "reset:"+emailAddr); !ok {
		return MsgPasswordResetRequested
	}
	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Error("lookup user for password reset failed", zap.Error(err))
		}
		return MsgPasswordResetRequested
	}
	if user.Status == domain.UserStatusDisabled {
		return MsgPasswordResetRequested
	}
	raw, expiresAt, err := s.issueToken(ctx, user.ID, domain.TokenTypePasswordReset, s.cfg.ResetTTL)
	if err != nil {
		s.logger.Error("issue password reset token failed", zap.Error(err), zap.String("user_id", user.ID))
		return MsgPasswordResetRequested
	}
	if err := s.emailSender.SendPasswordReset(ctx, user.Email, s.link("/reset-password", raw), expiresAt); err != nil {
		s.logger.Warn("send password reset email failed", zap.Error(err), zap.String("user_id", user.ID))
	}
	return MsgPasswordResetRequested
}

// ResetPassword cambia la contraseña y revoca todas las sesiones del usuario.
func (s *AuthService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if err := s.validatePassword(newPassword); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	token, err := s.consumeToken(ctx, rawToken, domain.TokenTypePasswordReset)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, token.UserID, string(hash)); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("update password: %w", err)
	}
	revoked, err := s.sessions.RevokeAll(ctx, token.UserID)
	if err != nil {
		return err
	}
	s.logger.Info("password reset", zap.String("user_id", token.UserID), zap.Int64("sessions_revoked", revoked))
	return nil
}

// ChangePassword exige la contraseña actual y cierra las demas sesiones.
func (s *AuthService) ChangePassword(ctx context.Context, claims Claims, currentPassword, newPassword string) error {
	user, err := s.loadUser(ctx, claims.UserID)
	if err != nil {
		return err
	}
	if !user.HasPassword() {
		return ErrPasswordNotConfigured
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return ErrInvalidCredentials
	}
	if err := s.validatePassword(newPassword); err != nil {
		return err
	}
	if currentPassword == newPassword {
		return ErrSamePassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	_, err = s.sessions.RevokeAllExcept(ctx, user.ID, claims.SessionID)
	return err
}

// Logout revoca la sesion del token y agrega su jti a la deny-list.
// Los fallos se registran pero no cortan la respuesta.
func (s *AuthService) Logout(ctx context.Context, claims Claims) {
	if err := s.sessions.Revoke(ctx, claims.UserID, claims.SessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		s.logger.Warn("revoke session on logout failed", zap.Error(err), zap.String("session_id", claims.SessionID))
	}
	s.denyAccessToken(ctx, claims)
}

func (s *AuthService) ListSessions(ctx context.Context, claims Claims) ([]SessionView, error) {
	return s.sessions.List(ctx, claims.UserID, claims.SessionID)
}

func (s *AuthService) RevokeAllSessions(ctx context.Context, claims Claims) (int64, error) {
	n, err := s.sessions.RevokeAll(ctx, claims.UserID)
	if err != nil {
		return 0, err
	}
	s.denyAccessToken(ctx, claims)
	return n, nil
}

func (s *AuthService) RevokeSession(ctx context.Context, claims Claims, sessionID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return ErrSessionNotFound
	}
	if err := s.sessions.Revoke(ctx, claims.UserID, sessionID); err != nil {
		return err
	}
	if sessionID == claims.SessionID {
		s.denyAccessToken(ctx, claims)
	}
	return nil
}

func (s *AuthService) denyAccessToken(ctx context.Context, claims Claims) {
	ttl := claims.ExpiresAtTime().Sub(s.now())
	if err := s.denyList.Revoke(ctx, claims.ID, ttl); err != nil {
		s.logger.Warn("deny access token failed", zap.Error(err), zap.String("user_id", claims.UserID))
	}
}

// IsAccessRevoked consulta la deny-list para el middleware JWT.
func (s *AuthService) IsAccessRevoked(ctx context.Context, jti string) (bool, error) {
	return s.denyList.IsRevoked(ctx, jti)
}

func (s *AuthService) Me(ctx context.Context, userID string) (Profile, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	workspaces, err := s.workspaces.ListByUser(ctx, user.ID)
	if err != nil {
		return Profile{}, fmt.Errorf("list workspaces: %w", err)
	}
	if workspaces == nil {
		workspaces = []domain.Workspace{}
	}
	return Profile{User: user, Workspaces: workspaces}, nil
}

func (s *AuthService) loadUser(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// OAuthStart devuelve la URL de consentimiento del proveedor con un state de un solo uso.
func (s *AuthService) OAuthStart(ctx context.Context) (string, error) {
	if s.oauth == nil {
		return "", ErrOAuthNotConfigured
	}
	state, err := newOAuthState()
	if err != nil {
		return "", err
	}
	if err := s.oauthStates.Save(ctx, state, oauthStateTTL); err != nil {
		return "", fmt.Errorf("%w: %w", ErrOAuthUnavailable, err)
	}
	return s.oauth.AuthCodeURL(state), nil
}

func (s *AuthService) OAuthCallback(ctx context.Context, state, code string, device Device) (LoginResult, error) {
	if s.oauth == nil {
		return LoginResult{}, ErrOAuthNotConfigured
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return LoginResult{}, ErrOAuthState
	}
	if strings.TrimSpace(code) == "" {
		return LoginResult{}, ErrOAuthInvalid
	}
	ok, err := s.oauthStates.Consume(ctx, state)
	if err != nil {
		return LoginResult{}, fmt.Errorf("%w: %w", ErrOAuthUnavailable, err)
	}
	if !ok {
		return LoginResult{}, ErrOAuthState
	}
	profile, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("oauth exchange failed", zap.Error(err), zap.String("provider", s.oauth.Name()))
		return LoginResult{}, err
	}
	return s.OAuthLogin(ctx, profile, device)
}

// OAuthLogin busca la cuenta por proveedor, la vincula por email verificado o la crea.
func (s *AuthService) OAuthLogin(ctx context.Context, profile OAuthProfile, device Device) (LoginResult, error) {
	provider := strings.ToLower(strings.TrimSpace(profile.Provider))
	subject := strings.TrimSpace(profile.Subject)
	if provider == "" || subject == "" {
		return LoginResult{}, ErrOAuthInvalid
	}

	user, err := s.users.GetByAuth(ctx, provider, subject)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		user, err = s.linkOrCreateOAuthUser(ctx, provider, subject, profile)
		if err != nil {
			return LoginResult{}, err
		}
	default:
		return LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}

	if user.Status == domain.UserStatusDisabled {
		s.metrics.Login("blocked")
		return LoginResult{}, ErrAccountDisabled
	}
	result, err := s.startSession(ctx, user, device)
	if err != nil {
		return LoginResult{}, err
	}
	s.metrics.Login("oauth")
	return result, nil
}

func (s *AuthService) linkOrCreateOAuthUser(ctx context.Context, provider, subject string, profile OAuthProfile) (domain.User, error) {
	emailAddr, err := validateEmail(profile.Email)
	if err != nil || !profile.EmailVerified {
		return domain.User{}, ErrOAuthInvalid
	}
	now := s.now()

	existing, err := s.users.GetByEmail(ctx, emailAddr)
	if err == nil {
		if err := s.users.LinkOAuth(ctx, existing.ID, provider, subject); err != nil {
			return domain.User{}, fmt.Errorf("link oauth: %w", err)
		}
		if existing.Status == domain.UserStatusPending {
			if err := s.users.MarkVerified(ctx, existing.ID, now); err != nil {
				return domain.User{}, fmt.Errorf("mark verified: %w", err)
			}
			existing.Status = domain.UserStatusActive
			existing.EmailVerifiedAt = &now
		}
		existing.AuthProvider = provider
		existing.AuthSubject = subject
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}

	displayName := strings.TrimSpace(profile.DisplayName)
	user := domain.User{
		ID:              uuid.NewString(),
		Email:           emailAddr,
		DisplayName:     displayName,
		Status:          domain.UserStatusActive,
		AuthProvider:    provider,
		AuthSubject:     subject,
		EmailVerifiedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := s.createWithWorkspace(ctx, user, workspaceName("", displayName, emailAddr)); err != nil {
		return domain.User{}, err
	}
	s.logger.Info("oauth user created", zap.String("user_id", user.ID), zap.String("provider", provider))
	return user, nil
}

func (s *AuthService) sendVerification(ctx context.Context, user domain.User) {
	raw, expiresAt, err := s.issueToken(ctx, user.ID, domain.TokenTypeEmailVerification, s.cfg.VerificationTTL)
	if err != nil {
		s.logger.Error("issue verification token failed", zap.Error(err), zap.String("user_id", user.ID))
		return
	}
	if err := s.emailSender.SendVerificationEmail(ctx, user.Email, s.link("/verify-email", raw), expiresAt); err != nil {
		s.logger.Warn("send verification email failed", zap.Error(err), zap.String("user_id", user.ID))
	}
}

// issueToken crea un token de un solo uso e invalida los pendientes del mismo tipo.
func (s *AuthService) issueToken(ctx context.Context, userID string, tokenType domain.TokenType, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	if err := s.tokens.InvalidateUnused(ctx, userID, tokenType, now); err != nil {
		return "", time.Time{}, fmt.Errorf("invalidate tokens: %w", err)
	}
	raw, err := newOpaqueToken()
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := now.Add(ttl)
	token := domain.AuthToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      tokenType,
		TokenHash: hashToken(raw),
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return "", time.Time{}, fmt.Errorf("create token: %w", err)
	}
	return raw, expiresAt, nil
}

func (s *AuthService) consumeToken(ctx context.Context, rawToken string, tokenType domain.TokenType) (domain.AuthToken, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return domain.AuthToken{}, ErrTokenInvalid
	}
	token, err := s.tokens.Consume(ctx, hashToken(rawToken), tokenType, s.now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AuthToken{}, ErrTokenInvalid
		}
		return domain.AuthToken{}, fmt.Errorf("consume token: %w", err)
	}
	return token, nil
}

func (s *AuthService) link(path, rawToken string) string {
	return s.cfg.AppBaseURL + path + "?token=" + url.QueryEscape(rawToken)
}

// validatePassword aplica el minimo configurado y el limite de bcrypt en bytes.
func (s *AuthService) validatePassword(password string) error {
	if utf8.RuneCountInString(password) < s.cfg.PasswordMinLength {
		return ErrWeakPassword
	}
	if len(password) > maxPasswordBytes {
		return ErrLongPassword
	}
	return nil
}

func checkStatus(user domain.User) error {
	switch user.Status {
	case domain.UserStatusPending:
		return ErrEmailNotVerified
	case domain.UserStatusDisabled:
		return ErrAccountDisabled
	default:
		return nil
	}
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func validateEmail(raw string) (string, error) {
	emailAddr := normalizeEmail(raw)
	if emailAddr == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(emailAddr)
	if err != nil || addr.Address != emailAddr || !strings.Contains(emailAddr[strings.LastIndex(emailAddr, "@"):], ".") {
		return "", ErrInvalidEmail
	}
	return emailAddr, nil
}

func workspaceName(requested, displayName, emailAddr string) string {
	if name := strings.TrimSpace(requested); name != "" {
		return name
	}
	owner := displayName
	if owner == "" {
		owner, _, _ = strings.Cut(emailAddr, "@")
	}
	return owner + "'s Workspace"
}

func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.Trim(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return "workspace"
	}
	return slug
}

func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
