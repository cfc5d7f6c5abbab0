package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mssola/useragent"
	"go.uber.org/zap"

	"crm-auth/internal/domain"
	"crm-auth/internal/repository"
)

// Device describe el cliente que abre o usa una sesion.
type Device struct {
	UserAgent string
	IPAddress string
}

// Label arma una etiqueta legible del dispositivo, por ejemplo "Chrome on Mac OS X".
func (d Device) Label() string {
	raw := strings.TrimSpace(d.UserAgent)
	if raw == "" {
		return "Unknown device"
	}
	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	platform := ua.OSInfo().Name
	switch {
	case browser != "" && platform != "":
		return browser + " on " + platform
	case browser != "":
		return browser
	case platform != "":
		return platform
	default:
		return "Unknown device"
	}
}

// SessionView es el resumen de sesion que se expone al usuario.
type SessionView struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Device      string    `json:"device"`
	UserAgent   string    `json:"user_agent,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Current     bool      `json:"current"`
}

// SessionService registra sesiones por dispositivo y rota sus refresh tokens.
type SessionService struct {
	logger   *zap.Logger
	sessions repository.SessionRepository
	jwt      *JWTService
	now      func() time.Time
}

func NewSessionService(logger *zap.Logger, sessions repository.SessionRepository, jwtSvc *JWTService) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		logger:   logger,
		sessions: sessions,
		jwt:      jwtSvc,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create abre una sesion nueva y emite su primer par de tokens.
func (s *SessionService) Create(ctx context.Context, user domain.User, workspaceID string, device Device) (domain.Session, TokenPair, error) {
	now := s.now()
	session := domain.Session{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		WorkspaceID: workspaceID,
		RefreshJTI:  uuid.NewString(),
		UserAgent:   strings.TrimSpace(device.UserAgent),
		Device:      device.Label(),
		IPAddress:   strings.TrimSpace(device.IPAddress),
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   now.Add(s.jwt.RefreshTTL()),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return domain.Session{}, TokenPair{}, fmt.Errorf("create session: %w", err)
	}
	pair, err := s.jwt.GeneratePair(TokenSubject{
		UserID:      user.ID,
		Email:       user.Email,
		WorkspaceID: workspaceID,
		SessionID:   session.ID,
	}, session.RefreshJTI)
	if err != nil {
		return domain.Session{}, TokenPair{}, err
	}
	return session, pair, nil
}

// Rotate canjea un refresh token ya validado por un par nuevo.
// Solo una rotacion por jti puede ganar; si el jti presentado ya fue rotado
// y la sesion sigue viva, se trata como reuso y se revoca la sesion.
func (s *SessionService) Rotate(ctx context.Context, claims Claims, email string) (TokenPair, error) {
	if claims.SessionID == "" || claims.ID == "" {
		return TokenPair{}, ErrRefreshInvalid
	}
	now := s.now()
	newJTI := uuid.NewString()
	ok, err := s.sessions.Rotate(ctx, claims.SessionID, claims.ID, newJTI, now, now.Add(s.jwt.RefreshTTL()))
	if err != nil {
		return TokenPair{}, fmt.Errorf("rotate session: %w", err)
	}
	if !ok {
		return TokenPair{}, s.rejectRotation(ctx, claims, now)
	}

	subject := claims.TokenSubject()
	if email != "" {
		subject.Email = email
	}
	return s.jwt.GeneratePair(subject, newJTI)
}

func (s *SessionService) rejectRotation(ctx context.Context, claims Claims, now time.Time) error {
	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRefreshInvalid
		}
		return fmt.Errorf("load session: %w", err)
	}
	if session.UserID != claims.UserID || !session.Active(now) {
		return ErrRefreshInvalid
	}
	if _, err := s.sessions.Revoke(ctx, session.UserID, session.ID, now); err != nil {
		s.logger.Warn("revoke session after refresh reuse failed", zap.Error(err), zap.String("session_id", session.ID))
	}
	s.logger.Warn("refresh token reuse detected", zap.String("user_id", session.UserID), zap.String("session_id", session.ID))
	return ErrRefreshReused
}

// List devuelve las sesiones activas del usuario, marcando la actual.
func (s *SessionService) List(ctx context.Context, userID, currentSessionID string) ([]SessionView, error) {
	sessions, err := s.sessions.ListActiveByUser(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	views := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, SessionView{
			ID:          sess.ID,
			WorkspaceID: sess.WorkspaceID,
			Device:      sess.Device,
			UserAgent:   sess.UserAgent,
			IPAddress:   sess.IPAddress,
			CreatedAt:   sess.CreatedAt,
			LastUsedAt:  sess.LastUsedAt,
			ExpiresAt:   sess.ExpiresAt,
			Current:     sess.ID == currentSessionID,
		})
	}
	return views, nil
}

func (s *SessionService) Revoke(ctx context.Context, userID, sessionID string) error {
	ok, err := s.sessions.Revoke(ctx, userID, sessionID, s.now())
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAll revoca todas las sesiones del usuario en una sola sentencia.
func (s *SessionService) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.sessions.RevokeAll(ctx, userID, s.now())
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return n, nil
}

func (s *SessionService) RevokeAllExcept(ctx context.Context, userID, keepSessionID string) (int64, error) {
	n, err := s.sessions.RevokeAllExcept(ctx, userID, keepSessionID, s.now())
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return n, nil
}
