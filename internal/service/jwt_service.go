package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess    = "access"
	TokenTypeRefresh   = "refresh"
	TokenTypeTwoFactor = "2fa"
)

// JWTService emite y valida tokens JWT.
type JWTService struct {
	secret       []byte
	issuer       string
	accessTTL    time.Duration
	refreshTTL   time.Duration
	twoFactorTTL time.Duration
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenSubject son los datos de identidad que viajan en cada token.
type TokenSubject struct {
	UserID      string
	Email       string
	WorkspaceID string
	SessionID   string
}

type Claims struct {
	UserID      string `json:"uid"`
	WorkspaceID string `json:"wid,omitempty"`
	SessionID   string `json:"sid,omitempty"`
	Email       string `json:"email"`
	TokenType   string `json:"typ"`
	jwt.RegisteredClaims
}

func (c Claims) TokenSubject() TokenSubject {
	return TokenSubject{
		UserID:      c.UserID,
		Email:       c.Email,
		WorkspaceID: c.WorkspaceID,
		SessionID:   c.SessionID,
	}
}

// ExpiresAtTime devuelve la expiracion del token o el instante cero si no tiene.
func (c Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

func NewJWTService(secret, issuer string, accessTTL, refreshTTL, twoFactorTTL time.Duration) *JWTService {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	if twoFactorTTL <= 0 {
		twoFactorTTL = 5 * time.Minute
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = "crm-auth"
	}
	return &JWTService{
		secret:       []byte(secret),
		issuer:       issuer,
		accessTTL:    accessTTL,
		refreshTTL:   refreshTTL,
		twoFactorTTL: twoFactorTTL,
	}
}

func (s *JWTService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *JWTService) RefreshTTL() time.Duration { return s.refreshTTL }

// GeneratePair firma un access token nuevo y un refresh token con el jti indicado.
func (s *JWTService) GeneratePair(subject TokenSubject, refreshJTI string) (TokenPair, error) {
	if len(s.secret) == 0 || strings.TrimSpace(refreshJTI) == "" {
		return TokenPair{}, ErrJWTInvalid
	}
	now := time.Now().UTC()
	access, err := s.sign(subject, TokenTypeAccess, uuid.NewString(), now, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(subject, TokenTypeRefresh, refreshJTI, now, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// GenerateTwoFactorToken emite el token temporal del desafio 2FA.
func (s *JWTService) GenerateTwoFactorToken(subject TokenSubject) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrJWTInvalid
	}
	return s.sign(subject, TokenTypeTwoFactor, uuid.NewString(), time.Now().UTC(), s.twoFactorTTL)
}

func (s *JWTService) ParseAccessToken(token string) (Claims, error) {
	return s.parseTyped(token, TokenTypeAccess)
}

func (s *JWTService) ParseRefreshToken(token string) (Claims, error) {
	return s.parseTyped(token, TokenTypeRefresh)
}

func (s *JWTService) ParseTwoFactorToken(token string) (Claims, error) {
	return s.parseTyped(token, TokenTypeTwoFactor)
}

func (s *JWTService) sign(subject TokenSubject, tokenType, jti string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:      subject.UserID,
		WorkspaceID: subject.WorkspaceID,
		SessionID:   subject.SessionID,
		Email:       subject.Email,
		TokenType:   tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    s.issuer,
			Subject:   subject.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *JWTService) parseTyped(tokenString, tokenType string) (Claims, error) {
	if len(s.secret) == 0 {
		return Claims{}, ErrJWTInvalid
	}
	if strings.TrimSpace(tokenString) == "" {
		return Claims{}, ErrJWTInvalid
	}
	claims, err := s.parseToken(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if claims.TokenType != tokenType {
		return Claims{}, ErrJWTInvalid
	}
	if !s.isValidClaims(claims) {
		return Claims{}, ErrJWTInvalid
	}
	return claims, nil
}

func (s *JWTService) parseToken(tokenString string) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	_, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrJWTExpired
		}
		return Claims{}, ErrJWTInvalid
	}
	return claims, nil
}

func (s *JWTService) isValidClaims(claims Claims) bool {
	if strings.TrimSpace(claims.UserID) == "" {
		return false
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return false
	}
	if claims.Subject != claims.UserID {
		return false
	}
	if strings.TrimSpace(claims.ID) == "" {
		return false
	}
	if claims.TokenType != TokenTypeTwoFactor && strings.TrimSpace(claims.SessionID) == "" {
		return false
	}
	return strings.TrimSpace(claims.Issuer) == s.issuer
}
