package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crm-auth/internal/service"
)

func newMiddlewareRouter(jwtSvc *service.JWTService, denyList service.AccessDenyList) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", JWTAuthMiddleware(zap.NewNop(), jwtSvc, denyList), func(c *gin.Context) {
		claims, ok := GetAuthClaims(c)
		if !ok || claims.UserID != "u1" {
			c.Status(http.StatusUnauthorized)
			return
		}
		c.Status(http.StatusOK)
	})
	return r
}

func issueAccessToken(t *testing.T, jwtSvc *service.JWTService) (string, service.Claims) {
	t.Helper()
	pair, err := jwtSvc.GeneratePair(service.TokenSubject{
		UserID:      "u1",
		Email:       "user@example.com",
		WorkspaceID: "w1",
		SessionID:   "s1",
	}, "refresh-jti")
	if err != nil {
		t.Fatalf("generate pair: %v", err)
	}
	claims, err := jwtSvc.ParseAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	return pair.AccessToken, claims
}

func TestJWTAuthMiddleware_AllowsValidAccessToken(t *testing.T) {
	jwtSvc := service.NewJWTService("secret", "crm-auth", 15*time.Minute, 30*time.Minute, 5*time.Minute)
	token, _ := issueAccessToken(t, jwtSvc)
	r := newMiddlewareRouter(jwtSvc, service.NewMemoryDenyList())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestJWTAuthMiddleware_RejectsMissingToken(t *testing.T) {
	jwtSvc := service.NewJWTService("secret", "crm-auth", 15*time.Minute, 30*time.Minute, 5*time.Minute)
	r := newMiddlewareRouter(jwtSvc, nil)

	for _, header := range []string{"", "Bearer ", "Basic abc", "token-without-scheme"} {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}

func TestJWTAuthMiddleware_RejectsRefreshToken(t *testing.T) {
	jwtSvc := service.NewJWTService("secret", "crm-auth", 15*time.Minute, 30*time.Minute, 5*time.Minute)
	pair, err := jwtSvc.GeneratePair(service.TokenSubject{UserID: "u1", SessionID: "s1"}, "refresh-jti")
	if err != nil {
		t.Fatalf("generate pair: %v", err)
	}
	r := newMiddlewareRouter(jwtSvc, nil)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+pair.RefreshToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for refresh token, got %d", rec.Code)
	}
}

func TestJWTAuthMiddleware_RejectsDenyListedToken(t *testing.T) {
	jwtSvc := service.NewJWTService("secret", "crm-auth", 15*time.Minute, 30*time.Minute, 5*time.Minute)
	token, claims := issueAccessToken(t, jwtSvc)
	denyList := service.NewMemoryDenyList()
	if err := denyList.Revoke(context.Background(), claims.ID, time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	r := newMiddlewareRouter(jwtSvc, denyList)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked token, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "token revoked") {
		t.Fatalf("expected token revoked message, got %s", body)
	}
}
