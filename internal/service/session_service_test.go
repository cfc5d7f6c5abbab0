package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-auth/internal/domain"
	"crm-auth/internal/repository/memory"
)

func TestDeviceLabel(t *testing.T) {
	cases := []struct {
		ua   string
		want string
	}{
		{ua: "", want: "Unknown device"},
		{ua: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", want: "Chrome on Mac OS X"},
	}
	for _, tc := range cases {
		if got := (Device{UserAgent: tc.ua}).Label(); got != tc.want {
			t.Fatalf("Label(%q) = %q, want %q", tc.ua, got, tc.want)
		}
	}
}

func TestSessionService_RotateExpiredSession(t *testing.T) {
	store := memory.New()
	jwtSvc := NewJWTService("secret", "crm-auth", time.Minute, time.Hour, time.Minute)
	svc := NewSessionService(nil, store.Sessions(), jwtSvc)
	ctx := context.Background()
	user := domain.User{ID: "u1", Email: "user@example.com"}

	session, pair, err := svc.Create(ctx, user, "w1", Device{IPAddress: " 10.0.0.1 "})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.IPAddress != "10.0.0.1" || session.Device != "Unknown device" {
		t.Fatalf("unexpected session metadata: %+v", session)
	}
	claims, err := jwtSvc.ParseRefreshToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}

	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	if _, err := svc.Rotate(ctx, claims, user.Email); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid for expired session, got %v", err)
	}
}

func TestSessionService_RotateUnknownSession(t *testing.T) {
	store := memory.New()
	jwtSvc := NewJWTService("secret", "crm-auth", time.Minute, time.Hour, time.Minute)
	svc := NewSessionService(nil, store.Sessions(), jwtSvc)

	claims := Claims{UserID: "u1", SessionID: "missing"}
	claims.ID = "jti"
	if _, err := svc.Rotate(context.Background(), claims, ""); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
	if _, err := svc.Rotate(context.Background(), Claims{UserID: "u1"}, ""); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid without session id, got %v", err)
	}
}
