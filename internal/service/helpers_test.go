package service

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"crm-auth/internal/metrics"
	"crm-auth/internal/repository/memory"
)

const (
	testEmail    = "complete-1@example.com"
	testPassword = "TestPassword123!"
)

type captureSender struct {
	mu            sync.Mutex
	verifications map[string][]string
	resets        map[string][]string
	err           error
}

func newCaptureSender() *captureSender {
	return &captureSender{
		verifications: make(map[string][]string),
		resets:        make(map[string][]string),
	}
}

func (s *captureSender) SendVerificationEmail(_ context.Context, to, link string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.verifications[to] = append(s.verifications[to], link)
	return nil
}

func (s *captureSender) SendPasswordReset(_ context.Context, to, link string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.resets[to] = append(s.resets[to], link)
	return nil
}

func (s *captureSender) lastVerification(t *testing.T, to string) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	links := s.verifications[to]
	if len(links) == 0 {
		t.Fatalf("no verification email sent to %s", to)
	}
	return tokenFromLink(t, links[len(links)-1])
}

func (s *captureSender) lastReset(t *testing.T, to string) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	links := s.resets[to]
	if len(links) == 0 {
		t.Fatalf("no reset email sent to %s", to)
	}
	return tokenFromLink(t, links[len(links)-1])
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link %q: %v", link, err)
	}
	token := u.Query().Get("token")
	if token == "" {
		t.Fatalf("link %q has no token", link)
	}
	return token
}

type fakeOAuthProvider struct {
	profile OAuthProfile
	err     error
}

func (p *fakeOAuthProvider) Name() string { return "google" }

func (p *fakeOAuthProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (p *fakeOAuthProvider) Exchange(_ context.Context, _ string) (OAuthProfile, error) {
	return p.profile, p.err
}

type testEnv struct {
	store     *memory.Store
	jwt       *JWTService
	sessions  *SessionService
	auth      *AuthService
	twoFactor *TwoFactorService
	sender    *captureSender
	oauth     *fakeOAuthProvider
	registry  *prometheus.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	jwtSvc := NewJWTService("test-secret", "crm-auth", 15*time.Minute, time.Hour, 5*time.Minute)
	sessions := NewSessionService(nil, store.Sessions(), jwtSvc)
	sender := newCaptureSender()
	provider := &fakeOAuthProvider{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	auth := NewAuthService(nil, AuthConfig{
		AppBaseURL:        "http://app.test/",
		PasswordMinLength: 8,
	}, AuthServiceDeps{
		Users:        store.Users(),
		Workspaces:   store.Workspaces(),
		Tokens:       store.Tokens(),
		Sessions:     sessions,
		JWT:          jwtSvc,
		Email:        sender,
		EmailLimiter: allowAll{},
		OAuth:        provider,
		Metrics:      m,
	})
	twoFactor := NewTwoFactorService(nil, "CRM", store.Users(), store.BackupCodes(), sessions, jwtSvc, allowAll{}, m)

	return &testEnv{
		store:     store,
		jwt:       jwtSvc,
		sessions:  sessions,
		auth:      auth,
		twoFactor: twoFactor,
		sender:    sender,
		oauth:     provider,
		registry:  reg,
	}
}

// registerVerified crea una cuenta ACTIVE y devuelve el resultado del registro.
func (e *testEnv) registerVerified(t *testing.T, emailAddr string) AuthResult {
	t.Helper()
	ctx := context.Background()
	res, err := e.auth.Register(ctx, RegisterInput{Email: emailAddr, Password: testPassword}, Device{})
	if err != nil {
		t.Fatalf("register %s: %v", emailAddr, err)
	}
	if err := e.auth.VerifyEmail(ctx, e.sender.lastVerification(t, emailAddr)); err != nil {
		t.Fatalf("verify %s: %v", emailAddr, err)
	}
	return res
}

func (e *testEnv) login(t *testing.T, emailAddr string) LoginResult {
	t.Helper()
	res, err := e.auth.Login(context.Background(), emailAddr, testPassword, Device{UserAgent: "test-agent", IPAddress: "127.0.0.1"})
	if err != nil {
		t.Fatalf("login %s: %v", emailAddr, err)
	}
	return res
}
